package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying with a fast config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("persistent error")
	}

	// When: retrying with 2 retries
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2.0}
	err := Retry(context.Background(), cfg, fn)

	// Then: the initial attempt plus 2 retries ran and the last error is wrapped
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Contains(t, err.Error(), "persistent error")
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	fn := func() error {
		attempts++
		cancel()
		return errors.New("error")
	}

	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Second, Multiplier: 2.0}
	err := Retry(ctx, cfg, fn)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), MetadataRetryConfig(), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("throttled")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithResult_ReturnsZeroOnFailure(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 2.0}
	result, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		return 42, errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 0, result)
}

func TestRetryConfig_Delay_DoublesFromBase(t *testing.T) {
	cfg := MetadataRetryConfig()

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(3))
}

func TestRetryConfig_Delay_CapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0}

	assert.Equal(t, 3*time.Second, cfg.Delay(5))
}

func TestRetryConfig_Delay_JitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: true}

	for i := 0; i < 20; i++ {
		d := cfg.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestPresetConfigs_AttemptBudgets(t *testing.T) {
	// 5 metadata attempts, 3 unprocessed-key attempts
	assert.Equal(t, 4, MetadataRetryConfig().MaxRetries)
	assert.Equal(t, 2, UnprocessedRetryConfig().MaxRetries)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
