package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONStatus(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "x", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	assert.False(t, CheckResult{Status: StatusPass, Required: true}.IsCritical())
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail, Required: false}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
}

func TestCheckInputPath(t *testing.T) {
	c := New()

	t.Run("missing", func(t *testing.T) {
		r := c.CheckInputPath(filepath.Join(t.TempDir(), "nope"))
		assert.Equal(t, StatusFail, r.Status)
	})

	t.Run("file not dir", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "f.txt")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		r := c.CheckInputPath(p)
		assert.Equal(t, StatusFail, r.Status)
		assert.Contains(t, r.Message, "not a directory")
	})

	t.Run("empty", func(t *testing.T) {
		r := c.CheckInputPath(t.TempDir())
		assert.Equal(t, StatusWarn, r.Status)
	})

	t.Run("populated", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
		r := c.CheckInputPath(dir)
		assert.Equal(t, StatusPass, r.Status)
		assert.Contains(t, r.Message, "1 entries")
	})
}

func TestCheckWritePermissions_CreatesDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "data", "nested")

	// When: checking write permissions
	r := New().CheckWritePermissions(dir)

	// Then: it is created and passes without leaving files behind
	assert.Equal(t, StatusPass, r.Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckDiskSpace_TempDir(t *testing.T) {
	r := New().CheckDiskSpace(t.TempDir())
	assert.NotEqual(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "free")
}

func TestRunProbe(t *testing.T) {
	c := New(WithProbeTimeout(50 * time.Millisecond))
	ctx := context.Background()

	t.Run("pass with default message", func(t *testing.T) {
		r := c.RunProbe(ctx, Probe{Name: "p", Run: func(context.Context) (string, error) { return "", nil }})
		assert.Equal(t, StatusPass, r.Status)
		assert.Equal(t, "OK", r.Message)
	})

	t.Run("required failure", func(t *testing.T) {
		r := c.RunProbe(ctx, Probe{Name: "p", Required: true, Run: func(context.Context) (string, error) {
			return "", errors.New("connection refused")
		}})
		assert.True(t, r.IsCritical())
		assert.Equal(t, "connection refused", r.Message)
	})

	t.Run("optional failure warns", func(t *testing.T) {
		r := c.RunProbe(ctx, Probe{Name: "p", Run: func(context.Context) (string, error) {
			return "", errors.New("slow")
		}})
		assert.Equal(t, StatusWarn, r.Status)
	})

	t.Run("timeout", func(t *testing.T) {
		r := c.RunProbe(ctx, Probe{Name: "p", Required: true, Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}})
		assert.Equal(t, StatusFail, r.Status)
		assert.Contains(t, r.Message, "deadline")
	})
}

func TestRunAll_AndSummary(t *testing.T) {
	// Given: a populated corpus, a writable data dir and one failing optional probe
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "a.txt"), []byte("x"), 0o644))
	var buf bytes.Buffer
	c := New(WithOutput(&buf), WithVerbose(true))

	// When: running all checks
	results := c.RunAll(context.Background(), Target{InputPath: input, DataDir: t.TempDir()},
		Probe{Name: "embedder", Run: func(context.Context) (string, error) { return "", errors.New("unreachable") }},
	)
	c.PrintResults(results)

	// Then: system checks come first and the probe only warns
	require.Len(t, results, 5)
	assert.Equal(t, "input_path", results[0].Name)
	assert.Equal(t, "embedder", results[4].Name)
	assert.False(t, c.HasCriticalFailures(results))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus(results))
	assert.Contains(t, buf.String(), "[WARN] embedder: unreachable")
	assert.Contains(t, buf.String(), "Status: READY_WITH_WARNINGS")
}

func TestSummaryStatus(t *testing.T) {
	c := New()
	assert.Equal(t, "ready", c.SummaryStatus([]CheckResult{{Status: StatusPass}}))
	assert.Equal(t, "failed", c.SummaryStatus([]CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
