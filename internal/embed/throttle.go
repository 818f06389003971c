package embed

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// throttle bounds concurrency and, optionally, request rate.
type throttle struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// newThrottle allows maxConcurrent in-flight calls. A positive rps adds a
// token-bucket limiter with a burst of maxConcurrent.
func newThrottle(maxConcurrent int, rps float64) *throttle {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrency
	}
	t := &throttle{sem: semaphore.NewWeighted(int64(maxConcurrent))}
	if rps > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(rps), maxConcurrent)
	}
	return t
}

// acquire blocks until a slot and a rate token are available.
func (t *throttle) acquire(ctx context.Context) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			t.sem.Release(1)
			return err
		}
	}
	return nil
}

func (t *throttle) release() {
	t.sem.Release(1)
}
