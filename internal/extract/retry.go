package extract

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy runs an operation a bounded number of times with a backoff
// between attempts. It is independent of how the wait is implemented.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the wait after the failed attempt with zero-based index n.
	Backoff func(n int) time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExponentialBackoff waits base * 2^n after the n-th failed attempt.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(n int) time.Duration {
		return base << uint(n)
	}
}

// DefaultRetryPolicy makes three attempts waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Second)}
}

// Do calls fn until it succeeds or attempts run out, and reports how many
// attempts were made. The last failure is returned unchanged. Context errors
// stop the loop immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for n := 0; n < attempts; n++ {
		if err = fn(ctx, n+1); err == nil {
			return n + 1, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return n + 1, err
		}
		if n == attempts-1 {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(n)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return n + 1, serr
		}
	}
	return attempts, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
