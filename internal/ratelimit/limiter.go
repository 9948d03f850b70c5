// Package ratelimit provides token-bucket admission control for outbound LLM calls.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWindow = time.Minute
	defaultMargin = 100 * time.Millisecond
)

// Clock abstracts wall time so tests can drive refills deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
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

// SystemClock returns the process wall clock.
func SystemClock() Clock { return systemClock{} }

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	Granted      int64
	Reservations int64
	Waits        int64
	Clamped      int64
	WaitedTotal  time.Duration
}

// Limiter admits callers against a token budget and, optionally, a request
// budget. Both buckets share one lock so refill-then-debit is atomic across them.
type Limiter struct {
	mu       sync.Mutex
	tokens   *bucket
	requests *bucket
	stats    Stats

	clock  Clock
	window time.Duration
	margin time.Duration
	rpm    int
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithWindow sets the refill window. Capacity refills fully over one window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithSafetyMargin pads every computed wait.
func WithSafetyMargin(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.margin = d
		}
	}
}

// WithRequestQuota enables a parallel request-count bucket.
func WithRequestQuota(perWindow int) Option {
	return func(l *Limiter) { l.rpm = perWindow }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a limiter whose token bucket holds tokensPerWindow and starts full.
func New(tokensPerWindow int, opts ...Option) *Limiter {
	l := &Limiter{
		clock:  systemClock{},
		window: defaultWindow,
		margin: defaultMargin,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if tokensPerWindow < 1 {
		tokensPerWindow = 1
	}
	now := l.clock.Now()
	l.tokens = newBucket(float64(tokensPerWindow), l.window, now)
	if l.rpm > 0 {
		l.requests = newBucket(float64(l.rpm), l.window, now)
	}
	return l
}

// Reserve blocks until n tokens (and one request slot, when a request quota
// is configured) are available, then debits them. Requests larger than the
// bucket are clamped to its capacity so they are satisfied by a full bucket.
// The only error returned is ctx's.
func (l *Limiter) Reserve(ctx context.Context, n int) error {
	want := float64(max(n, 0))
	if want > l.tokens.capacity {
		l.logger.Warn("ratelimit.reserve.clamped", "requested", n, "capacity", int(l.tokens.capacity))
		want = l.tokens.capacity
		l.mu.Lock()
		l.stats.Clamped++
		l.mu.Unlock()
	}

	for {
		wait, ok := l.tryTake(want)
		if ok {
			return nil
		}
		sleep := wait + l.margin
		l.logger.Debug("ratelimit.reserve.wait", "tokens", int(want), "wait_ms", sleep.Milliseconds())
		l.mu.Lock()
		l.stats.Waits++
		l.stats.WaitedTotal += sleep
		l.mu.Unlock()
		if err := l.clock.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

// tryTake debits want tokens when every bucket can cover it, otherwise it
// returns how long the slowest bucket needs to refill its deficit.
func (l *Limiter) tryTake(want float64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.tokens.refill(now)
	wait := l.tokens.deficitWait(want)
	if l.requests != nil {
		l.requests.refill(now)
		wait = max(wait, l.requests.deficitWait(1))
	}
	if wait > 0 {
		return wait, false
	}

	l.tokens.available -= want
	if l.requests != nil {
		l.requests.available--
	}
	l.stats.Granted += int64(want)
	l.stats.Reservations++
	return 0, true
}

// Available reports the tokens currently in the bucket after refill.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens.refill(l.clock.Now())
	return int(l.tokens.available)
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
