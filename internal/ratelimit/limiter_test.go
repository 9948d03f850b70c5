package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when a caller sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func TestReserveWithinCapacityNeverBlocks(t *testing.T) {
	clock := newFakeClock()
	l := New(1000, WithClock(clock))

	for _, n := range []int{100, 250, 400, 250} {
		if err := l.Reserve(context.Background(), n); err != nil {
			t.Fatalf("Reserve(%d): %v", n, err)
		}
	}
	if got := clock.sleepCount(); got != 0 {
		t.Fatalf("expected no sleeps, got %d", got)
	}
	if got := l.Available(); got != 0 {
		t.Errorf("Available() = %d, want 0", got)
	}
}

func TestReserveWaitsForDeficit(t *testing.T) {
	clock := newFakeClock()
	l := New(600, WithClock(clock), WithSafetyMargin(0))

	if err := l.Reserve(context.Background(), 600); err != nil {
		t.Fatal(err)
	}
	if err := l.Reserve(context.Background(), 60); err != nil {
		t.Fatal(err)
	}

	// 60 tokens at 600/min take six seconds.
	if len(clock.sleeps) != 1 {
		t.Fatalf("expected one sleep, got %v", clock.sleeps)
	}
	if got := clock.sleeps[0]; got != 6*time.Second {
		t.Errorf("sleep = %v, want 6s", got)
	}
}

func TestReserveOversizeCompletes(t *testing.T) {
	clock := newFakeClock()
	l := New(100, WithClock(clock))

	if err := l.Reserve(context.Background(), 40); err != nil {
		t.Fatal(err)
	}
	if err := l.Reserve(context.Background(), 101); err != nil {
		t.Fatalf("Reserve(capacity+1): %v", err)
	}
	if st := l.Stats(); st.Clamped != 1 {
		t.Errorf("Clamped = %d, want 1", st.Clamped)
	}
}

func TestRefillResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(100, WithClock(clock))

	if err := l.Reserve(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Second)
	if got := l.Available(); got != 50 {
		t.Errorf("after half window Available() = %d, want 50", got)
	}
	clock.Advance(2 * time.Minute)
	if got := l.Available(); got != 100 {
		t.Errorf("after full window Available() = %d, want 100", got)
	}
}

func TestClockGoingBackwardsAddsNothing(t *testing.T) {
	clock := newFakeClock()
	l := New(100, WithClock(clock))
	if err := l.Reserve(context.Background(), 80); err != nil {
		t.Fatal(err)
	}
	clock.Advance(-time.Hour)
	if got := l.Available(); got != 20 {
		t.Errorf("Available() = %d, want 20", got)
	}
}

func TestConcurrentReserveNeverOversubscribes(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := New(100, WithClock(clock), WithSafetyMargin(0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(context.Background(), 30); err != nil {
				t.Errorf("Reserve: %v", err)
			}
		}()
	}
	wg.Wait()

	st := l.Stats()
	if st.Granted != 600 {
		t.Fatalf("Granted = %d, want 600", st.Granted)
	}
	elapsed := clock.Now().Sub(start)
	refilled := 100 + int64(float64(100)*elapsed.Minutes())
	if st.Granted > refilled {
		t.Errorf("granted %d tokens but only %d were ever available", st.Granted, refilled)
	}
}

func TestRequestQuotaLimitsCalls(t *testing.T) {
	clock := newFakeClock()
	l := New(1000000, WithClock(clock), WithRequestQuota(2), WithSafetyMargin(0))

	for i := 0; i < 2; i++ {
		if err := l.Reserve(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
	}
	if clock.sleepCount() != 0 {
		t.Fatalf("unexpected sleep before request quota exhausted")
	}
	if err := l.Reserve(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if clock.sleepCount() == 0 {
		t.Fatalf("third request should have waited for the request bucket")
	}
}

func TestReserveHonorsCancellation(t *testing.T) {
	l := New(10, WithWindow(time.Hour))
	if err := l.Reserve(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Reserve(ctx, 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got := l.Available(); got != 0 {
		t.Errorf("cancelled reserve must not debit, Available() = %d", got)
	}
}
