package ratelimit

import "time"

// bucket is a continuously refilling counter. Callers hold Limiter.mu.
type bucket struct {
	capacity  float64
	available float64
	last      time.Time
	window    time.Duration
}

func newBucket(capacity float64, window time.Duration, now time.Time) *bucket {
	return &bucket{capacity: capacity, available: capacity, last: now, window: window}
}

// refill adds capacity linearly over the window and resets to full once a
// whole window has elapsed. A clock that steps backwards adds nothing.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	if elapsed > b.window {
		b.available = b.capacity
		return
	}
	b.available = min(b.capacity, b.available+b.capacity*float64(elapsed)/float64(b.window))
}

// deficitWait is the time the steady refill rate needs to cover n.
func (b *bucket) deficitWait(n float64) time.Duration {
	deficit := n - b.available
	if deficit <= 0 {
		return 0
	}
	d := time.Duration(deficit / b.capacity * float64(b.window))
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}
