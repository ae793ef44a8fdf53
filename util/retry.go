package util

import (
	"context"
	"math/rand"
	"time"
)

// WaitForRetry sleeps for d and reports false if ctx ends first.
func WaitForRetry(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// JitterRetryDelay spreads base by up to 20% either way.
func JitterRetryDelay(base time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 || rng == nil {
		return base
	}
	spread := base / 5
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rng.Int63n(int64(spread)*2+1)) - spread
}

// NextRetryDelay doubles current, starting at min and never above max.
func NextRetryDelay(current, min, max time.Duration) time.Duration {
	if min <= 0 {
		min = time.Millisecond
	}
	if max < min {
		max = min
	}
	if current <= 0 {
		return min
	}
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}

// Backoff yields jittered exponential delays between min and max.
// A Backoff is not safe for concurrent use; give each worker its own.
type Backoff struct {
	min, max time.Duration
	current  time.Duration
	rng      *rand.Rand
}

func NewBackoff(min, max time.Duration, seed int64) *Backoff {
	return &Backoff{min: min, max: max, rng: rand.New(rand.NewSource(seed))}
}

// Next advances the schedule. The jitter is applied after the cap.
func (b *Backoff) Next() time.Duration {
	b.current = NextRetryDelay(b.current, b.min, b.max)
	return JitterRetryDelay(b.current, b.rng)
}

// Reset restarts the schedule at min.
func (b *Backoff) Reset() {
	b.current = 0
}
