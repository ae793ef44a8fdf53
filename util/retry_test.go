package util

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestWaitForRetry(t *testing.T) {
	canceled := func() context.Context {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	cases := []struct {
		name  string
		ctx   func() context.Context
		delay time.Duration
		want  bool
	}{
		{name: "zero delay on live context", ctx: context.Background, want: true},
		{name: "zero delay on canceled context", ctx: canceled, want: false},
		{name: "short delay elapses", ctx: context.Background, delay: 5 * time.Millisecond, want: true},
		{name: "canceled context cuts the wait", ctx: canceled, delay: time.Minute, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			if got := WaitForRetry(tc.ctx(), tc.delay); got != tc.want {
				t.Fatalf("unexpected result: got=%v want=%v", got, tc.want)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Fatalf("wait took %v", elapsed)
			}
		})
	}
}

func TestJitterRetryDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	if got := JitterRetryDelay(0, rng); got != 0 {
		t.Fatalf("zero base changed to %v", got)
	}
	if got := JitterRetryDelay(time.Second, nil); got != time.Second {
		t.Fatalf("nil rng changed base to %v", got)
	}
	for i := 0; i < 100; i++ {
		got := JitterRetryDelay(time.Second, rng)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("delay %v outside 20%% of base", got)
		}
	}
}

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		name    string
		current time.Duration
		min     time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{name: "first delay is min", min: 200 * time.Millisecond, max: 5 * time.Second, want: 200 * time.Millisecond},
		{name: "doubles", current: 400 * time.Millisecond, min: 200 * time.Millisecond, max: 5 * time.Second, want: 800 * time.Millisecond},
		{name: "capped", current: 4 * time.Second, min: 200 * time.Millisecond, max: 5 * time.Second, want: 5 * time.Second},
		{name: "non-positive min becomes one millisecond", max: time.Second, want: time.Millisecond},
		{name: "max below min is raised to min", current: time.Second, min: 3 * time.Second, max: time.Second, want: 3 * time.Second},
		{name: "overflow is capped", current: time.Duration(math.MaxInt64 / 2), min: time.Millisecond, max: 5 * time.Second, want: 5 * time.Second},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := NextRetryDelay(tc.current, tc.min, tc.max); got != tc.want {
				t.Fatalf("unexpected next delay: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 400*time.Millisecond, 1)
	within := func(got, base time.Duration) bool {
		return got >= base-base/5 && got <= base+base/5
	}

	for i, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond} {
		if got := b.Next(); !within(got, base) {
			t.Fatalf("step %d: delay %v not within 20%% of %v", i, got, base)
		}
	}

	b.Reset()
	if got := b.Next(); !within(got, 100*time.Millisecond) {
		t.Fatalf("delay after reset %v not within 20%% of min", got)
	}
}
