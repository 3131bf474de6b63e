package fetch

import (
	"context"
	"time"
)

// Backoff is an explicit schedule of delays between retries of the same
// strategy: base × multiplier^attempt, capped. Materializing the schedule
// keeps retry behavior unit-testable without real time.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// DefaultBackoff matches the engine defaults: 500ms, doubling, capped at 8s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Multiplier: 2, Cap: 8 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
	}
	out := time.Duration(d)
	if b.Cap > 0 && out > b.Cap {
		out = b.Cap
	}
	return out
}

// Schedule materializes the first n delays.
func (b Backoff) Schedule(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.Delay(i)
	}
	return out
}

// Sleeper waits for a duration or until the context is cancelled. Injected
// so tests replace real sleeps with recorded ones.
type Sleeper func(ctx context.Context, d time.Duration) error

// RealSleeper sleeps on the wall clock, honoring cancellation.
func RealSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
