package dispatch

import (
	"context"
	"time"
)

// Limiter enforces a minimum delay between consecutive transport calls to
// stay under the provider's requests-per-second ceiling. No backoff or
// jitter: batch sizes are bounded and predictable, so a fixed delay is
// sufficient.
//
// A Limiter paces one send sequence and is not safe for concurrent use;
// each campaign's batch loop owns its own Limiter.
type Limiter struct {
	interval time.Duration
	started  bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewLimiter creates a limiter with the given inter-call interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		sleep:    sleepContext,
	}
}

// Wait blocks for the configured interval, except before the very first
// call in a sequence. Context cancellation aborts the wait early.
func (l *Limiter) Wait(ctx context.Context) {
	if !l.started {
		l.started = true
		return
	}
	l.sleep(ctx, l.interval)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
