package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives a function on a fixed period with skip-if-busy
// semantics: if a run overlaps the next tick, that tick is dropped,
// never queued. Shutdown happens only between runs, so a snapshot
// write is never interrupted mid-cycle.
type Scheduler struct {
	Interval time.Duration
	Log      *slog.Logger

	// OnSkip is called when a tick is dropped. Optional.
	OnSkip func()
}

// Run blocks until ctx is cancelled. fn errors are the fn's own
// business (the engine feeds them to the kill switch); the scheduler
// keeps ticking regardless.
func (s Scheduler) Run(ctx context.Context, fn func(ctx context.Context)) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fn(ctx)

		// Drop any tick that fired while fn was running. Without this
		// a slow cycle would be chased immediately by a queued one.
		select {
		case <-ticker.C:
			log.Debug("cycle overran its interval, skipping a tick")
			if s.OnSkip != nil {
				s.OnSkip()
			}
		default:
		}

		// Cancellation between cycles, never mid-cycle.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
