package reconcile

import (
	"context"
	"fmt"
	"time"
)

// Retry is a bounded retry-with-backoff policy, kept separate from the
// engine so budgets are testable on their own. Exceeding the budget is
// reported to the caller, never propagated as a crash.
type Retry struct {
	Attempts    int           // total tries, including the first
	BaseBackoff time.Duration // doubled per retry
	MaxBackoff  time.Duration
	CallTimeout time.Duration // per-attempt deadline; 0 means none

	// Sleep is swappable for tests. Defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetry is a conservative budget for exchange calls.
func DefaultRetry() Retry {
	return Retry{
		Attempts:    3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Do runs fn, retrying transient failures with exponential backoff
// until the attempt budget is spent. Non-transient errors abort
// immediately.
func (r Retry) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	backoff := r.BaseBackoff
	var last error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if r.MaxBackoff > 0 && backoff > r.MaxBackoff {
				backoff = r.MaxBackoff
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.CallTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		last = err
		if !Transient(err) {
			return err
		}
	}

	return fmt.Errorf("%s: retry budget exhausted after %d attempts: %w", name, attempts, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
