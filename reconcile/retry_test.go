package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sentinel/exchange"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrySucceedsWithinBudget(t *testing.T) {
	t.Parallel()
	r := Retry{Attempts: 3, BaseBackoff: time.Millisecond, Sleep: noSleep}

	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	r := Retry{Attempts: 3, BaseBackoff: time.Millisecond, Sleep: noSleep}

	calls := 0
	cause := errors.New("still down")
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryNonTransientAbortsImmediately(t *testing.T) {
	t.Parallel()
	r := Retry{Attempts: 5, BaseBackoff: time.Millisecond, Sleep: noSleep}

	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fmt.Errorf("bad qty: %w", exchange.ErrRejected)
	})
	assert.ErrorIs(t, err, exchange.ErrRejected)
	assert.Equal(t, 1, calls, "rejection is not retried")
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()
	var waits []time.Duration
	r := Retry{
		Attempts:    5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  300 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	_ = r.Do(context.Background(), "op", func(context.Context) error {
		return errors.New("down")
	})
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, waits)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	r := Retry{Attempts: 5, BaseBackoff: time.Millisecond}

	calls := 0
	err := r.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no retry after shutdown")
}

func TestTransientClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rejected", exchange.ErrRejected, false},
		{"wrapped rejected", fmt.Errorf("place: %w", exchange.ErrRejected), false},
		{"already terminal", exchange.ErrAlreadyTerminal, false},
		{"cancelled", context.Canceled, false},
		{"timeout", context.DeadlineExceeded, true},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}
