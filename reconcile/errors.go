package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/sentinel/exchange"
)

// DriftError marks a discrepancy between local expectation and
// exchange truth beyond what a closing transition explains. It
// triggers a forced re-sync from exchange state.
type DriftError struct {
	Symbol   string
	Expected float64
	Actual   float64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("reconcile: %s size drift, expected %.8f exchange has %.8f",
		e.Symbol, e.Expected, e.Actual)
}

// Transient reports whether err is worth retrying within the cycle.
// Exchange rejections are final for this cycle; context cancellation
// means shutdown. Everything else (timeouts, connection resets, 5xx)
// is assumed transient: the retry budget bounds the damage either way.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exchange.ErrRejected) {
		return false
	}
	if errors.Is(err, exchange.ErrAlreadyTerminal) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
