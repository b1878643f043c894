package reconcile

import (
	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/state"
)

// FindOrphans returns the exchange orders that are protective-role but
// reference no OPEN or CLOSING local position. Policy: orphans are
// cancelled unconditionally, never resubmitted.
//
// Symbols in ENTERING are deferred one cycle rather than swept: the
// entry fill report and the order-list fetch can race, and cancelling
// an in-flight entry's freshly placed protection would re-orphan the
// position we are about to own.
func FindOrphans(orders []exchange.Order, snap *state.Snapshot) []exchange.Order {
	var orphans []exchange.Order
	for _, o := range orders {
		if !o.Role.Protective() {
			continue
		}
		pos, tracked := snap.Positions[o.Symbol]
		if !tracked {
			orphans = append(orphans, o)
			continue
		}
		switch pos.Phase {
		case state.PhaseOpen, state.PhaseClosing:
			// Owned; protected orders belong here.
		case state.PhaseEntering:
			// Defer one cycle.
		default:
			orphans = append(orphans, o)
		}
	}
	return orphans
}
