package state

import (
	"fmt"
	"time"

	"github.com/rustyeddy/sentinel/exchange"
)

// SnapshotVersion is written into every snapshot. Readers ignore
// unknown fields, so bumping this is only needed for incompatible
// reshapes.
const SnapshotVersion = 1

// Phase is the per-symbol lifecycle the reconciler drives.
//
//	Flat -> Entering -> Open -> Closing -> Flat
type Phase int

const (
	PhaseFlat Phase = iota
	PhaseEntering
	PhaseOpen
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseFlat:
		return "FLAT"
	case PhaseEntering:
		return "ENTERING"
	case PhaseOpen:
		return "OPEN"
	case PhaseClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// CanTransition reports whether p -> next is a legal edge.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseFlat:
		return next == PhaseEntering
	case PhaseEntering:
		return next == PhaseOpen || next == PhaseFlat
	case PhaseOpen:
		return next == PhaseClosing
	case PhaseClosing:
		return next == PhaseFlat
	default:
		return false
	}
}

// OrderState is the locally tracked view of one of our orders.
type OrderState struct {
	Fingerprint string               `json:"fingerprint"`
	ExchangeID  string               `json:"exchange_id,omitempty"` // empty until acknowledged
	Role        exchange.Role        `json:"role"`
	Side        exchange.Side        `json:"side"`
	Status      exchange.OrderStatus `json:"status"`
	Size        float64              `json:"size"`
	Price       float64              `json:"price,omitempty"`
	Placed      time.Time            `json:"placed"`
}

// Live reports whether the order is still in play on the exchange.
func (o *OrderState) Live() bool {
	return o != nil && !o.Status.Terminal()
}

// PositionState is a tracked symbol: the expected position plus its
// protective orders. Owned exclusively by the reconcile engine and
// only mutated inside a cycle.
type PositionState struct {
	Symbol     string        `json:"symbol"`
	Phase      Phase         `json:"phase"`
	Side       exchange.Side `json:"side"`
	Size       float64       `json:"size"`
	EntryPrice float64       `json:"entry_price,omitempty"`

	// Intended protective levels, kept so lost protection can be
	// re-placed at the original prices.
	StopPrice float64 `json:"stop_price,omitempty"`
	TakePrice float64 `json:"take_price,omitempty"`

	Entry      *OrderState `json:"entry,omitempty"`
	StopLoss   *OrderState `json:"stop_loss,omitempty"`
	TakeProfit *OrderState `json:"take_profit,omitempty"`

	Updated time.Time `json:"updated"`
}

// LiveProtective returns the live STOP/TAKE_PROFIT order states.
func (p *PositionState) LiveProtective() []*OrderState {
	var live []*OrderState
	if p.StopLoss.Live() {
		live = append(live, p.StopLoss)
	}
	if p.TakeProfit.Live() {
		live = append(live, p.TakeProfit)
	}
	return live
}

// Resolved reports whether both protective orders are terminal or
// absent, the condition (together with zero size) for retiring a
// closing position.
func (p *PositionState) Resolved() bool {
	return !p.StopLoss.Live() && !p.TakeProfit.Live()
}

// Snapshot is the durable record of everything we track. The sequence
// number strictly increases on every persisted write.
type Snapshot struct {
	Version   int                       `json:"version"`
	Sequence  uint64                    `json:"sequence"`
	Time      time.Time                 `json:"time"`
	Positions map[string]*PositionState `json:"positions"`
}

// NewSnapshot returns an empty snapshot at sequence zero.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Positions: make(map[string]*PositionState),
	}
}

// Position returns the tracked state for symbol, creating a FLAT
// record if the symbol is new.
func (s *Snapshot) Position(symbol string) *PositionState {
	if p, ok := s.Positions[symbol]; ok {
		return p
	}
	p := &PositionState{Symbol: symbol, Phase: PhaseFlat}
	s.Positions[symbol] = p
	return p
}

// Transition moves a tracked symbol to the next phase, enforcing the
// legal edges. Illegal transitions are programming errors surfaced as
// errors rather than silent corruption.
func (s *Snapshot) Transition(symbol string, next Phase) error {
	p := s.Position(symbol)
	if !p.Phase.CanTransition(next) {
		return fmt.Errorf("state: illegal transition %s -> %s for %s", p.Phase, next, symbol)
	}
	p.Phase = next
	p.Updated = time.Now().UTC()
	return nil
}

// Retire archives a flat position out of the live map. The caller must
// have confirmed zero size and resolved protective orders.
func (s *Snapshot) Retire(symbol string) {
	delete(s.Positions, symbol)
}

// Clone deep-copies the snapshot so a cycle can mutate a working copy
// and only publish on successful persist.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:   s.Version,
		Sequence:  s.Sequence,
		Time:      s.Time,
		Positions: make(map[string]*PositionState, len(s.Positions)),
	}
	for sym, p := range s.Positions {
		cp := *p
		if p.Entry != nil {
			o := *p.Entry
			cp.Entry = &o
		}
		if p.StopLoss != nil {
			o := *p.StopLoss
			cp.StopLoss = &o
		}
		if p.TakeProfit != nil {
			o := *p.TakeProfit
			cp.TakeProfit = &o
		}
		out.Positions[sym] = &cp
	}
	return out
}

// LiveFingerprints returns the fingerprints of all non-terminal orders,
// used to enforce that no two live orders share one.
func (s *Snapshot) LiveFingerprints() map[string]string {
	fps := make(map[string]string)
	for sym, p := range s.Positions {
		for _, o := range []*OrderState{p.Entry, p.StopLoss, p.TakeProfit} {
			if o.Live() {
				fps[o.Fingerprint] = sym
			}
		}
	}
	return fps
}
