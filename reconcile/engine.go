// Package reconcile keeps the local model of positions and protective
// orders consistent with the exchange's authoritative state. The
// engine runs one reconciliation cycle at a time: fetch exchange
// truth, compare against the snapshot, clean up strays, persist, and
// consult the kill switch before every mutating call.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/guard"
	"github.com/rustyeddy/sentinel/internal/id"
	"github.com/rustyeddy/sentinel/ledger"
	"github.com/rustyeddy/sentinel/metrics"
	"github.com/rustyeddy/sentinel/notify"
	"github.com/rustyeddy/sentinel/state"
)

// driftFreeEvery is the cadence (in clean cycles) of the periodic
// "everything reconciled" confirmation log.
const driftFreeEvery = 12

// defaultEntryTimeout bounds how long an unacknowledged entry may sit
// in ENTERING before the engine gives up on it.
const defaultEntryTimeout = 2 * time.Minute

type Params struct {
	Gateway    exchange.Gateway
	Store      state.Store
	KillSwitch *guard.KillSwitch
	Ledger     ledger.Ledger
	Notifier   notify.Notifier
	Retry      Retry
	Log        *slog.Logger

	Symbols      []string
	SizeEpsilon  float64 // sizes closer than this are equal
	SafetyMargin float64 // quote notional; untracked positions above it are catastrophic
	EntryTimeout time.Duration
}

type Engine struct {
	gw       exchange.Gateway
	store    state.Store
	ks       *guard.KillSwitch
	ledger   ledger.Ledger
	notifier notify.Notifier
	retry    Retry
	log      *slog.Logger

	symbols      []string
	sizeEpsilon  float64
	safetyMargin float64
	entryTimeout time.Duration

	mu          sync.Mutex
	snap        *state.Snapshot
	cleanCycles int
	pendingSave bool
	flagged     map[string]bool // external positions already warned about
	wasTripped  bool
	driftCycle  bool

	// Ledger rows and notifications staged during the current cycle.
	// They reach the sinks only when the cycle's state is committed;
	// a discarded working snapshot leaves no stray audit rows behind.
	staged      []ledger.Entry
	stagedNotes []stagedNote
}

type stagedNote struct {
	sev notify.Severity
	msg string
}

func New(p Params) *Engine {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Ledger == nil {
		p.Ledger = ledger.Nop{}
	}
	if p.Notifier == nil {
		p.Notifier = notify.Slog{Log: p.Log}
	}
	if p.SizeEpsilon <= 0 {
		p.SizeEpsilon = 1e-9
	}
	if p.SafetyMargin <= 0 {
		p.SafetyMargin = 10
	}
	if p.EntryTimeout <= 0 {
		p.EntryTimeout = defaultEntryTimeout
	}
	if p.Retry.Attempts == 0 {
		p.Retry = DefaultRetry()
	}
	wasTripped := p.KillSwitch != nil && p.KillSwitch.Tripped()
	if wasTripped {
		metrics.KillSwitchTripped.Set(1)
	}
	return &Engine{
		gw:           p.Gateway,
		store:        p.Store,
		ks:           p.KillSwitch,
		ledger:       p.Ledger,
		notifier:     p.Notifier,
		retry:        p.Retry,
		log:          p.Log,
		symbols:      p.Symbols,
		sizeEpsilon:  p.SizeEpsilon,
		safetyMargin: p.SafetyMargin,
		entryTimeout: p.EntryTimeout,
		flagged:      make(map[string]bool),
		wasTripped:   wasTripped,
	}
}

// Snapshot returns a deep copy of the current snapshot, for inspection.
func (e *Engine) Snapshot() *state.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return state.NewSnapshot()
	}
	return e.snap.Clone()
}

// Recover loads the persisted snapshot and validates it against
// exchange truth. A corrupt snapshot is fatal: recovery cannot proceed
// blindly, and the error is returned for main to halt on. A missing
// snapshot is rebuilt entirely from exchange state and persisted.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Load()
	switch {
	case err == nil:
		e.log.Info("snapshot loaded", "sequence", snap.Sequence, "positions", len(snap.Positions))
		e.snap = snap
		metrics.SnapshotSequence.Set(float64(snap.Sequence))
		return nil

	case errors.Is(err, state.ErrNotFound):
		e.log.Warn("no snapshot on disk, rebuilding from exchange truth")
		rebuilt, rerr := e.rebuildFromExchange(ctx)
		if rerr != nil {
			return fmt.Errorf("recover: rebuild from exchange: %w", rerr)
		}
		rebuilt.Sequence = 1
		if serr := e.store.Save(rebuilt); serr != nil {
			return fmt.Errorf("recover: persist rebuilt snapshot: %w", serr)
		}
		metrics.SnapshotSequence.Set(float64(rebuilt.Sequence))
		e.snap = rebuilt
		return nil

	default:
		// CorruptError, permission problems, anything else: halt.
		return fmt.Errorf("recover: %w", err)
	}
}

// rebuildFromExchange constructs a snapshot from nothing but exchange
// state, adopting live positions and their protective orders.
func (e *Engine) rebuildFromExchange(ctx context.Context) (*state.Snapshot, error) {
	snap := state.NewSnapshot()

	for _, sym := range e.symbols {
		pos, orders, err := e.fetchSymbol(ctx, sym)
		if err != nil {
			return nil, err
		}
		if pos.Size <= e.sizeEpsilon {
			continue
		}

		ps := snap.Position(sym)
		ps.Phase = state.PhaseOpen
		ps.Side = pos.Side
		ps.Size = pos.Size
		ps.EntryPrice = pos.EntryPrice
		ps.Updated = time.Now().UTC()

		for i := range orders {
			o := orders[i]
			if !o.Role.Protective() {
				continue
			}
			fp := o.Fingerprint
			if fp == "" {
				fp = "ADOPTED:" + o.ExchangeID
			}
			adopted := &state.OrderState{
				Fingerprint: fp,
				ExchangeID:  o.ExchangeID,
				Role:        o.Role,
				Side:        o.Side,
				Status:      exchange.StatusOpen,
				Size:        o.Size,
				Price:       o.Price,
				Placed:      o.Created,
			}
			switch o.Role {
			case exchange.Stop:
				ps.StopLoss = adopted
				ps.StopPrice = o.Price
			case exchange.TakeProfit:
				ps.TakeProfit = adopted
				ps.TakePrice = o.Price
			}
		}
		e.log.Info("adopted exchange position",
			"symbol", sym, "side", pos.Side.String(), "size", pos.Size)
	}

	return snap, nil
}

// Cycle runs one full reconciliation pass. Any exchange failure fails
// the cycle (counted toward the kill switch) but never the process;
// the next scheduled tick retries.
func (e *Engine) Cycle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap == nil {
		return errors.New("reconcile: cycle before recover")
	}

	cycleID := id.Short()
	e.driftCycle = false
	if err := e.cycle(ctx, cycleID); err != nil {
		e.discardStaged()
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-cycle is not an exchange failure; it must
			// not count toward the kill switch.
			e.log.Info("cycle aborted by shutdown", "cycle", cycleID)
			return err
		}
		kind := guard.FailureNetwork
		if errors.Is(err, exchange.ErrRejected) {
			kind = guard.FailureExchange
		}
		metrics.Cycles.WithLabelValues("failed").Inc()
		metrics.CycleFailures.WithLabelValues(string(kind)).Inc()
		e.cleanCycles = 0
		if e.ks.RecordFailure(kind) {
			e.onTrip()
		}
		e.log.Error("cycle failed", "cycle", cycleID, "error", err)
		return err
	}

	e.commitStaged(cycleID)
	metrics.Cycles.WithLabelValues("ok").Inc()
	if !e.driftCycle {
		// A cycle that resynced drift already counted a failure; do not
		// let it clear the streak in the same breath.
		e.ks.RecordSuccess()
	}
	return nil
}

func (e *Engine) cycle(ctx context.Context, cycleID string) error {
	work := e.snap.Clone()
	dirty := e.pendingSave

	// Track every configured symbol plus anything already in the
	// snapshot (a symbol removed from config keeps being reconciled
	// until its position retires).
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range e.symbols {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	for s := range work.Positions {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}

	var allOrders []exchange.Order
	for _, sym := range symbols {
		pos, orders, err := e.fetchSymbol(ctx, sym)
		if err != nil {
			return err
		}
		allOrders = append(allOrders, orders...)

		changed, err := e.reconcileSymbol(ctx, cycleID, work, sym, pos, orders)
		if err != nil {
			return err
		}
		dirty = dirty || changed
	}

	// Ownership is judged against the phases as of cycle start: a
	// position retired above already had its survivors cancelled, and
	// re-flagging them here would double-count.
	changed, err := e.sweepOrphans(ctx, cycleID, e.snap, allOrders)
	if err != nil {
		return err
	}
	dirty = dirty || changed

	if dirty {
		work.Sequence++
		if err := e.store.Save(work); err != nil {
			// Decisions already made stand; the save is retried next
			// cycle and escalates to the kill switch if persistent.
			e.log.Error("snapshot save failed, will retry", "cycle", cycleID, "error", err)
			work.Sequence-- // not durable; do not burn the number
			e.pendingSave = true
			if e.ks.RecordFailure(guard.FailureStorage) {
				e.onTrip()
			}
		} else {
			e.pendingSave = false
			metrics.SnapshotSequence.Set(float64(work.Sequence))
		}
		e.snap = work
		e.cleanCycles = 0
		return nil
	}

	e.snap = work
	e.cleanCycles++
	if e.cleanCycles%driftFreeEvery == 0 {
		e.log.Info("reconciled drift-free", "cycle", cycleID,
			"positions", len(work.Positions), "clean_cycles", e.cleanCycles)
	}
	return nil
}

// fetchSymbol pulls position and open orders for one symbol under the
// retry budget.
func (e *Engine) fetchSymbol(ctx context.Context, sym string) (exchange.Position, []exchange.Order, error) {
	var pos exchange.Position
	err := e.retry.Do(ctx, "get position "+sym, func(ctx context.Context) error {
		var err error
		pos, err = e.gw.GetPosition(ctx, sym)
		return err
	})
	if err != nil {
		return exchange.Position{}, nil, err
	}

	var orders []exchange.Order
	err = e.retry.Do(ctx, "get open orders "+sym, func(ctx context.Context) error {
		var err error
		orders, err = e.gw.GetOpenOrders(ctx, sym)
		return err
	})
	if err != nil {
		return exchange.Position{}, nil, err
	}
	return pos, orders, nil
}

func (e *Engine) reconcileSymbol(ctx context.Context, cycleID string, snap *state.Snapshot,
	sym string, exPos exchange.Position, exOrders []exchange.Order) (bool, error) {

	ps, tracked := snap.Positions[sym]
	if !tracked || ps.Phase == state.PhaseFlat {
		return e.reconcileFlat(cycleID, sym, exPos)
	}

	switch ps.Phase {
	case state.PhaseEntering:
		return e.reconcileEntering(ctx, cycleID, snap, ps, exPos, exOrders)
	case state.PhaseOpen:
		return e.reconcileOpen(ctx, cycleID, snap, ps, exPos, exOrders)
	case state.PhaseClosing:
		return e.reconcileClosing(ctx, cycleID, snap, ps, exPos, exOrders)
	}
	return false, nil
}

// reconcileFlat watches a symbol we hold nothing on. External entries
// are flagged, not acted on; a large one means our state is wrong and
// trips the kill switch.
func (e *Engine) reconcileFlat(cycleID, sym string, exPos exchange.Position) (bool, error) {
	if exPos.Size <= e.sizeEpsilon {
		if e.flagged[sym] {
			delete(e.flagged, sym)
		}
		return false, nil
	}

	notional := exPos.Size * exPos.EntryPrice
	if notional > e.safetyMargin {
		reason := fmt.Sprintf("local state flat but exchange reports %s %.8f %s (notional %.2f)",
			exPos.Side, exPos.Size, sym, notional)
		e.ks.Catastrophic(reason)
		e.onTrip()
		metrics.DriftEvents.WithLabelValues("catastrophic").Inc()
		return false, nil
	}

	if !e.flagged[sym] {
		e.flagged[sym] = true
		metrics.DriftEvents.WithLabelValues("external_position").Inc()
		e.log.Warn("untracked exchange position, watching only",
			"cycle", cycleID, "symbol", sym, "size", exPos.Size)
		e.notifier.Notify(notify.Warn,
			fmt.Sprintf("untracked %s position on %s (size %.8f), not managed by this process",
				exPos.Side, sym, exPos.Size))
	}
	return false, nil
}

// reconcileEntering resolves an entry order: filled, still pending, or
// abandoned. The ambiguous-timeout case is resolved by looking the
// fingerprint up among the exchange's open orders before any retry.
func (e *Engine) reconcileEntering(ctx context.Context, cycleID string, snap *state.Snapshot,
	ps *state.PositionState, exPos exchange.Position, exOrders []exchange.Order) (bool, error) {

	entry := ps.Entry
	if entry == nil {
		// Should not happen; repair by reverting.
		e.log.Error("ENTERING with no entry order, reverting", "symbol", ps.Symbol)
		if err := snap.Transition(ps.Symbol, state.PhaseFlat); err != nil {
			return false, err
		}
		snap.Retire(ps.Symbol)
		return true, nil
	}

	// Entry filled: the exchange reports our position.
	if exPos.Size > e.sizeEpsilon {
		entry.Status = exchange.StatusFilled
		e.stageLedger(ledger.OutcomeEntry(entry.Fingerprint, cycleID, ledger.OutcomeFilled))

		ps.Size = exPos.Size
		ps.EntryPrice = exPos.EntryPrice
		if err := snap.Transition(ps.Symbol, state.PhaseOpen); err != nil {
			return false, err
		}
		e.log.Info("entry filled", "cycle", cycleID, "symbol", ps.Symbol,
			"size", ps.Size, "entry_price", ps.EntryPrice)
		e.stageNote(notify.Info,
			fmt.Sprintf("%s entry filled: %s %.8f @ %.2f", ps.Symbol, ps.Side, ps.Size, ps.EntryPrice))

		if err := e.ensureProtection(ctx, cycleID, snap, ps, exOrders); err != nil {
			return true, err
		}
		return true, nil
	}

	// Not filled. Is the entry order resting on the exchange?
	if live := findByFingerprint(exOrders, entry.Fingerprint); live != nil {
		if entry.ExchangeID == "" {
			// The ambiguous placement landed after all.
			entry.ExchangeID = live.ExchangeID
			entry.Status = exchange.StatusOpen
			e.stageLedger(ledger.AckEntry(entry.Fingerprint, cycleID, live.ExchangeID))
			e.log.Info("ambiguous entry resolved as placed",
				"cycle", cycleID, "symbol", ps.Symbol, "fingerprint", entry.Fingerprint)
			return true, nil
		}
		return false, nil // still pending, nothing to do
	}

	// No fill, no resting order.
	if entry.ExchangeID == "" && time.Since(entry.Placed) < e.entryTimeout {
		// Ambiguous placement that did not land: safe to retry with
		// the same fingerprint, the client order id dedupes.
		if !e.mutationsAllowed(cycleID) {
			return false, nil
		}
		ack, err := e.placeOrder(ctx, cycleID, exchange.OrderSpec{
			Symbol:      ps.Symbol,
			Role:        exchange.Entry,
			Side:        ps.Side,
			Size:        entry.Size,
			Fingerprint: entry.Fingerprint,
		})
		if err != nil {
			if errors.Is(err, exchange.ErrRejected) {
				return e.abandonEntry(cycleID, snap, ps, entry)
			}
			return false, err
		}
		entry.ExchangeID = ack.ExchangeID
		entry.Status = exchange.StatusOpen
		return true, nil
	}

	if time.Since(entry.Placed) >= e.entryTimeout {
		e.log.Warn("entry timed out, reverting to flat",
			"cycle", cycleID, "symbol", ps.Symbol, "fingerprint", entry.Fingerprint)
		return e.abandonEntry(cycleID, snap, ps, entry)
	}
	return false, nil
}

func (e *Engine) abandonEntry(cycleID string, snap *state.Snapshot,
	ps *state.PositionState, entry *state.OrderState) (bool, error) {

	entry.Status = exchange.StatusCancelled
	e.stageLedger(ledger.OutcomeEntry(entry.Fingerprint, cycleID, ledger.OutcomeAbandoned))
	if err := snap.Transition(ps.Symbol, state.PhaseFlat); err != nil {
		return false, err
	}
	snap.Retire(ps.Symbol)
	return true, nil
}

// reconcileOpen monitors a held position: size drift routes through a
// closing transition; lost protective orders are re-placed.
func (e *Engine) reconcileOpen(ctx context.Context, cycleID string, snap *state.Snapshot,
	ps *state.PositionState, exPos exchange.Position, exOrders []exchange.Order) (bool, error) {

	diff := math.Abs(exPos.Size - ps.Size)
	changed := e.refreshOrderStates(cycleID, ps, exOrders, diff > e.sizeEpsilon)

	if diff <= e.sizeEpsilon {
		// Size agrees. Make sure protection is still standing.
		if err := e.ensureProtection(ctx, cycleID, snap, ps, exOrders); err != nil {
			return changed, err
		}
		return changed, nil
	}

	if exPos.Size <= e.sizeEpsilon {
		// Fully closed: a protective order filled, or someone closed
		// it manually. Cancel the survivors and wind down.
		e.log.Info("position closed on exchange, winding down",
			"cycle", cycleID, "symbol", ps.Symbol)
		if err := snap.Transition(ps.Symbol, state.PhaseClosing); err != nil {
			return changed, err
		}
		_, err := e.reconcileClosing(ctx, cycleID, snap, ps, exPos, exOrders)
		return true, err
	}

	// Partial mismatch: unexplained drift. Exchange truth wins, but the
	// discrepancy counts as a failure toward the kill switch.
	drift := &DriftError{Symbol: ps.Symbol, Expected: ps.Size, Actual: exPos.Size}
	metrics.DriftEvents.WithLabelValues("size_mismatch").Inc()
	metrics.CycleFailures.WithLabelValues(string(guard.FailureDrift)).Inc()
	e.log.Error("size drift, resyncing from exchange",
		"cycle", cycleID, "error", drift)
	e.stageNote(notify.Warn,
		fmt.Sprintf("%s size drift: expected %.8f, exchange reports %.8f; resynced",
			ps.Symbol, ps.Size, exPos.Size))
	e.driftCycle = true
	if e.ks.RecordFailure(guard.FailureDrift) {
		e.onTrip()
	}
	ps.Size = exPos.Size
	ps.Updated = time.Now().UTC()
	return true, nil
}

// reconcileClosing cancels remaining protective orders, confirms zero
// size, and retires the position.
func (e *Engine) reconcileClosing(ctx context.Context, cycleID string, snap *state.Snapshot,
	ps *state.PositionState, exPos exchange.Position, exOrders []exchange.Order) (bool, error) {

	changed := e.refreshOrderStates(cycleID, ps, exOrders, true)

	for _, o := range ps.LiveProtective() {
		if o.ExchangeID == "" {
			// Never acknowledged; nothing to cancel.
			o.Status = exchange.StatusCancelled
			e.stageLedger(ledger.OutcomeEntry(o.Fingerprint, cycleID, ledger.OutcomeAbandoned))
			changed = true
			continue
		}
		if !e.mutationsAllowed(cycleID) {
			return changed, nil
		}
		if err := e.cancelOrder(ctx, ps.Symbol, o.ExchangeID); err != nil {
			return changed, err
		}
		o.Status = exchange.StatusCancelled
		e.stageLedger(ledger.OutcomeEntry(o.Fingerprint, cycleID, ledger.OutcomeCancelled))
		e.log.Info("cancelled protective order", "cycle", cycleID,
			"symbol", ps.Symbol, "role", o.Role.String(), "order", o.ExchangeID)
		changed = true
	}

	if exPos.Size <= e.sizeEpsilon && ps.Resolved() {
		if err := snap.Transition(ps.Symbol, state.PhaseFlat); err != nil {
			return changed, err
		}
		snap.Retire(ps.Symbol)
		e.log.Info("position flat", "cycle", cycleID, "symbol", ps.Symbol)
		e.stageNote(notify.Info, fmt.Sprintf("%s position closed and reconciled", ps.Symbol))
		return true, nil
	}
	return changed, nil
}

// refreshOrderStates marks protective orders that disappeared from the
// exchange's open list. An order we saw open that is now gone has
// terminated; whether it filled or was cancelled out from under us is
// decided by whether the position size actually moved.
func (e *Engine) refreshOrderStates(cycleID string, ps *state.PositionState, exOrders []exchange.Order, moved bool) bool {
	status, outcome := exchange.StatusCancelled, ledger.OutcomeCancelled
	if moved {
		status, outcome = exchange.StatusFilled, ledger.OutcomeFilled
	}
	changed := false
	for _, o := range []*state.OrderState{ps.StopLoss, ps.TakeProfit} {
		if !o.Live() || o.ExchangeID == "" {
			continue
		}
		if findByExchangeID(exOrders, o.ExchangeID) == nil {
			o.Status = status
			e.stageLedger(ledger.OutcomeEntry(o.Fingerprint, cycleID, outcome))
			e.log.Info("protective order left the book", "cycle", cycleID,
				"symbol", ps.Symbol, "role", o.Role.String(),
				"order", o.ExchangeID, "outcome", outcome)
			changed = true
		}
	}
	return changed
}

// ensureProtection places any missing stop/take-profit order for an
// open position. Lookup-by-fingerprint runs first so an ambiguous
// earlier placement is adopted instead of duplicated.
func (e *Engine) ensureProtection(ctx context.Context, cycleID string, snap *state.Snapshot,
	ps *state.PositionState, exOrders []exchange.Order) error {

	type slot struct {
		order **state.OrderState
		role  exchange.Role
		price float64
	}
	slots := []slot{
		{&ps.StopLoss, exchange.Stop, ps.StopPrice},
		{&ps.TakeProfit, exchange.TakeProfit, ps.TakePrice},
	}

	for _, s := range slots {
		if s.price <= 0 {
			continue // level never configured (adopted position without one)
		}
		cur := *s.order
		if cur.Live() && cur.ExchangeID != "" {
			continue
		}

		// An ambiguous earlier attempt keeps its fingerprint so lookup
		// and retry hit the same client order id. Otherwise mint one
		// for the sequence this cycle will persist as.
		var fp string
		if cur.Live() && cur.Fingerprint != "" {
			fp = cur.Fingerprint
		} else {
			fp = ledger.Fingerprint(ledger.Intent{
				Symbol: ps.Symbol,
				Role:   s.role,
				Side:   ps.Side,
				Epoch:  int64(snap.Sequence) + 1,
			})
		}

		// An earlier attempt may have landed.
		if live := findByFingerprint(exOrders, fp); live != nil {
			*s.order = &state.OrderState{
				Fingerprint: fp,
				ExchangeID:  live.ExchangeID,
				Role:        s.role,
				Side:        ps.Side.Opposite(),
				Status:      exchange.StatusOpen,
				Size:        ps.Size,
				Price:       s.price,
				Placed:      live.Created,
			}
			// The intent row from the original attempt may have been
			// discarded with a failed cycle; restage it so the ack has
			// its pair.
			e.stageLedger(ledger.IntentEntry(fp, cycleID, ps.Symbol,
				s.role.String(), ps.Side.Opposite().String(), ps.Size, s.price))
			e.stageLedger(ledger.AckEntry(fp, cycleID, live.ExchangeID))
			continue
		}

		if !e.mutationsAllowed(cycleID) {
			return nil
		}

		spec := exchange.OrderSpec{
			Symbol:      ps.Symbol,
			Role:        s.role,
			Side:        ps.Side.Opposite(),
			Size:        ps.Size,
			Price:       s.price,
			ReduceOnly:  true,
			Fingerprint: fp,
		}
		ack, err := e.placeOrder(ctx, cycleID, spec)
		if err != nil {
			if errors.Is(err, exchange.ErrRejected) {
				// Abandoned for this cycle, re-evaluated next.
				e.stageLedger(ledger.OutcomeEntry(fp, cycleID, ledger.OutcomeAbandoned))
				e.log.Error("protective order rejected", "cycle", cycleID,
					"symbol", ps.Symbol, "role", s.role.String(), "error", err)
				continue
			}
			// Ambiguous: record the intent so next cycle's fingerprint
			// lookup can adopt it if it landed.
			*s.order = &state.OrderState{
				Fingerprint: fp,
				Role:        s.role,
				Side:        ps.Side.Opposite(),
				Status:      exchange.StatusPending,
				Size:        ps.Size,
				Price:       s.price,
				Placed:      time.Now().UTC(),
			}
			return err
		}

		*s.order = &state.OrderState{
			Fingerprint: fp,
			ExchangeID:  ack.ExchangeID,
			Role:        s.role,
			Side:        ps.Side.Opposite(),
			Status:      exchange.StatusOpen,
			Size:        ps.Size,
			Price:       s.price,
			Placed:      time.Now().UTC(),
		}
		e.log.Info("protective order placed", "cycle", cycleID,
			"symbol", ps.Symbol, "role", s.role.String(),
			"price", s.price, "order", ack.ExchangeID)
	}
	return nil
}

// sweepOrphans cancels protective orders on the exchange that no local
// position accounts for.
func (e *Engine) sweepOrphans(ctx context.Context, cycleID string, snap *state.Snapshot,
	allOrders []exchange.Order) (bool, error) {

	orphans := FindOrphans(allOrders, snap)
	if len(orphans) == 0 {
		return false, nil
	}

	changed := false
	for _, o := range orphans {
		e.stageLedger(ledger.OrphanEntry(cycleID, o.Symbol, o.Role.String(), o.ExchangeID))
		e.log.Warn("orphan protective order detected", "cycle", cycleID,
			"symbol", o.Symbol, "role", o.Role.String(), "order", o.ExchangeID)

		if !e.mutationsAllowed(cycleID) {
			continue
		}
		if err := e.cancelOrder(ctx, o.Symbol, o.ExchangeID); err != nil {
			return changed, err
		}
		e.stageLedger(ledger.OrphanCancelledEntry(cycleID, o.ExchangeID))
		metrics.OrphansCancelled.Inc()
		e.stageNote(notify.Warn,
			fmt.Sprintf("cancelled orphan %s order %s on %s", o.Role, o.ExchangeID, o.Symbol))
		changed = true
	}
	return changed, nil
}

// Enter places a market entry and begins tracking the position. Called
// by strategy glue, not by the reconcile cycle itself.
func (e *Engine) Enter(ctx context.Context, symbol string, side exchange.Side,
	size, stopPrice, takePrice float64) error {

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap == nil {
		return errors.New("reconcile: enter before recover")
	}
	if e.ks.Tripped() {
		return guard.ErrTripped
	}

	if ps, ok := e.snap.Positions[symbol]; ok && ps.Phase != state.PhaseFlat {
		return fmt.Errorf("reconcile: %s already %s", symbol, ps.Phase)
	}

	cycleID := id.Short()
	work := e.snap.Clone()
	fp := ledger.Fingerprint(ledger.Intent{
		Symbol: symbol,
		Role:   exchange.Entry,
		Side:   side,
		Epoch:  int64(work.Sequence) + 1,
	})

	ps := work.Position(symbol)
	ps.Side = side
	ps.StopPrice = stopPrice
	ps.TakePrice = takePrice
	if err := work.Transition(symbol, state.PhaseEntering); err != nil {
		return err
	}
	ps.Entry = &state.OrderState{
		Fingerprint: fp,
		Role:        exchange.Entry,
		Side:        side,
		Status:      exchange.StatusPending,
		Size:        size,
		Placed:      time.Now().UTC(),
	}

	e.stageLedger(ledger.IntentEntry(fp, cycleID, symbol, exchange.Entry.String(), side.String(), size, 0))

	ack, err := e.gw.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol:      symbol,
		Role:        exchange.Entry,
		Side:        side,
		Size:        size,
		Fingerprint: fp,
	})
	switch {
	case err == nil:
		ps.Entry.ExchangeID = ack.ExchangeID
		ps.Entry.Status = exchange.StatusOpen
		e.stageLedger(ledger.AckEntry(fp, cycleID, ack.ExchangeID))
		metrics.OrdersPlaced.WithLabelValues(exchange.Entry.String()).Inc()
	case errors.Is(err, exchange.ErrRejected):
		// The rejection is a fact regardless of the snapshot staying put.
		e.stageLedger(ledger.OutcomeEntry(fp, cycleID, ledger.OutcomeAbandoned))
		e.commitStaged(cycleID)
		return err
	default:
		// Ambiguous: keep ENTERING with no exchange id; the next cycle
		// resolves by fingerprint lookup before any retry.
		e.log.Warn("entry placement ambiguous", "symbol", symbol,
			"fingerprint", fp, "error", err)
	}

	work.Sequence++
	if serr := e.store.Save(work); serr != nil {
		e.log.Error("snapshot save after entry failed", "error", serr)
		work.Sequence--
		e.pendingSave = true
	} else {
		metrics.SnapshotSequence.Set(float64(work.Sequence))
	}
	e.snap = work
	e.commitStaged(cycleID)
	return nil
}

// placeOrder runs a placement under the retry budget and records
// intent/ack ledger entries.
func (e *Engine) placeOrder(ctx context.Context, cycleID string, spec exchange.OrderSpec) (exchange.OrderAck, error) {
	e.stageLedger(ledger.IntentEntry(spec.Fingerprint, cycleID, spec.Symbol,
		spec.Role.String(), spec.Side.String(), spec.Size, spec.Price))

	var ack exchange.OrderAck
	err := e.retry.Do(ctx, "place "+spec.Role.String()+" "+spec.Symbol, func(ctx context.Context) error {
		var err error
		ack, err = e.gw.PlaceOrder(ctx, spec)
		return err
	})
	if err != nil {
		return exchange.OrderAck{}, err
	}

	e.stageLedger(ledger.AckEntry(spec.Fingerprint, cycleID, ack.ExchangeID))
	metrics.OrdersPlaced.WithLabelValues(spec.Role.String()).Inc()
	return ack, nil
}

// cancelOrder cancels under the retry budget. "Already filled or
// cancelled" is success, not error.
func (e *Engine) cancelOrder(ctx context.Context, symbol, exchangeID string) error {
	err := e.retry.Do(ctx, "cancel "+exchangeID, func(ctx context.Context) error {
		err := e.gw.CancelOrder(ctx, symbol, exchangeID)
		if errors.Is(err, exchange.ErrAlreadyTerminal) {
			return nil
		}
		return err
	})
	if errors.Is(err, exchange.ErrAlreadyTerminal) {
		return nil
	}
	return err
}

func (e *Engine) mutationsAllowed(cycleID string) bool {
	if !e.ks.Tripped() {
		return true
	}
	e.log.Warn("kill switch tripped, mutation skipped", "cycle", cycleID)
	return false
}

// onTrip publishes a fresh trip exactly once.
func (e *Engine) onTrip() {
	if e.wasTripped || !e.ks.Tripped() {
		return
	}
	e.wasTripped = true
	st := e.ks.State()
	metrics.KillSwitchTripped.Set(1)
	e.notifier.Notify(notify.Critical, "KILL SWITCH TRIPPED: "+st.Reason)
}

// stageLedger buffers an audit row for the in-flight cycle. Rows flush
// on commit; a failed cycle discards them along with the working
// snapshot, so retried work never records the same outcome twice.
func (e *Engine) stageLedger(entry ledger.Entry) {
	e.staged = append(e.staged, entry)
}

func (e *Engine) stageNote(sev notify.Severity, msg string) {
	e.stagedNotes = append(e.stagedNotes, stagedNote{sev: sev, msg: msg})
}

func (e *Engine) commitStaged(cycleID string) {
	for _, entry := range e.staged {
		if err := e.ledger.Append(entry); err != nil {
			// Audit loss is reported but never blocks reconciliation.
			e.log.Error("ledger append failed", "cycle", cycleID,
				"kind", string(entry.Kind), "error", err)
		}
	}
	for _, n := range e.stagedNotes {
		e.notifier.Notify(n.sev, n.msg)
	}
	e.staged = nil
	e.stagedNotes = nil
}

func (e *Engine) discardStaged() {
	e.staged = nil
	e.stagedNotes = nil
}

func findByFingerprint(orders []exchange.Order, fp string) *exchange.Order {
	if fp == "" {
		return nil
	}
	for i := range orders {
		if orders[i].Fingerprint == fp {
			return &orders[i]
		}
	}
	return nil
}

func findByExchangeID(orders []exchange.Order, id string) *exchange.Order {
	for i := range orders {
		if orders[i].ExchangeID == id {
			return &orders[i]
		}
	}
	return nil
}
