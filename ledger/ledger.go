package ledger

import (
	"time"
)

// EntryKind labels a ledger row.
type EntryKind string

const (
	KindIntent  EntryKind = "INTENT"
	KindAck     EntryKind = "ACK"
	KindOutcome EntryKind = "OUTCOME"
	KindOrphan  EntryKind = "ORPHAN" // stray exchange order detected
)

// Outcomes. OutcomeOrphanCancelled marks orders we cancelled because
// they referenced no open position.
const (
	OutcomeFilled          = "FILLED"
	OutcomeCancelled       = "CANCELLED"
	OutcomeOrphanCancelled = "ORPHAN_CANCELLED"
	OutcomeAbandoned       = "ABANDONED" // placement rejected, never live
)

// Entry is one line of the audit record. Which fields are set depends
// on Kind: INTENT carries symbol/role/size, ACK carries the exchange
// id, OUTCOME carries the terminal outcome.
type Entry struct {
	Kind        EntryKind
	Time        time.Time
	Fingerprint string
	CycleID     string
	Symbol      string
	Role        string
	Side        string
	Size        float64
	Price       float64
	ExchangeID  string
	Outcome     string
}

// Ledger is the append-only audit sink. Append must never block a
// reconciliation cycle for long; both backends do local writes only.
type Ledger interface {
	Append(Entry) error
	Close() error
}

// Reader is the query side consumed by the offline audit tool.
type Reader interface {
	ReadAll() ([]Entry, error)
}

// Intent, Ack and Outcome are convenience constructors so callers
// don't hand-assemble entries.

func IntentEntry(fp, cycleID, symbol, role, side string, size, price float64) Entry {
	return Entry{
		Kind:        KindIntent,
		Time:        time.Now().UTC(),
		Fingerprint: fp,
		CycleID:     cycleID,
		Symbol:      symbol,
		Role:        role,
		Side:        side,
		Size:        size,
		Price:       price,
	}
}

func AckEntry(fp, cycleID, exchangeID string) Entry {
	return Entry{
		Kind:        KindAck,
		Time:        time.Now().UTC(),
		Fingerprint: fp,
		CycleID:     cycleID,
		ExchangeID:  exchangeID,
	}
}

// OrphanEntry records a stray protective order at detection time.
// Manually placed orders carry no fingerprint; the exchange id keys
// the eventual ORPHAN_CANCELLED outcome instead.
func OrphanEntry(cycleID, symbol, role, exchangeID string) Entry {
	return Entry{
		Kind:       KindOrphan,
		Time:       time.Now().UTC(),
		CycleID:    cycleID,
		Symbol:     symbol,
		Role:       role,
		ExchangeID: exchangeID,
	}
}

func OutcomeEntry(fp, cycleID, outcome string) Entry {
	return Entry{
		Kind:        KindOutcome,
		Time:        time.Now().UTC(),
		Fingerprint: fp,
		CycleID:     cycleID,
		Outcome:     outcome,
	}
}

// OrphanCancelledEntry closes out a detected orphan, keyed by
// exchange id.
func OrphanCancelledEntry(cycleID, exchangeID string) Entry {
	return Entry{
		Kind:       KindOutcome,
		Time:       time.Now().UTC(),
		CycleID:    cycleID,
		ExchangeID: exchangeID,
		Outcome:    OutcomeOrphanCancelled,
	}
}

// Nop discards everything. Used when auditing is disabled in config.
type Nop struct{}

func (Nop) Append(Entry) error { return nil }
func (Nop) Close() error       { return nil }
