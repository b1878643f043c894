// Package guard holds the process-wide safety latch. Once tripped, no
// mutating exchange call is made until an operator explicitly resets.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FailureKind labels what fed the switch, for the trip reason and logs.
type FailureKind string

const (
	FailureNetwork  FailureKind = "network"
	FailureExchange FailureKind = "exchange"
	FailureStorage  FailureKind = "storage"
	FailureDrift    FailureKind = "drift"
)

// ErrTripped is returned by mutating paths while the switch is tripped.
// It is a safe-mode signal, not a failure of the caller's making.
var ErrTripped = errors.New("guard: kill switch tripped")

// State is the externally visible switch state.
type State struct {
	Tripped   bool      `json:"tripped"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// KillSwitch trips after MaxFailures failures inside Window, or on a
// single catastrophic condition. Reads are cheap and lock-guarded so a
// trip is observed by the next cycle; writes happen only from the
// reconcile cycle and the operator reset path.
type KillSwitch struct {
	mu          sync.Mutex
	maxFailures int
	window      time.Duration
	failures    []time.Time
	state       State

	markerPath string // optional trip marker, survives restarts
	log        *slog.Logger
}

type Option func(*KillSwitch)

// WithMarkerFile persists the trip latch to path so a restart does not
// silently rearm a tripped process.
func WithMarkerFile(path string) Option {
	return func(k *KillSwitch) { k.markerPath = path }
}

func WithLogger(log *slog.Logger) Option {
	return func(k *KillSwitch) { k.log = log }
}

// New returns an armed switch. Defaults follow conservative operator
// practice: 5 failures in a 10 minute window.
func New(maxFailures int, window time.Duration, opts ...Option) *KillSwitch {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	k := &KillSwitch{
		maxFailures: maxFailures,
		window:      window,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(k)
	}
	k.restoreMarker()
	return k
}

// RecordFailure counts one failure toward the trip threshold. Returns
// true if this failure tripped the switch.
func (k *KillSwitch) RecordFailure(kind FailureKind) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state.Tripped {
		return false
	}

	now := time.Now()
	k.failures = append(k.failures, now)

	// Prune entries outside the sliding window.
	cutoff := now.Add(-k.window)
	kept := k.failures[:0]
	for _, ts := range k.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	k.failures = kept

	k.log.Warn("kill switch failure recorded",
		"kind", string(kind),
		"count", len(k.failures),
		"threshold", k.maxFailures)

	if len(k.failures) >= k.maxFailures {
		k.tripLocked(fmt.Sprintf("%d consecutive %s failures within %s", len(k.failures), kind, k.window))
		return true
	}
	return false
}

// RecordSuccess clears the failure streak. A healthy cycle between
// failures means they were not consecutive.
func (k *KillSwitch) RecordSuccess() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failures = k.failures[:0]
}

// Catastrophic trips immediately, regardless of counts. Used for
// conditions like local-flat-but-exchange-open beyond the safety
// margin, where state corruption is the only explanation.
func (k *KillSwitch) Catastrophic(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.Tripped {
		return
	}
	k.tripLocked("catastrophic: " + reason)
}

func (k *KillSwitch) tripLocked(reason string) {
	k.state = State{Tripped: true, Reason: reason, TrippedAt: time.Now().UTC()}
	k.log.Error("KILL SWITCH TRIPPED", "reason", reason)
	k.writeMarker()
}

// Tripped reports whether mutating calls must short-circuit.
func (k *KillSwitch) Tripped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Tripped
}

// State returns a copy of the current switch state.
func (k *KillSwitch) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Reset rearms the switch. Operator action only; nothing in the engine
// calls this.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = State{}
	k.failures = k.failures[:0]
	if k.markerPath != "" {
		os.Remove(k.markerPath)
	}
	k.log.Info("kill switch reset")
}

func (k *KillSwitch) writeMarker() {
	if k.markerPath == "" {
		return
	}
	data, err := json.MarshalIndent(k.state, "", "  ")
	if err == nil {
		err = os.WriteFile(k.markerPath, data, 0o644)
	}
	if err != nil {
		// The in-memory latch still holds; losing the marker only
		// costs restart persistence.
		k.log.Error("kill switch marker write failed", "error", err)
	}
}

func (k *KillSwitch) restoreMarker() {
	if k.markerPath == "" {
		return
	}
	data, err := os.ReadFile(k.markerPath)
	if err != nil {
		return
	}
	var st State
	if json.Unmarshal(data, &st) == nil && st.Tripped {
		k.state = st
		k.log.Error("kill switch restored tripped from marker",
			"reason", st.Reason, "tripped_at", st.TrippedAt)
	}
}

// RemoveMarker deletes the trip marker at path. Used by the operator
// reset command without constructing a full switch.
func RemoveMarker(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
