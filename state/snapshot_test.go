package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sentinel/exchange"
)

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from Phase
		to   Phase
		ok   bool
	}{
		{"flat to entering", PhaseFlat, PhaseEntering, true},
		{"entering to open", PhaseEntering, PhaseOpen, true},
		{"entering reverts to flat", PhaseEntering, PhaseFlat, true},
		{"open to closing", PhaseOpen, PhaseClosing, true},
		{"closing to flat", PhaseClosing, PhaseFlat, true},
		{"flat cannot open directly", PhaseFlat, PhaseOpen, false},
		{"open cannot revert to entering", PhaseOpen, PhaseEntering, false},
		{"closing cannot reopen", PhaseClosing, PhaseOpen, false},
		{"flat to flat is not an edge", PhaseFlat, PhaseFlat, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSnapshotTransitionIllegal(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot()
	snap.Position("ETHUSDT") // starts FLAT

	assert.Error(t, snap.Transition("ETHUSDT", PhaseOpen))
	assert.NoError(t, snap.Transition("ETHUSDT", PhaseEntering))
	assert.NoError(t, snap.Transition("ETHUSDT", PhaseOpen))
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot()
	p := snap.Position("BTCUSDT")
	p.Phase = PhaseOpen
	p.Size = 2
	p.StopLoss = &OrderState{Fingerprint: "STOP:x", Status: exchange.StatusOpen}

	cp := snap.Clone()
	cp.Position("BTCUSDT").StopLoss.Status = exchange.StatusCancelled
	cp.Position("BTCUSDT").Size = 0

	assert.Equal(t, exchange.StatusOpen, snap.Position("BTCUSDT").StopLoss.Status)
	assert.Equal(t, 2.0, snap.Position("BTCUSDT").Size)
}

func TestLiveFingerprints(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot()
	p := snap.Position("BTCUSDT")
	p.Phase = PhaseOpen
	p.StopLoss = &OrderState{Fingerprint: "STOP:a", Status: exchange.StatusOpen}
	p.TakeProfit = &OrderState{Fingerprint: "TP:b", Status: exchange.StatusFilled}

	fps := snap.LiveFingerprints()
	require.Len(t, fps, 1)
	assert.Equal(t, "BTCUSDT", fps["STOP:a"])
}

func TestPositionResolvedAndLiveProtective(t *testing.T) {
	t.Parallel()

	p := &PositionState{Symbol: "BTCUSDT"}
	assert.True(t, p.Resolved(), "no orders at all is resolved")

	p.StopLoss = &OrderState{Fingerprint: "STOP:a", Status: exchange.StatusOpen}
	p.TakeProfit = &OrderState{Fingerprint: "TP:b", Status: exchange.StatusCancelled}
	assert.False(t, p.Resolved())
	assert.Len(t, p.LiveProtective(), 1)

	p.StopLoss.Status = exchange.StatusFilled
	assert.True(t, p.Resolved())
	assert.Empty(t, p.LiveProtective())
}
