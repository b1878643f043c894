package guard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsOnConsecutiveFailures(t *testing.T) {
	t.Parallel()

	k := New(5, 10*time.Minute)

	for i := 0; i < 4; i++ {
		assert.False(t, k.RecordFailure(FailureNetwork))
		assert.False(t, k.Tripped())
	}
	assert.True(t, k.RecordFailure(FailureNetwork), "fifth failure trips")
	assert.True(t, k.Tripped())
	assert.Contains(t, k.State().Reason, "5 consecutive")
}

func TestSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	k := New(3, 10*time.Minute)

	k.RecordFailure(FailureNetwork)
	k.RecordFailure(FailureNetwork)
	k.RecordSuccess()
	k.RecordFailure(FailureNetwork)
	k.RecordFailure(FailureNetwork)

	assert.False(t, k.Tripped(), "streak broken by a healthy cycle")

	k.RecordFailure(FailureNetwork)
	assert.True(t, k.Tripped())
}

func TestCatastrophicTripsImmediately(t *testing.T) {
	t.Parallel()

	k := New(5, 10*time.Minute)
	k.Catastrophic("local flat but exchange reports 1.5 BTCUSDT")

	assert.True(t, k.Tripped())
	assert.Contains(t, k.State().Reason, "catastrophic")
	assert.False(t, k.State().TrippedAt.IsZero())
}

func TestTrippedIsMonotonicUntilReset(t *testing.T) {
	t.Parallel()

	k := New(2, time.Minute)
	k.RecordFailure(FailureExchange)
	k.RecordFailure(FailureExchange)
	require.True(t, k.Tripped())

	// Healthy cycles after the trip must not rearm.
	k.RecordSuccess()
	k.RecordSuccess()
	assert.True(t, k.Tripped())

	k.Reset()
	assert.False(t, k.Tripped())
	assert.Empty(t, k.State().Reason)
}

func TestMarkerFileSurvivesRestart(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "killswitch.json")

	k := New(1, time.Minute, WithMarkerFile(marker))
	k.RecordFailure(FailureStorage)
	require.True(t, k.Tripped())

	// Simulated restart: a fresh switch over the same marker.
	k2 := New(1, time.Minute, WithMarkerFile(marker))
	assert.True(t, k2.Tripped())
	assert.Equal(t, k.State().Reason, k2.State().Reason)

	k2.Reset()
	k3 := New(1, time.Minute, WithMarkerFile(marker))
	assert.False(t, k3.Tripped())
}

func TestWindowPrunesOldFailures(t *testing.T) {
	t.Parallel()

	k := New(3, 50*time.Millisecond)

	k.RecordFailure(FailureNetwork)
	k.RecordFailure(FailureNetwork)
	time.Sleep(80 * time.Millisecond)

	// The two old failures fell out of the window; two more should not trip.
	k.RecordFailure(FailureNetwork)
	assert.False(t, k.Tripped())
	k.RecordFailure(FailureNetwork)
	assert.False(t, k.Tripped())
	k.RecordFailure(FailureNetwork)
	assert.True(t, k.Tripped())
}
