package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcRules = SymbolRules{
	Symbol:         "BTCUSDT",
	StepSize:       0.001,
	TickSize:       0.1,
	MinQty:         0.001,
	MinNotional:    100,
	QtyPrecision:   3,
	PricePrecision: 1,
}

func TestFloorQty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		qty  float64
		want float64
	}{
		{"exact step", 0.005, 0.005},
		{"rounds down", 0.0059, 0.005},
		{"below step", 0.0004, 0},
		{"negative clamps to zero", -1, 0},
		{"large", 12.34567, 12.345},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, btcRules.FloorQty(tt.qty), 1e-9)
		})
	}
}

func TestFloorPrice(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 61250.5, btcRules.FloorPrice(61250.55), 1e-9)
	assert.InDelta(t, 61250.5, btcRules.FloorPrice(61250.5), 1e-9)
}

func TestValidNotional(t *testing.T) {
	t.Parallel()

	assert.True(t, btcRules.ValidNotional(0.002, 60000))
	assert.False(t, btcRules.ValidNotional(0.001, 60000))

	noFloor := SymbolRules{}
	assert.True(t, noFloor.ValidNotional(0, 0))
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.005", btcRules.FormatQty(0.005))
	assert.Equal(t, "61250.5", btcRules.FormatPrice(61250.5))
}

type fakeSource struct {
	rules map[string]SymbolRules
	err   error
	calls int
}

func (f *fakeSource) FetchRules(ctx context.Context) (map[string]SymbolRules, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func TestCacheRefreshAndRead(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: map[string]SymbolRules{"BTCUSDT": btcRules}}
	c := NewCache(src, nil)

	_, ok := c.Rules("BTCUSDT")
	assert.False(t, ok, "empty before first refresh")

	require.NoError(t, c.Refresh(context.Background()))
	got, ok := c.Rules("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.001, got.StepSize)
}

func TestCacheKeepsPreviousOnFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: map[string]SymbolRules{"BTCUSDT": btcRules}}
	c := NewCache(src, nil)
	require.NoError(t, c.Refresh(context.Background()))

	src.err = errors.New("exchange info 5xx")
	assert.Error(t, c.Refresh(context.Background()))

	// Stale cache is better than no cache.
	got, ok := c.Rules("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, btcRules.StepSize, got.StepSize)
}
