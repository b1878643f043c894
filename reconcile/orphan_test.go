package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/state"
)

func TestFindOrphans(t *testing.T) {
	t.Parallel()

	snap := state.NewSnapshot()
	snap.Position("BTCUSDT").Phase = state.PhaseOpen
	snap.Position("ETHUSDT").Phase = state.PhaseEntering
	snap.Position("SOLUSDT").Phase = state.PhaseClosing

	stop := func(symbol, id string) exchange.Order {
		return exchange.Order{ExchangeID: id, Symbol: symbol, Role: exchange.Stop,
			Side: exchange.Short, Status: exchange.StatusOpen}
	}

	tests := []struct {
		name   string
		orders []exchange.Order
		want   []string
	}{
		{
			name:   "untracked symbol is orphan",
			orders: []exchange.Order{stop("XRPUSDT", "a")},
			want:   []string{"a"},
		},
		{
			name:   "open position owns its orders",
			orders: []exchange.Order{stop("BTCUSDT", "b")},
			want:   nil,
		},
		{
			name:   "closing position owns its orders",
			orders: []exchange.Order{stop("SOLUSDT", "c")},
			want:   nil,
		},
		{
			name:   "entering symbol deferred",
			orders: []exchange.Order{stop("ETHUSDT", "d")},
			want:   nil,
		},
		{
			name: "entry orders never orphans",
			orders: []exchange.Order{{
				ExchangeID: "e", Symbol: "XRPUSDT", Role: exchange.Entry,
				Side: exchange.Long, Status: exchange.StatusOpen,
			}},
			want: nil,
		},
		{
			name: "mixed book",
			orders: []exchange.Order{
				stop("BTCUSDT", "f"),
				stop("XRPUSDT", "g"),
				stop("DOGEUSDT", "h"),
			},
			want: []string{"g", "h"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, o := range FindOrphans(tt.orders, snap) {
				got = append(got, o.ExchangeID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
