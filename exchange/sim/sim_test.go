package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sentinel/exchange"
)

func TestMarketEntryFillsAtMark(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.SetPrice("BTCUSDT", 50000)

	ack, err := e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.Entry, Side: exchange.Long,
		Size: 0.5, Fingerprint: "ENTRY:abc",
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, ack.Status)

	pos, err := e.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.Long, pos.Side)
	assert.Equal(t, 0.5, pos.Size)
	assert.Equal(t, 50000.0, pos.EntryPrice)
}

func TestFingerprintDedup(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.SetPrice("BTCUSDT", 50000)

	spec := exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.Stop, Side: exchange.Short,
		Size: 0.5, Price: 48000, Fingerprint: "STOP:abc",
	}
	first, err := e.PlaceOrder(context.Background(), spec)
	require.NoError(t, err)
	second, err := e.PlaceOrder(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, first.ExchangeID, second.ExchangeID, "same fingerprint, same order")

	orders, err := e.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestStopTriggersOnPriceCross(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.SetPrice("BTCUSDT", 50000)

	_, err := e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.Entry, Side: exchange.Long, Size: 0.5,
	})
	require.NoError(t, err)
	_, err = e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.Stop, Side: exchange.Short,
		Size: 0.5, Price: 48000, ReduceOnly: true,
	})
	require.NoError(t, err)

	e.SetPrice("BTCUSDT", 47900)

	pos, err := e.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos.Size, "stop fill flattens the position")

	orders, err := e.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders, "filled stop leaves the book")
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.SetPrice("BTCUSDT", 50000)

	ack, err := e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.TakeProfit, Side: exchange.Short,
		Size: 0.5, Price: 60000,
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(context.Background(), "BTCUSDT", ack.ExchangeID))
	err = e.CancelOrder(context.Background(), "BTCUSDT", ack.ExchangeID)
	assert.ErrorIs(t, err, exchange.ErrAlreadyTerminal, "second cancel reports terminal")

	err = e.CancelOrder(context.Background(), "BTCUSDT", "SIM-missing")
	assert.ErrorIs(t, err, exchange.ErrAlreadyTerminal, "unknown order treated as gone")
}

func TestRejectsZeroSize(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	_, err := e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Role: exchange.Entry, Side: exchange.Long,
	})
	assert.ErrorIs(t, err, exchange.ErrRejected)
}

func TestShortSideTriggers(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.SetPrice("ETHUSDT", 3000)

	_, err := e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "ETHUSDT", Role: exchange.Entry, Side: exchange.Short, Size: 2,
	})
	require.NoError(t, err)
	_, err = e.PlaceOrder(context.Background(), exchange.OrderSpec{
		Symbol: "ETHUSDT", Role: exchange.TakeProfit, Side: exchange.Long,
		Size: 2, Price: 2800,
	})
	require.NoError(t, err)

	e.SetPrice("ETHUSDT", 2950)
	pos, _ := e.GetPosition(context.Background(), "ETHUSDT")
	assert.Equal(t, 2.0, pos.Size, "take profit not reached yet")

	e.SetPrice("ETHUSDT", 2799)
	pos, _ = e.GetPosition(context.Background(), "ETHUSDT")
	assert.Equal(t, 0.0, pos.Size, "short take profit fires below the level")
}
