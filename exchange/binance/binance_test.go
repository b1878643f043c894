package binance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/sentinel/exchange"
)

func TestMapErr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown order is terminal", &common.APIError{Code: -2011, Message: "Unknown order sent."}, exchange.ErrAlreadyTerminal},
		{"lot size is rejection", &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, exchange.ErrRejected},
		{"insufficient margin is rejection", &common.APIError{Code: -2019, Message: "Margin is insufficient."}, exchange.ErrRejected},
		{"min notional is rejection", &common.APIError{Code: -4164, Message: "Order's notional must be no smaller than 100"}, exchange.ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapErr("op", tt.err), tt.want)
		})
	}

	t.Run("other codes stay transient", func(t *testing.T) {
		err := mapErr("op", &common.APIError{Code: -1001, Message: "Internal error"})
		assert.NotErrorIs(t, err, exchange.ErrRejected)
		assert.NotErrorIs(t, err, exchange.ErrAlreadyTerminal)
	})

	t.Run("plain errors pass through wrapped", func(t *testing.T) {
		cause := errors.New("dial tcp: timeout")
		err := mapErr("get position", cause)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, fmt.Sprintf("get position: %v", cause), err.Error())
	})
}

func TestRoleOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exchange.Stop, roleOf(futures.OrderTypeStopMarket))
	assert.Equal(t, exchange.Stop, roleOf(futures.OrderTypeStop))
	assert.Equal(t, exchange.TakeProfit, roleOf(futures.OrderTypeTakeProfitMarket))
	assert.Equal(t, exchange.Entry, roleOf(futures.OrderTypeMarket))
	assert.Equal(t, exchange.Entry, roleOf(futures.OrderTypeLimit))
}

func TestSideMapping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exchange.Long, sideOf(futures.SideTypeBuy))
	assert.Equal(t, exchange.Short, sideOf(futures.SideTypeSell))
	assert.Equal(t, futures.SideTypeBuy, orderSide(exchange.Long))
	assert.Equal(t, futures.SideTypeSell, orderSide(exchange.Short))
}

func TestAckStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exchange.StatusFilled, ackStatus(futures.OrderStatusTypeFilled))
	assert.Equal(t, exchange.StatusCancelled, ackStatus(futures.OrderStatusTypeCanceled))
	assert.Equal(t, exchange.StatusOpen, ackStatus(futures.OrderStatusTypeNew))
}

func TestFormatQtyWithoutRules(t *testing.T) {
	t.Parallel()
	g := &Gateway{}
	assert.Equal(t, "0.5", g.formatQty("BTCUSDT", 0.5))
	assert.Equal(t, "48000", g.formatPrice("BTCUSDT", 48000))
}
