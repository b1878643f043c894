// Package binance adapts the Binance USD-M futures API to the gateway
// interface. The fingerprint rides as newClientOrderId, so retries of
// the same intent are deduplicated by the venue itself.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/rules"
)

// Binance error codes that mean the request itself is unacceptable and
// a retry with identical parameters cannot succeed.
var rejectCodes = map[int64]bool{
	-1013: true, // filter failure (LOT_SIZE, PRICE_FILTER)
	-1111: true, // precision over the maximum
	-2010: true, // new order rejected
	-2019: true, // margin is insufficient
	-4164: true, // order's notional below minimum
}

// unknownOrder is what cancel returns for an order already off the
// book.
const unknownOrder = -2011

type Gateway struct {
	client *futures.Client
	rules  *rules.Cache // optional; formats quantities to symbol filters
}

func New(apiKey, secret string, testnet bool) *Gateway {
	futures.UseTestnet = testnet
	return &Gateway{client: futures.NewClient(apiKey, secret)}
}

// AttachRules wires the filter cache so quantities and prices are
// formatted to the venue's step and tick sizes. The cache is normally
// fed by this gateway's own FetchRules, hence the two-step setup.
func (g *Gateway) AttachRules(c *rules.Cache) { g.rules = c }

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.Position{}, mapErr("get position", err)
	}

	pos := exchange.Position{Symbol: symbol}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, perr := strconv.ParseFloat(r.PositionAmt, 64)
		if perr != nil {
			return exchange.Position{}, fmt.Errorf("get position %s: parse amount %q: %w", symbol, r.PositionAmt, perr)
		}
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		pos.EntryPrice = entry
		if amt > 0 {
			pos.Side = exchange.Long
			pos.Size = amt
		} else {
			pos.Side = exchange.Short
			pos.Size = -amt
		}
	}
	return pos, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	raw, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapErr("get open orders", err)
	}

	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		size, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		price, _ := strconv.ParseFloat(o.StopPrice, 64)
		if price == 0 {
			price, _ = strconv.ParseFloat(o.Price, 64)
		}
		orders = append(orders, exchange.Order{
			ExchangeID:  strconv.FormatInt(o.OrderID, 10),
			Symbol:      o.Symbol,
			Role:        roleOf(o.Type),
			Side:        sideOf(o.Side),
			Status:      exchange.StatusOpen,
			Size:        size,
			Price:       price,
			Fingerprint: o.ClientOrderID,
			Created:     time.UnixMilli(o.Time).UTC(),
		})
	}
	return orders, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderAck, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(orderSide(spec.Side)).
		Quantity(g.formatQty(spec.Symbol, spec.Size)).
		NewClientOrderID(spec.Fingerprint)

	switch spec.Role {
	case exchange.Entry:
		svc = svc.Type(futures.OrderTypeMarket)
	case exchange.Stop:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(g.formatPrice(spec.Symbol, spec.Price)).
			ReduceOnly(spec.ReduceOnly)
	case exchange.TakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(g.formatPrice(spec.Symbol, spec.Price)).
			ReduceOnly(spec.ReduceOnly)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, mapErr("place order", err)
	}
	return exchange.OrderAck{
		ExchangeID: strconv.FormatInt(res.OrderID, 10),
		Symbol:     res.Symbol,
		Status:     ackStatus(res.Status),
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	id, err := strconv.ParseInt(exchangeID, 10, 64)
	if err != nil {
		return fmt.Errorf("cancel order: bad id %q: %w", exchangeID, err)
	}
	_, err = g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return mapErr("cancel order", err)
	}
	return nil
}

// FetchRules pulls exchange info and extracts the trading filters for
// every symbol currently trading. Implements rules.Source.
func (g *Gateway) FetchRules(ctx context.Context) (map[string]rules.SymbolRules, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, mapErr("exchange info", err)
	}

	out := make(map[string]rules.SymbolRules, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Status != "TRADING" {
			continue
		}
		r := rules.SymbolRules{
			QtyPrecision:   s.QuantityPrecision,
			PricePrecision: s.PricePrecision,
		}
		if f := s.LotSizeFilter(); f != nil {
			r.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			r.MinQty, _ = strconv.ParseFloat(f.MinQuantity, 64)
		}
		if f := s.PriceFilter(); f != nil {
			r.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
		}
		if f := s.MinNotionalFilter(); f != nil {
			r.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
		}
		out[s.Symbol] = r
	}
	return out, nil
}

func (g *Gateway) formatQty(symbol string, qty float64) string {
	if g.rules != nil {
		if r, ok := g.rules.Rules(symbol); ok {
			return r.FormatQty(qty)
		}
	}
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func (g *Gateway) formatPrice(symbol string, price float64) string {
	if g.rules != nil {
		if r, ok := g.rules.Rules(symbol); ok {
			return r.FormatPrice(price)
		}
	}
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// mapErr translates venue error codes into the gateway's sentinels so
// callers never see Binance specifics.
func mapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == unknownOrder:
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, exchange.ErrAlreadyTerminal)
		case rejectCodes[apiErr.Code]:
			return fmt.Errorf("%s: %s (code %d): %w", op, apiErr.Message, apiErr.Code, exchange.ErrRejected)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func roleOf(t futures.OrderType) exchange.Role {
	switch t {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return exchange.Stop
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return exchange.TakeProfit
	default:
		return exchange.Entry
	}
}

func sideOf(s futures.SideType) exchange.Side {
	if s == futures.SideTypeBuy {
		return exchange.Long
	}
	return exchange.Short
}

func orderSide(s exchange.Side) futures.SideType {
	if s == exchange.Long {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func ackStatus(s futures.OrderStatusType) exchange.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return exchange.StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return exchange.StatusCancelled
	default:
		return exchange.StatusOpen
	}
}
