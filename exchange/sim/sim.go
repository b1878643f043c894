// Package sim is an in-memory exchange for paper trading and tests.
// It fills market entries at the current mark price, keeps resting
// protective orders, and triggers them as the price moves.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/rules"
)

type Engine struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions map[string]*exchange.Position
	orders    map[string]*exchange.Order // by exchange id
	byFP      map[string]string          // fingerprint -> exchange id
	nextID    int
}

func NewEngine() *Engine {
	return &Engine{
		prices:    make(map[string]float64),
		positions: make(map[string]*exchange.Position),
		orders:    make(map[string]*exchange.Order),
		byFP:      make(map[string]string),
	}
}

// SetPrice moves the mark price and trips any protective orders it
// crossed, adjusting the position like a real fill would.
func (e *Engine) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price

	pos := e.positions[symbol]
	if pos == nil || pos.Size == 0 {
		return
	}
	for _, o := range e.orders {
		if o.Symbol != symbol || o.Status != exchange.StatusOpen || !o.Role.Protective() {
			continue
		}
		if triggered(pos.Side, o.Role, o.Price, price) {
			o.Status = exchange.StatusFilled
			pos.Size -= o.Size
			if pos.Size <= 0 {
				pos.Size = 0
				pos.Side = exchange.Flat
			}
		}
	}
}

// triggered reports whether a protective order at level fires at the
// given mark price. Longs stop out below, take profit above; shorts
// mirror.
func triggered(posSide exchange.Side, role exchange.Role, level, price float64) bool {
	long := posSide == exchange.Long
	switch role {
	case exchange.Stop:
		if long {
			return price <= level
		}
		return price >= level
	case exchange.TakeProfit:
		if long {
			return price >= level
		}
		return price <= level
	}
	return false
}

func (e *Engine) GetPosition(_ context.Context, symbol string) (exchange.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos := e.positions[symbol]; pos != nil {
		return *pos, nil
	}
	return exchange.Position{Symbol: symbol}, nil
}

func (e *Engine) GetOpenOrders(_ context.Context, symbol string) ([]exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []exchange.Order
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Status == exchange.StatusOpen {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Engine) PlaceOrder(_ context.Context, spec exchange.OrderSpec) (exchange.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if spec.Size <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("size %v: %w", spec.Size, exchange.ErrRejected)
	}

	// Client order id dedup: the same fingerprint resolves to the
	// order already placed, the way a real venue dedupes.
	if spec.Fingerprint != "" {
		if id, ok := e.byFP[spec.Fingerprint]; ok {
			o := e.orders[id]
			return exchange.OrderAck{ExchangeID: id, Symbol: o.Symbol, Status: o.Status}, nil
		}
	}

	e.nextID++
	id := "SIM-" + strconv.Itoa(e.nextID)

	if spec.Role == exchange.Entry {
		price := e.prices[spec.Symbol]
		pos := e.positions[spec.Symbol]
		if pos == nil {
			pos = &exchange.Position{Symbol: spec.Symbol}
			e.positions[spec.Symbol] = pos
		}
		pos.Side = spec.Side
		pos.Size += spec.Size
		pos.EntryPrice = price
		e.orders[id] = &exchange.Order{
			ExchangeID: id, Symbol: spec.Symbol, Role: spec.Role, Side: spec.Side,
			Status: exchange.StatusFilled, Size: spec.Size, Price: price,
			Fingerprint: spec.Fingerprint, Created: time.Now().UTC(),
		}
		if spec.Fingerprint != "" {
			e.byFP[spec.Fingerprint] = id
		}
		return exchange.OrderAck{ExchangeID: id, Symbol: spec.Symbol, Status: exchange.StatusFilled}, nil
	}

	e.orders[id] = &exchange.Order{
		ExchangeID: id, Symbol: spec.Symbol, Role: spec.Role, Side: spec.Side,
		Status: exchange.StatusOpen, Size: spec.Size, Price: spec.Price,
		Fingerprint: spec.Fingerprint, Created: time.Now().UTC(),
	}
	if spec.Fingerprint != "" {
		e.byFP[spec.Fingerprint] = id
	}
	return exchange.OrderAck{ExchangeID: id, Symbol: spec.Symbol, Status: exchange.StatusOpen}, nil
}

func (e *Engine) CancelOrder(_ context.Context, _ string, exchangeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[exchangeID]
	if !ok {
		return fmt.Errorf("order %s: %w", exchangeID, exchange.ErrAlreadyTerminal)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", exchangeID, o.Status, exchange.ErrAlreadyTerminal)
	}
	o.Status = exchange.StatusCancelled
	return nil
}

// FetchRules serves static symbol filters so paper mode can exercise
// the same quantization path as live trading.
func (e *Engine) FetchRules(_ context.Context) (map[string]rules.SymbolRules, error) {
	return map[string]rules.SymbolRules{
		"BTCUSDT": {StepSize: 0.001, TickSize: 0.1, MinQty: 0.001, MinNotional: 100, QtyPrecision: 3, PricePrecision: 1},
		"ETHUSDT": {StepSize: 0.001, TickSize: 0.01, MinQty: 0.001, MinNotional: 20, QtyPrecision: 3, PricePrecision: 2},
	}, nil
}
