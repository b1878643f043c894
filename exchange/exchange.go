package exchange

import (
	"context"
	"errors"
	"time"
)

// Side is the direction of a position or order.
type Side int

const (
	Flat  Side = 0
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Opposite returns the closing direction for a position side.
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// Role classifies what an order is for. Protective roles (Stop,
// TakeProfit) are the ones the reconciler hunts for orphans among.
type Role int

const (
	Entry Role = iota
	Stop
	TakeProfit
)

func (r Role) String() string {
	switch r {
	case Entry:
		return "ENTRY"
	case Stop:
		return "STOP"
	case TakeProfit:
		return "TAKE_PROFIT"
	default:
		return "UNKNOWN"
	}
}

// Protective reports whether the role is a stop-loss or take-profit.
func (r Role) Protective() bool {
	return r == Stop || r == TakeProfit
}

type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusOpen
	StatusFilled
	StatusCancelled
	StatusOrphaned
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusOpen:
		return "OPEN"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusOrphaned:
		return "ORPHANED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Position is the exchange's view of a single symbol.
type Position struct {
	Symbol     string
	Side       Side
	Size       float64 // absolute, base units
	EntryPrice float64
}

// Order is an order as reported by the exchange.
type Order struct {
	ExchangeID  string
	Symbol      string
	Role        Role
	Side        Side
	Status      OrderStatus
	Size        float64
	Price       float64 // stop/trigger price for protective orders
	Fingerprint string  // client order id; empty for manually placed orders
	Created     time.Time
}

// OrderSpec describes an order to be placed. Fingerprint is mandatory:
// it rides as the client order id so an ambiguous timeout can be
// resolved by looking the fingerprint up among open orders next cycle.
type OrderSpec struct {
	Symbol      string
	Role        Role
	Side        Side
	Size        float64
	Price       float64 // trigger price; ignored for market entries
	ReduceOnly  bool
	Fingerprint string
}

// OrderAck is the exchange's acknowledgment of a placed order.
type OrderAck struct {
	ExchangeID string
	Symbol     string
	Status     OrderStatus
}

// ErrAlreadyTerminal is returned by CancelOrder when the exchange
// reports the order already filled or cancelled. Callers treat it as
// success.
var ErrAlreadyTerminal = errors.New("exchange: order already terminal")

// ErrRejected marks a non-retryable exchange rejection (bad quantity,
// insufficient margin, filter violation). Wrap with %w.
var ErrRejected = errors.New("exchange: order rejected")

// Gateway is the capability the reconciler consumes. Implementations
// must be safe for at-least-once retries; PlaceOrder must carry
// spec.Fingerprint as the client order id so a retry of the same
// intent is deduplicated server-side or detectable client-side.
type Gateway interface {
	GetPosition(ctx context.Context, symbol string) (Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeID string) error
}
