// Package rules caches per-symbol trading rules (step size, tick size,
// minimum notional) used to round order quantities and prices before
// they reach the exchange.
package rules

import (
	"fmt"
	"math"
)

// SymbolRules is the trading-rule metadata for one symbol.
type SymbolRules struct {
	Symbol         string
	StepSize       float64 // quantity increment
	TickSize       float64 // price increment
	MinQty         float64
	MinNotional    float64 // quote-currency floor for qty*price
	QtyPrecision   int
	PricePrecision int
}

// FloorQty rounds qty down to the symbol's step size and precision.
// Rounding down, never up: rounding up can exceed available margin.
func (r SymbolRules) FloorQty(qty float64) float64 {
	if r.StepSize > 0 {
		qty = math.Floor(qty/r.StepSize) * r.StepSize
	}
	qty = floorToPrecision(qty, r.QtyPrecision)
	return math.Max(qty, 0)
}

// FloorPrice rounds price down to the symbol's tick size and precision.
func (r SymbolRules) FloorPrice(price float64) float64 {
	if r.TickSize > 0 {
		price = math.Floor(price/r.TickSize) * r.TickSize
	}
	price = floorToPrecision(price, r.PricePrecision)
	return math.Max(price, 0)
}

// ValidNotional reports whether qty*price clears the exchange minimum.
func (r SymbolRules) ValidNotional(qty, price float64) bool {
	if r.MinNotional <= 0 {
		return true
	}
	return qty*price >= r.MinNotional
}

// ValidQty reports whether qty clears the exchange minimum quantity.
func (r SymbolRules) ValidQty(qty float64) bool {
	return qty >= r.MinQty
}

func floorToPrecision(v float64, prec int) float64 {
	if prec <= 0 {
		return v
	}
	pow := math.Pow(10, float64(prec))
	return math.Floor(v*pow) / pow
}

// FormatQty renders qty at the symbol's quantity precision, the form
// exchange REST APIs expect.
func (r SymbolRules) FormatQty(qty float64) string {
	return fmt.Sprintf("%.*f", r.QtyPrecision, qty)
}

// FormatPrice renders price at the symbol's price precision.
func (r SymbolRules) FormatPrice(price float64) string {
	return fmt.Sprintf("%.*f", r.PricePrecision, price)
}
