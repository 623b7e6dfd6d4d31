package risk

import (
	"fmt"
	"math"
	"strings"
)

// SizingMethod selects how a signal is converted into an order quantity.
type SizingMethod string

const (
	// SizeFixed targets a fixed notional per trade.
	SizeFixed SizingMethod = "fixed"
	// SizeRiskParity sizes so that hitting the stop loses a fixed fraction
	// of account equity.
	SizeRiskParity SizingMethod = "risk_parity"
)

// Sizer computes order quantities. A zero result means the trade is skipped,
// not that something failed.
type Sizer struct {
	Method          SizingMethod
	FixedNotional   float64
	RiskFraction    float64
	StopLossPct     float64
	MaxPositionSize float64
	LotSize         int64
}

// NewSizer validates and builds a Sizer.
func NewSizer(method string, fixedNotional, riskFraction, stopLossPct, maxPositionSize float64, lotSize int64) (Sizer, error) {
	m := SizingMethod(strings.ToLower(method))
	switch m {
	case SizeFixed, SizeRiskParity:
	default:
		return Sizer{}, fmt.Errorf("risk: unknown sizing method %q", method)
	}
	if lotSize < 1 {
		lotSize = 1
	}
	return Sizer{
		Method:          m,
		FixedNotional:   fixedNotional,
		RiskFraction:    riskFraction,
		StopLossPct:     stopLossPct,
		MaxPositionSize: maxPositionSize,
		LotSize:         lotSize,
	}, nil
}

// Quantity returns the lot-floored quantity for an entry at the given price
// with the given account equity. Zero means skip.
func (s Sizer) Quantity(price, equity float64) int64 {
	if price <= 0 {
		return 0
	}

	var raw float64
	switch s.Method {
	case SizeRiskParity:
		stopDistance := price * s.StopLossPct
		if stopDistance <= 0 {
			return 0
		}
		raw = (equity * s.RiskFraction) / stopDistance
	default:
		raw = s.FixedNotional / price
	}

	// Never exceed the per-trade cap regardless of policy.
	if s.MaxPositionSize > 0 {
		if maxQty := s.MaxPositionSize / price; raw > maxQty {
			raw = maxQty
		}
	}

	qty := int64(math.Floor(raw))
	qty -= qty % s.LotSize
	if qty < 0 {
		qty = 0
	}
	return qty
}
