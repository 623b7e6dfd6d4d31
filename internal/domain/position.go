package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is a filled entry awaiting exit. At most one open position exists
// per symbol at any time; the risk gate's book enforces that invariant.
type Position struct {
	Symbol       string
	Side         Side
	Quantity     int64
	EntryPrice   float64
	EntryTime    time.Time
	EntryOrderID string
	Status       PositionStatus
	StrategyTag  string
}

// Notional returns the exposure contributed by this position.
func (p Position) Notional() float64 {
	return float64(p.Quantity) * p.EntryPrice
}

// UnrealizedPnL returns the mark-to-market profit at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity) * p.Side.Sign()
}

// UnrealizedPnLPct returns the side-signed percentage move from entry,
// expressed as a fraction (0.02 == +2%).
func (p Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * p.Side.Sign()
}
