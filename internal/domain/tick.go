package domain

import "time"

// Tick is a single price/volume update for a symbol, as delivered by the
// broker feed. Ticks are immutable once accepted.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

// Valid reports whether the tick carries a usable price. Timestamp ordering
// is enforced separately by the price book, which knows the per-symbol
// history.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0
}
