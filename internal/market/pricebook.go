// Package market maintains the in-process view of market data: the latest
// accepted price and a bounded history per symbol. The price book is the
// authoritative price source for the decision path; external caches only
// mirror it.
package market

import (
	"sync"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// Verdict is the outcome of offering a tick to the book.
type Verdict int

const (
	// Accepted means the tick was appended to the history.
	Accepted Verdict = iota
	// DroppedDuplicate means a tick with the same timestamp was already
	// accepted for the symbol (normal after a feed reconnect replay).
	DroppedDuplicate
	// DroppedOutOfOrder means the timestamp regressed beyond the tolerance.
	DroppedOutOfOrder
	// DroppedInvalid means the tick failed basic validation (price <= 0).
	DroppedInvalid
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case DroppedDuplicate:
		return "duplicate"
	case DroppedOutOfOrder:
		return "out_of_order"
	case DroppedInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type symbolBook struct {
	prices  []float64 // ring buffer
	head    int       // next write index
	n       int       // filled entries
	last    float64
	lastTS  time.Time
	stale   bool
	volume  int64
}

// PriceBook holds per-symbol price state. Safe for concurrent use.
type PriceBook struct {
	mu        sync.RWMutex
	symbols   map[string]*symbolBook
	capacity  int
	tolerance time.Duration
}

// NewPriceBook creates a book keeping up to capacity prices per symbol and
// tolerating timestamp regressions up to tolerance (older ticks inside the
// tolerance are still rejected as out of order, but do not count as
// integrity violations; callers decide how loudly to log each verdict).
func NewPriceBook(capacity int, tolerance time.Duration) *PriceBook {
	if capacity < 2 {
		capacity = 2
	}
	return &PriceBook{
		symbols:   make(map[string]*symbolBook),
		capacity:  capacity,
		tolerance: tolerance,
	}
}

// Offer validates the tick against the per-symbol ordering rules and appends
// it on success. Duplicate timestamps and regressions beyond the tolerance
// are dropped.
func (b *PriceBook) Offer(t domain.Tick) Verdict {
	if !t.Valid() {
		return DroppedInvalid
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.symbols[t.Symbol]
	if !ok {
		sb = &symbolBook{prices: make([]float64, b.capacity)}
		b.symbols[t.Symbol] = sb
	}

	if !sb.lastTS.IsZero() {
		if t.Timestamp.Equal(sb.lastTS) {
			return DroppedDuplicate
		}
		if t.Timestamp.Before(sb.lastTS.Add(-b.tolerance)) {
			return DroppedOutOfOrder
		}
	}

	sb.prices[sb.head] = t.Price
	sb.head = (sb.head + 1) % b.capacity
	if sb.n < b.capacity {
		sb.n++
	}
	sb.last = t.Price
	if t.Timestamp.After(sb.lastTS) {
		sb.lastTS = t.Timestamp
	}
	sb.stale = false
	sb.volume = t.Volume
	return Accepted
}

// LastPrice returns the most recent accepted price for the symbol. ok is
// false when the symbol is unknown or its history has been marked stale.
func (b *PriceBook) LastPrice(symbol string) (price float64, ts time.Time, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, found := b.symbols[symbol]
	if !found || sb.n == 0 || sb.stale {
		return 0, time.Time{}, false
	}
	return sb.last, sb.lastTS, true
}

// History returns the accepted prices for the symbol in chronological order,
// oldest first. The returned slice is a copy.
func (b *PriceBook) History(symbol string) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, found := b.symbols[symbol]
	if !found || sb.n == 0 {
		return nil
	}
	out := make([]float64, sb.n)
	start := sb.head - sb.n
	if start < 0 {
		start += b.capacity
	}
	for i := 0; i < sb.n; i++ {
		out[i] = sb.prices[(start+i)%b.capacity]
	}
	return out
}

// MarkStale flags the given symbols so that LastPrice stops answering until
// fresh ticks arrive. Used on feed disconnect.
func (b *PriceBook) MarkStale(symbols ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		if sb, ok := b.symbols[s]; ok {
			sb.stale = true
		}
	}
}

// MarkFresh clears the staleness flag without requiring a new tick. Used when
// the feed confirms a resubscription and the gap was short.
func (b *PriceBook) MarkFresh(symbols ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		if sb, ok := b.symbols[s]; ok {
			sb.stale = false
		}
	}
}

// Stale reports whether the symbol's history is currently flagged stale.
func (b *PriceBook) Stale(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, ok := b.symbols[symbol]
	return ok && sb.stale
}
