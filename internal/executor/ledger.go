package executor

import (
	"sync"
	"time"
)

// fillLedger remembers order ids that already reached a terminal state so a
// replayed fill or reject callback can be recognized as a duplicate and
// dropped. It is safe for concurrent use.
type fillLedger struct {
	seen map[string]time.Time // order id -> time it went terminal
	ttl  time.Duration
	mu   sync.Mutex
}

func newFillLedger(ttl time.Duration) *fillLedger {
	return &fillLedger{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Mark records the order id as terminal.
func (l *fillLedger) Mark(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[orderID] = time.Now()
}

// Seen reports whether the order id went terminal within the TTL window.
func (l *fillLedger) Seen(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.seen[orderID]
	return ok && time.Since(ts) < l.ttl
}

// Cleanup removes expired entries. Called periodically from the pipeline loop
// to keep memory bounded.
func (l *fillLedger) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for id, ts := range l.seen {
		if now.Sub(ts) >= l.ttl {
			delete(l.seen, id)
		}
	}
}
