package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// TickWriter moves accepted ticks off the decision path: it persists them and
// mirrors the latest price to the external cache from its own goroutine.
// Offer never blocks; when the buffer is full the tick is dropped and
// counted.
type TickWriter struct {
	ch      chan domain.Tick
	store   domain.TickStore   // nil disables persistence
	cache   domain.PriceCache  // nil disables mirroring
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewTickWriter creates a TickWriter with the given buffer size.
func NewTickWriter(buffer int, store domain.TickStore, cache domain.PriceCache, logger *slog.Logger) *TickWriter {
	if buffer < 1 {
		buffer = 1
	}
	return &TickWriter{
		ch:     make(chan domain.Tick, buffer),
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "tick_writer")),
	}
}

// Offer enqueues a tick for persistence without blocking.
func (w *TickWriter) Offer(t domain.Tick) {
	select {
	case w.ch <- t:
	default:
		if n := w.dropped.Add(1); n%1000 == 1 {
			w.logger.Warn("tick writer buffer full", slog.Int64("dropped_total", n))
		}
	}
}

// Dropped returns how many ticks were discarded because the buffer was full.
func (w *TickWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Run consumes the buffer until the context is cancelled, then flushes what
// remains under a bounded deadline.
func (w *TickWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return ctx.Err()
		case t := <-w.ch:
			w.write(ctx, t)
		}
	}
}

// flush drains the buffer after shutdown so accepted ticks are not lost.
func (w *TickWriter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case t := <-w.ch:
			w.write(ctx, t)
		default:
			return
		}
	}
}

// write performs both sinks best-effort; a failing sink never affects the
// other or the caller.
func (w *TickWriter) write(ctx context.Context, t domain.Tick) {
	if w.store != nil {
		if err := w.store.RecordTick(ctx, t); err != nil {
			w.logger.Warn("tick persist failed",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()))
		}
	}
	if w.cache != nil {
		if err := w.cache.SetPrice(ctx, t.Symbol, t.Price, t.Timestamp); err != nil {
			w.logger.Warn("price mirror failed",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()))
		}
	}
}
