// Package orchestrator owns the tick ingestion loop: the single goroutine
// that validates ticks, appends them to the price book, hands them to the
// strategy, and routes the resulting signals into the execution pipeline.
// Broker callbacks only enqueue; every decision happens on this loop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/market"
)

// Orchestrator multiplexes all subscribed symbols onto one bounded channel
// and drains it in Run. It also remembers the latest strategy signal per
// symbol for the position monitor's reversal rule.
type Orchestrator struct {
	broker  domain.Broker
	book    *market.PriceBook
	strat   domain.Strategy
	signals chan<- domain.Signal
	writer  *TickWriter
	events  domain.EventStore
	logger  *slog.Logger

	symbols []string
	ticks   chan domain.Tick
	dropped atomic.Int64

	sigMu      sync.RWMutex
	lastSignal map[string]domain.Signal
}

// New creates an Orchestrator. events may be nil.
func New(
	broker domain.Broker,
	book *market.PriceBook,
	strat domain.Strategy,
	signals chan<- domain.Signal,
	writer *TickWriter,
	events domain.EventStore,
	symbols []string,
	tickBuffer int,
	logger *slog.Logger,
) *Orchestrator {
	if tickBuffer < 1 {
		tickBuffer = 1
	}
	return &Orchestrator{
		broker:     broker,
		book:       book,
		strat:      strat,
		signals:    signals,
		writer:     writer,
		events:     events,
		symbols:    symbols,
		ticks:      make(chan domain.Tick, tickBuffer),
		lastSignal: make(map[string]domain.Signal),
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Start connects the broker and subscribes the symbol set. A failure here is
// fatal; there is nothing to trade without a feed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.broker.Connect(ctx); err != nil {
		return fmt.Errorf("orchestrator: broker connect: %w", err)
	}
	if err := o.broker.SubscribeTicks(ctx, o.symbols, o.EnqueueTick); err != nil {
		return fmt.Errorf("orchestrator: subscribe %d symbols: %w", len(o.symbols), err)
	}
	o.logger.Info("feed subscribed", slog.Int("symbols", len(o.symbols)))
	return nil
}

// EnqueueTick is the broker tick callback. It never blocks the feed's read
// loop: when the buffer is full the tick is dropped and counted.
func (o *Orchestrator) EnqueueTick(t domain.Tick) {
	select {
	case o.ticks <- t:
	default:
		if n := o.dropped.Add(1); n%1000 == 1 {
			o.logger.Warn("tick buffer full", slog.Int64("dropped_total", n))
		}
	}
}

// DroppedTicks returns how many ticks were discarded at intake.
func (o *Orchestrator) DroppedTicks() int64 {
	return o.dropped.Load()
}

// HandleConnEvent reacts to feed connectivity changes: a disconnect marks
// the affected symbols stale so no decisions run on obsolete prices; a
// confirmed resubscription clears the staleness.
func (o *Orchestrator) HandleConnEvent(ev domain.ConnEvent) {
	switch ev.Kind {
	case domain.ConnDisconnected:
		o.book.MarkStale(ev.Symbols...)
		o.logger.Warn("feed disconnected, symbols marked stale",
			slog.Int("symbols", len(ev.Symbols)))
		o.recordEvent(context.Background(), "feed_disconnected",
			fmt.Sprintf("%d symbols marked stale", len(ev.Symbols)),
			domain.SeverityWarning)
	case domain.ConnResubscribed:
		o.book.MarkFresh(ev.Symbols...)
		o.logger.Info("feed resubscribed, symbols fresh again",
			slog.Int("symbols", len(ev.Symbols)))
	}
}

// LatestSignal returns the most recent signal the strategy emitted for the
// symbol. Implements the monitor's SignalSource.
func (o *Orchestrator) LatestSignal(symbol string) (domain.Signal, bool) {
	o.sigMu.RLock()
	defer o.sigMu.RUnlock()
	sig, ok := o.lastSignal[symbol]
	return sig, ok
}

// Run drains the tick channel until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("tick loop started")
	defer o.logger.Info("tick loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-o.ticks:
			o.handleTick(ctx, t)
		}
	}
}

// handleTick runs the per-tick decision path: book admission, best-effort
// persistence, strategy, signal routing.
func (o *Orchestrator) handleTick(ctx context.Context, t domain.Tick) {
	switch verdict := o.book.Offer(t); verdict {
	case market.Accepted:
	case market.DroppedDuplicate:
		o.logger.Debug("duplicate tick dropped",
			slog.String("symbol", t.Symbol),
			slog.Time("ts", t.Timestamp))
		return
	case market.DroppedOutOfOrder:
		o.logger.Warn("out-of-order tick dropped",
			slog.String("symbol", t.Symbol),
			slog.Time("ts", t.Timestamp))
		o.recordEvent(ctx, "integrity",
			fmt.Sprintf("out-of-order tick for %s at %s", t.Symbol, t.Timestamp.Format("15:04:05.000")),
			domain.SeverityWarning)
		return
	default: // invalid
		o.logger.Warn("invalid tick dropped", slog.String("symbol", t.Symbol))
		o.recordEvent(ctx, "integrity",
			fmt.Sprintf("invalid tick for %q (price %.4f)", t.Symbol, t.Price),
			domain.SeverityWarning)
		return
	}

	if o.writer != nil {
		o.writer.Offer(t)
	}

	sig, ok := o.strat.OnTick(t.Symbol, t.Price)
	if !ok {
		return
	}

	o.sigMu.Lock()
	o.lastSignal[t.Symbol] = sig
	o.sigMu.Unlock()

	select {
	case o.signals <- sig:
		o.logger.Info("signal routed",
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Action)),
			slog.String("source", sig.Source))
	default:
		o.logger.Warn("signal channel full, signal dropped",
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Action)))
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, eventType, message string, sev domain.EventSeverity) {
	if o.events == nil {
		return
	}
	if err := o.events.RecordEvent(ctx, eventType, message, sev); err != nil {
		o.logger.Warn("event persist failed", slog.String("error", err.Error()))
	}
}
