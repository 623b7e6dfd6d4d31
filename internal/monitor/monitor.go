// Package monitor supervises open positions on a fixed cadence. Each sweep
// walks a snapshot of the position book, applies the exit rules against the
// latest accepted prices, and routes exit intents through the execution
// pipeline's signal channel. It never places orders itself.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/risk"
)

// PriceSource answers the last accepted price per symbol. A false ok means
// the symbol is stale or unknown and the position is skipped this sweep.
type PriceSource interface {
	LastPrice(symbol string) (price float64, ts time.Time, ok bool)
}

// SignalSource exposes the most recent strategy intent per symbol. The tick
// loop maintains it; the monitor consults it for the strategy-exit rule.
type SignalSource interface {
	LatestSignal(symbol string) (domain.Signal, bool)
}

// Alerter is the operator notification port.
type Alerter interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Monitor evaluates open positions against stop-loss, take-profit, and
// strategy reversal rules, in that order. The first matching rule wins.
type Monitor struct {
	gate     *risk.Gate
	prices   PriceSource
	strategy SignalSource
	signals  chan<- domain.Signal
	events   domain.EventStore
	alerts   Alerter
	logger   *slog.Logger

	interval      time.Duration
	stopLossPct   float64
	takeProfitPct float64
}

// New creates a Monitor sweeping at the given interval. strategy, events, and
// alerts may be nil.
func New(
	gate *risk.Gate,
	prices PriceSource,
	strategy SignalSource,
	signals chan<- domain.Signal,
	events domain.EventStore,
	alerts Alerter,
	interval time.Duration,
	stopLossPct, takeProfitPct float64,
	logger *slog.Logger,
) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		gate:          gate,
		prices:        prices,
		strategy:      strategy,
		signals:       signals,
		events:        events,
		alerts:        alerts,
		interval:      interval,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
		logger:        logger.With(slog.String("component", "monitor")),
	}
}

// Run sweeps until the context is cancelled. Cancellation between sweeps
// takes effect immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started", slog.Duration("interval", m.interval))
	defer m.logger.Info("position monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one evaluation cycle over a consistent snapshot of open
// positions and reports the aggregate unrealized PnL to the risk gate.
func (m *Monitor) Sweep(ctx context.Context) {
	positions := m.gate.OpenPositions()
	var unrealized float64

	for _, pos := range positions {
		price, _, ok := m.prices.LastPrice(pos.Symbol)
		if !ok {
			m.logger.Debug("no fresh price for position, skipping",
				slog.String("symbol", pos.Symbol))
			continue
		}
		unrealized += pos.UnrealizedPnL(price)

		if reason, hit := m.exitRule(pos, price); hit {
			m.emitExit(pos, price, reason)
		}
	}

	if m.gate.MarkUnrealized(unrealized) {
		m.logger.Error("circuit breaker tripped on unrealized loss",
			slog.Float64("unrealized", unrealized))
		m.recordEvent(ctx, "circuit_breaker",
			fmt.Sprintf("daily loss limit reached on unrealized PnL %.2f", unrealized),
			domain.SeverityCritical)
		m.alert(ctx, domain.NewAlert("circuit_breaker", "Circuit breaker tripped",
			"Unrealized loss pushed the day past the loss limit. Trading halted.", domain.SeverityCritical).
			WithField("unrealized", fmt.Sprintf("%.2f", unrealized)).
			WithField("open_positions", strconv.Itoa(len(positions))))
	}
}

// exitRule returns the name of the first exit rule the position triggers at
// the given price. Stop-loss and take-profit fire exactly at their
// thresholds.
func (m *Monitor) exitRule(pos domain.Position, price float64) (string, bool) {
	pct := pos.UnrealizedPnLPct(price)
	switch {
	case m.stopLossPct > 0 && pct <= -m.stopLossPct:
		return "stop_loss", true
	case m.takeProfitPct > 0 && pct >= m.takeProfitPct:
		return "take_profit", true
	}
	if m.strategy != nil {
		if sig, ok := m.strategy.LatestSignal(pos.Symbol); ok && !sig.Closing && sig.Action == pos.Side.Opposite() {
			return "strategy_exit", true
		}
	}
	return "", false
}

// emitExit enqueues a closing signal. A full channel drops the signal; the
// rule fires again next sweep while the position stays open.
func (m *Monitor) emitExit(pos domain.Position, price float64, reason string) {
	sig := domain.Signal{
		ID:        uuid.New().String(),
		Symbol:    pos.Symbol,
		Action:    pos.Side.Opposite(),
		Price:     price,
		Quantity:  pos.Quantity,
		Closing:   true,
		Source:    reason,
		Reason:    fmt.Sprintf("%s at %.2f (entry %.2f)", reason, price, pos.EntryPrice),
		CreatedAt: time.Now().UTC(),
	}
	select {
	case m.signals <- sig:
		m.logger.Info("exit signal emitted",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason),
			slog.Float64("price", price),
			slog.Float64("entry_price", pos.EntryPrice))
	default:
		m.logger.Warn("signal channel full, exit deferred to next sweep",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason))
	}
}

func (m *Monitor) recordEvent(ctx context.Context, eventType, message string, sev domain.EventSeverity) {
	if m.events == nil {
		return
	}
	if err := m.events.RecordEvent(ctx, eventType, message, sev); err != nil {
		m.logger.Warn("event persist failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) alert(ctx context.Context, a domain.Alert) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Notify(ctx, a); err != nil {
		m.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}
