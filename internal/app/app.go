// Package app wires the trading bot together: stores, caches, broker,
// strategy, risk gate, execution pipeline, and position monitor. It owns the
// process lifecycle and runs everything under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantish/tradebot/internal/broker/live"
	"github.com/quantish/tradebot/internal/broker/sim"
	"github.com/quantish/tradebot/internal/config"
	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/executor"
	"github.com/quantish/tradebot/internal/market"
	"github.com/quantish/tradebot/internal/monitor"
	"github.com/quantish/tradebot/internal/orchestrator"
	"github.com/quantish/tradebot/internal/risk"
	"github.com/quantish/tradebot/internal/strategy"

	"github.com/google/uuid"
)

// Synthetic feed parameters for paper mode without a venue feed.
const (
	walkBasePrice = 100.0
	walkStepPct   = 0.001
	walkInterval  = 500 * time.Millisecond
)

// signalBuffer bounds the strategy-to-executor channel.
const signalBuffer = 64

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the trading goroutines, and blocks until
// the context is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting bot",
		slog.String("mode", a.cfg.Mode),
		slog.Any("symbols", a.cfg.Symbols),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	return a.run(ctx, deps)
}

// run builds the trading core on top of the wired dependencies and drives it.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	hours, err := risk.ParseHours(a.cfg.Hours.Start, a.cfg.Hours.End, a.cfg.Location())
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	book := market.NewPriceBook(a.cfg.Feed.HistorySize, a.cfg.Feed.TimestampTolerance.Duration)
	gate := risk.NewGate(risk.Limits{
		MaxPositionSize:      a.cfg.Risk.MaxPositionSize,
		MaxTotalExposure:     a.cfg.Risk.MaxTotalExposure,
		MaxLossPerDay:        a.cfg.Risk.MaxLossPerDay,
		MaxOrdersPerMinute:   a.cfg.Risk.MaxOrdersPerMinute,
		MinPrice:             a.cfg.Risk.MinPrice,
		MaxPrice:             a.cfg.Risk.MaxPrice,
		MaxPriceDeviationPct: a.cfg.Risk.MaxPriceDeviationPct,
	}, hours, book, a.logger)

	// Recover the day's realized PnL from persisted trades so a restart does
	// not silently un-trip the breaker.
	if pnl, perr := deps.TradeStore.GetDailyPnL(ctx, time.Now().UTC()); perr != nil {
		a.logger.Warn("daily pnl recovery failed", slog.String("error", perr.Error()))
	} else if gate.SeedDaily(pnl) {
		a.logger.Error("circuit breaker tripped on recovered daily loss",
			slog.Float64("daily_realized", pnl))
		a.recordEvent(ctx, deps, "circuit_breaker",
			fmt.Sprintf("daily loss limit already reached at startup (realized %.2f)", pnl),
			domain.SeverityCritical)
	}

	sizer, err := risk.NewSizer(
		a.cfg.Sizing.Method,
		a.cfg.Sizing.FixedNotional,
		a.cfg.Sizing.RiskFraction,
		a.cfg.Risk.StopLossPct,
		a.cfg.Risk.MaxPositionSize,
		a.cfg.Sizing.LotSize,
	)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	strat, err := strategy.NewRegistry().Build(strategy.Config{
		Name:            a.cfg.Strategy.Name,
		FastPeriod:      a.cfg.Strategy.FastPeriod,
		SlowPeriod:      a.cfg.Strategy.SlowPeriod,
		Lookback:        a.cfg.Strategy.Lookback,
		StdDevThreshold: a.cfg.Strategy.StdDevThreshold,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	broker, async, connSrc, err := a.buildBroker()
	if err != nil {
		return err
	}

	signals := make(chan domain.Signal, signalBuffer)

	var tickStore domain.TickStore
	if a.cfg.Feed.PersistTicks {
		tickStore = deps.TickStore
	}
	writer := orchestrator.NewTickWriter(a.cfg.Feed.TickBuffer, tickStore, deps.PriceCache, a.logger)

	pipe := executor.NewPipeline(
		signals, broker, gate, sizer,
		deps.OrderStore, deps.TradeStore, deps.EventStore, deps.Notifier,
		a.cfg.Risk.MaxSlippagePct, a.logger,
	)
	pipe.SetOrderTimeout(a.cfg.Broker.OrderTimeout.Duration)

	orch := orchestrator.New(
		broker, book, strat, signals, writer, deps.EventStore,
		a.cfg.Symbols, a.cfg.Feed.TickBuffer, a.logger,
	)

	mon := monitor.New(
		gate, book, orch, signals, deps.EventStore, deps.Notifier,
		a.cfg.Monitor.Interval.Duration,
		a.cfg.Risk.StopLossPct, a.cfg.Risk.TakeProfitPct,
		a.logger,
	)

	// Async venues report fills, rejects, and connectivity out of band.
	// Callbacks must be registered before the broker connects.
	if async != nil {
		async.OnFill(pipe.HandleFill)
		async.OnReject(pipe.HandleReject)
	}
	if connSrc != nil {
		connSrc.OnConnEvent(orch.HandleConnEvent)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.recordEvent(ctx, deps, "bot_started", fmt.Sprintf("mode=%s symbols=%v", a.cfg.Mode, a.cfg.Symbols), domain.SeverityInfo)
	_ = deps.Notifier.NotifyAll(ctx, domain.NewAlert("bot_started", "Bot started", "", domain.SeverityInfo).
		WithField("mode", a.cfg.Mode).
		WithField("symbols", fmt.Sprintf("%v", a.cfg.Symbols)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error { return a.statusLoop(gctx, gate, broker) })
	g.Go(func() error { return a.errorLoop(gctx, pipe) })
	g.Go(func() error { return a.breakerResetLoop(gctx, deps, gate) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}

	err = g.Wait()

	// Shutdown uses a fresh context; the run context is already cancelled.
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.cfg.Broker.CloseOnShutdown {
		a.closeAllPositions(stopCtx, deps, broker, gate, book)
	}
	if cerr := broker.Close(stopCtx); cerr != nil {
		a.logger.Warn("broker close failed", slog.String("error", cerr.Error()))
	}

	a.recordEvent(stopCtx, deps, "bot_stopped", "shutdown complete", domain.SeverityInfo)
	_ = deps.Notifier.NotifyAll(stopCtx, domain.NewAlert("bot_stopped", "Bot stopped", "shutdown complete", domain.SeverityInfo))

	if errors.Is(err, context.Canceled) {
		// Plain operator-initiated shutdown.
		return nil
	}
	return err
}

// connNotifier is implemented by data sources that report feed connectivity
// transitions.
type connNotifier interface {
	OnConnEvent(domain.ConnHandler)
}

// buildBroker selects the venue adapter for the configured mode. The async
// return value is non-nil for venues with out-of-band fill reporting; the
// connNotifier is non-nil whenever the data feed can report disconnects.
func (a *App) buildBroker() (domain.Broker, domain.AsyncBroker, connNotifier, error) {
	switch a.cfg.Mode {
	case "live":
		lb := live.New(a.cfg.Broker.WsURL, a.cfg.Broker.APIToken, a.cfg.Broker.ReconnectDelay.Duration, a.logger)
		return lb, lb, lb, nil
	case "paper":
		var feed sim.TickFeed
		var conn connNotifier
		if a.cfg.Broker.WsURL != "" {
			// Real market data, virtual money.
			venueFeed := live.New(a.cfg.Broker.WsURL, a.cfg.Broker.APIToken, a.cfg.Broker.ReconnectDelay.Duration, a.logger)
			feed = venueFeed
			conn = venueFeed
		} else {
			feed = sim.NewRandomWalk(walkBasePrice, walkStepPct, walkInterval)
		}
		return sim.New(feed, a.cfg.Broker.StartingBalance, a.cfg.Broker.SlippagePct, a.logger), nil, conn, nil
	default:
		return nil, nil, nil, fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// statusLoop periodically logs a one-line account and risk summary.
func (a *App) statusLoop(ctx context.Context, gate *risk.Gate, broker domain.Broker) error {
	interval := a.cfg.Monitor.StatusInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := gate.Snapshot()
			attrs := []any{
				slog.String("breaker", string(snap.Breaker)),
				slog.Float64("daily_realized", snap.DailyRealized),
				slog.Float64("daily_unrealized", snap.DailyUnrealized),
				slog.Float64("exposure", snap.TotalExposure),
				slog.Int("open_positions", snap.OpenPositions),
				slog.Int("orders_in_window", snap.OrdersInWindow),
			}
			if bal, err := broker.GetBalance(ctx); err == nil {
				attrs = append(attrs,
					slog.Float64("cash", bal.Cash),
					slog.Float64("equity", bal.Equity),
				)
			}
			a.logger.InfoContext(ctx, "status", attrs...)
		}
	}
}

// breakerResetLoop clears a tripped circuit breaker on SIGHUP, so an operator
// can resume trading without restarting the process.
func (a *App) breakerResetLoop(ctx context.Context, deps *Dependencies, gate *risk.Gate) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
			gate.Reset()
			a.logger.Warn("circuit breaker reset requested via SIGHUP")
			a.recordEvent(ctx, deps, "circuit_breaker",
				"circuit breaker reset by operator (SIGHUP)", domain.SeverityWarning)
		}
	}
}

// errorLoop surfaces execution pipeline errors into the log.
func (a *App) errorLoop(ctx context.Context, pipe *executor.Pipeline) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pipe.Errors():
			a.logger.ErrorContext(ctx, "execution error", slog.String("error", err.Error()))
		}
	}
}

// archiveLoop exports the previous day's trades and events shortly after each
// UTC midnight.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			prev := time.Now().UTC().Add(-24 * time.Hour)
			if _, _, err := deps.Archiver.ArchiveDay(ctx, prev); err != nil {
				a.logger.ErrorContext(ctx, "day archive failed",
					slog.String("day", prev.Format("2006-01-02")),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// closeAllPositions unwinds the open book at the last known prices. Best
// effort: failures are logged, not retried.
func (a *App) closeAllPositions(ctx context.Context, deps *Dependencies, broker domain.Broker, gate *risk.Gate, book *market.PriceBook) {
	positions := gate.OpenPositions()
	if len(positions) == 0 {
		return
	}
	a.logger.Info("closing open positions on shutdown", slog.Int("count", len(positions)))

	for _, pos := range positions {
		price, _, ok := book.LastPrice(pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		order, err := broker.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:      pos.Symbol,
			Side:        pos.Side.Opposite(),
			Quantity:    pos.Quantity,
			Type:        domain.OrderTypeMarket,
			Price:       price,
			StrategyTag: "shutdown",
			Closing:     true,
		})
		if err != nil {
			a.logger.Error("shutdown close failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := deps.OrderStore.RecordOrder(ctx, order); err != nil {
			a.logger.Warn("record shutdown order failed", slog.String("error", err.Error()))
		}
		if order.Status != domain.OrderStatusFilled {
			continue
		}

		closed, pnl, _, err := gate.RecordExit(pos.Symbol, order.FilledPrice)
		if err != nil {
			continue
		}
		now := time.Now().UTC()
		trade := domain.Trade{
			ID:           uuid.NewString(),
			Symbol:       closed.Symbol,
			Side:         closed.Side,
			Quantity:     closed.Quantity,
			EntryOrderID: closed.EntryOrderID,
			ExitOrderID:  order.ID,
			EntryPrice:   closed.EntryPrice,
			ExitPrice:    order.FilledPrice,
			PnL:          pnl,
			PnLPct:       closed.UnrealizedPnLPct(order.FilledPrice),
			EntryTime:    closed.EntryTime,
			ExitTime:     now,
			StrategyTag:  closed.StrategyTag,
		}
		if err := deps.TradeStore.RecordTrade(ctx, trade); err != nil {
			a.logger.Warn("record shutdown trade failed", slog.String("error", err.Error()))
		}
	}
}

func (a *App) recordEvent(ctx context.Context, deps *Dependencies, eventType, message string, sev domain.EventSeverity) {
	if err := deps.EventStore.RecordEvent(ctx, eventType, message, sev); err != nil {
		a.logger.Warn("record event failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
