// Package executor implements the order execution pipeline. It is the only
// component that talks to the broker's order side: it consumes trade signals
// from a channel, runs them through the risk gate, submits the surviving
// orders, and reconciles fills back into positions and trades.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/risk"
)

// Alerter is the operator notification port, implemented by the notifier.
type Alerter interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Pipeline reads signals from a single channel (entries from the tick loop,
// exits from the position monitor) and executes them one at a time. The
// single-consumer loop serializes all risk checks; asynchronous fill and
// reject callbacks from live brokers land in a pending table and are
// reconciled out of band.
type Pipeline struct {
	signals <-chan domain.Signal
	broker  domain.Broker
	gate    *risk.Gate
	sizer   risk.Sizer
	orders  domain.OrderStore
	trades  domain.TradeStore
	events  domain.EventStore
	alerts  Alerter
	logger  *slog.Logger

	maxSlippagePct  float64
	drainTimeout    time.Duration
	cleanupInterval time.Duration

	mu      sync.Mutex
	pending map[string]domain.Order // order id -> order awaiting async outcome
	exits   map[string]bool         // symbols with an in-flight closing order
	done    *fillLedger

	errCh chan error
}

// NewPipeline creates a Pipeline. alerts may be nil when notifications are
// disabled.
func NewPipeline(
	signals <-chan domain.Signal,
	broker domain.Broker,
	gate *risk.Gate,
	sizer risk.Sizer,
	orders domain.OrderStore,
	trades domain.TradeStore,
	events domain.EventStore,
	alerts Alerter,
	maxSlippagePct float64,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		signals:         signals,
		broker:          broker,
		gate:            gate,
		sizer:           sizer,
		orders:          orders,
		trades:          trades,
		events:          events,
		alerts:          alerts,
		logger:          logger.With(slog.String("component", "executor")),
		maxSlippagePct:  maxSlippagePct,
		drainTimeout:    5 * time.Second,
		cleanupInterval: time.Minute,
		pending:         make(map[string]domain.Order),
		exits:           make(map[string]bool),
		done:            newFillLedger(10 * time.Minute),
		errCh:           make(chan error, 16),
	}
}

// SetOrderTimeout overrides the per-signal processing bound used while
// draining on shutdown.
func (p *Pipeline) SetOrderTimeout(d time.Duration) {
	if d > 0 {
		p.drainTimeout = d
	}
}

// Errors exposes non-fatal pipeline failures (placement errors, broker
// rejections). The channel is buffered; when nobody reads it, errors are
// logged and dropped rather than blocking execution.
func (p *Pipeline) Errors() <-chan error {
	return p.errCh
}

// Run processes signals until the context is cancelled, then drains whatever
// is still buffered in the channel and returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("execution pipeline started")
	defer p.logger.Info("execution pipeline stopped")

	cleanup := time.NewTicker(p.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()

		case sig, ok := <-p.signals:
			if !ok {
				return nil
			}
			p.process(ctx, sig)

		case <-cleanup.C:
			p.done.Cleanup()
		}
	}
}

// process runs one signal through sizing, the risk gate, and order submission.
// A denied decision is an expected outcome: it is logged and event-recorded,
// never returned as an error.
func (p *Pipeline) process(ctx context.Context, sig domain.Signal) {
	log := p.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Action)),
		slog.String("source", sig.Source),
	)

	if sig.Closing {
		p.mu.Lock()
		inflight := p.exits[sig.Symbol]
		p.mu.Unlock()
		if inflight {
			log.Debug("exit already in flight, skipping")
			return
		}
	} else if d := p.gate.CanTrade(); !d.Allowed {
		// Entry preconditions only. Exits stay allowed under a tripped
		// breaker, outside the session, and at the rate limit so an open
		// position can always unwind.
		log.Warn("signal blocked", slog.String("reason", d.Reason))
		p.recordEvent(ctx, "order_blocked",
			fmt.Sprintf("%s %s %s: %s", sig.Symbol, sig.Action, sig.Source, d.Reason),
			domain.SeverityWarning)
		return
	}

	bal, err := p.broker.GetBalance(ctx)
	if err != nil {
		log.Error("balance lookup failed", slog.String("error", err.Error()))
		p.reportErr(fmt.Errorf("executor: balance lookup: %w", err))
		return
	}

	qty := sig.Quantity
	if qty == 0 {
		if sig.Closing {
			pos, ok := p.gate.Position(sig.Symbol)
			if !ok {
				log.Debug("no open position to close, skipping")
				return
			}
			qty = pos.Quantity
		} else {
			qty = p.sizer.Quantity(sig.Price, bal.Equity)
		}
	}
	if qty <= 0 {
		log.Debug("sized to zero, skipping")
		return
	}

	req := domain.OrderRequest{
		Symbol:      sig.Symbol,
		Side:        sig.Action,
		Quantity:    qty,
		Type:        domain.OrderTypeMarket,
		Price:       sig.Price,
		StrategyTag: sig.Source,
		Closing:     sig.Closing,
	}

	d, err := p.gate.ValidateOrder(req, bal.Cash)
	if err != nil {
		log.Error("invalid order request", slog.String("error", err.Error()))
		p.recordEvent(ctx, "order_error",
			fmt.Sprintf("invalid order for %s: %v", sig.Symbol, err),
			domain.SeverityError)
		return
	}
	if !d.Allowed {
		log.Warn("order rejected by risk gate", slog.String("reason", d.Reason))
		p.recordEvent(ctx, "order_rejected",
			fmt.Sprintf("%s %s x%d @ %.2f: %s", sig.Symbol, sig.Action, qty, sig.Price, d.Reason),
			domain.SeverityWarning)
		p.alert(ctx, domain.NewAlert("order_rejected", "Order rejected", d.Reason, domain.SeverityWarning).
			WithField("symbol", sig.Symbol).
			WithField("side", string(sig.Action)).
			WithField("quantity", strconv.FormatInt(qty, 10)).
			WithField("price", fmt.Sprintf("%.2f", sig.Price)))
		return
	}

	if !req.Closing {
		// Reserve the symbol so two concurrent entries cannot both open a
		// position. Released on reject or placement failure.
		if err := p.gate.ClaimEntry(req.Symbol, sig.ID); err != nil {
			log.Debug("position already open or entry pending, skipping")
			return
		}
	} else {
		p.setExitInFlight(req.Symbol, true)
	}

	p.gate.CountOrder()
	order, err := p.broker.PlaceOrder(ctx, req)
	if err != nil {
		p.releaseRequest(req)
		log.Error("order placement failed", slog.String("error", err.Error()))
		p.recordEvent(ctx, "order_error",
			fmt.Sprintf("placement failed for %s %s: %v", req.Symbol, req.Side, err),
			domain.SeverityError)
		p.reportErr(fmt.Errorf("executor: place %s %s: %w", req.Symbol, req.Side, err))
		return
	}

	if err := p.orders.RecordOrder(ctx, order); err != nil {
		log.Warn("order persist failed", slog.String("error", err.Error()))
	}

	switch order.Status {
	case domain.OrderStatusFilled:
		at := time.Now().UTC()
		if order.FilledAt != nil {
			at = *order.FilledAt
		}
		p.reconcile(ctx, order, domain.Fill{
			OrderID:  order.ID,
			Price:    order.FilledPrice,
			Quantity: order.FilledQuantity,
			At:       at,
		})

	case domain.OrderStatusRejected:
		p.releaseRequest(req)
		p.done.Mark(order.ID)
		log.Warn("order rejected by broker",
			slog.String("order_id", order.ID),
			slog.String("reason", order.Reason))
		p.recordEvent(ctx, "order_rejected",
			fmt.Sprintf("broker rejected %s %s: %s", req.Symbol, req.Side, order.Reason),
			domain.SeverityWarning)
		p.alert(ctx, domain.NewAlert("order_rejected", "Broker rejected order", order.Reason, domain.SeverityWarning).
			WithField("symbol", req.Symbol).
			WithField("side", string(req.Side)).
			WithField("quantity", strconv.FormatInt(qty, 10)))
		p.reportErr(fmt.Errorf("executor: broker rejected %s %s: %s", req.Symbol, req.Side, order.Reason))

	default:
		// Live venues answer PENDING; the outcome arrives via HandleFill or
		// HandleReject.
		p.mu.Lock()
		p.pending[order.ID] = order
		p.mu.Unlock()
		log.Info("order pending",
			slog.String("order_id", order.ID),
			slog.Int64("quantity", qty))
	}
}

// HandleFill completes an asynchronously filled order. A fill for an order id
// that already went terminal is a logged no-op; a fill for an id the pipeline
// never submitted is dropped with an integrity event.
func (p *Pipeline) HandleFill(fill domain.Fill) {
	p.mu.Lock()
	order, ok := p.pending[fill.OrderID]
	if ok {
		delete(p.pending, fill.OrderID)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !ok {
		if p.done.Seen(fill.OrderID) {
			p.logger.Info("duplicate fill ignored", slog.String("order_id", fill.OrderID))
			return
		}
		p.logger.Error("fill for unknown order", slog.String("order_id", fill.OrderID))
		p.recordEvent(ctx, "integrity",
			fmt.Sprintf("fill for unknown order %s", fill.OrderID),
			domain.SeverityError)
		return
	}

	if err := p.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusFilled, fill.Price, fill.Quantity); err != nil {
		p.logger.Warn("order status persist failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
	}
	order.Status = domain.OrderStatusFilled
	order.FilledPrice = fill.Price
	order.FilledQuantity = fill.Quantity
	p.reconcile(ctx, order, fill)
}

// HandleReject completes an asynchronously rejected order and releases the
// symbol reservation it held.
func (p *Pipeline) HandleReject(orderID, reason string) {
	p.mu.Lock()
	order, ok := p.pending[orderID]
	if ok {
		delete(p.pending, orderID)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !ok {
		if p.done.Seen(orderID) {
			p.logger.Info("duplicate reject ignored", slog.String("order_id", orderID))
			return
		}
		p.logger.Error("reject for unknown order", slog.String("order_id", orderID))
		p.recordEvent(ctx, "integrity",
			fmt.Sprintf("reject for unknown order %s", orderID),
			domain.SeverityError)
		return
	}

	p.done.Mark(orderID)
	if order.Closing {
		p.setExitInFlight(order.Symbol, false)
	} else {
		p.gate.ReleaseClaim(order.Symbol)
	}
	if err := p.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusRejected, 0, 0); err != nil {
		p.logger.Warn("order status persist failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}
	p.logger.Warn("order rejected by venue",
		slog.String("order_id", orderID),
		slog.String("symbol", order.Symbol),
		slog.String("reason", reason))
	p.recordEvent(ctx, "order_rejected",
		fmt.Sprintf("venue rejected %s %s: %s", order.Symbol, order.Side, reason),
		domain.SeverityWarning)
	p.alert(ctx, domain.NewAlert("order_rejected", "Venue rejected order", reason, domain.SeverityWarning).
		WithField("symbol", order.Symbol).
		WithField("side", string(order.Side)).
		WithField("quantity", strconv.FormatInt(order.Quantity, 10)))
	p.reportErr(fmt.Errorf("executor: venue rejected %s %s: %s", order.Symbol, order.Side, reason))
}

// reconcile applies a fill to the position book: entries open a position,
// exits close one and produce a Trade. Also checks realized slippage against
// the configured limit.
func (p *Pipeline) reconcile(ctx context.Context, order domain.Order, fill domain.Fill) {
	p.done.Mark(order.ID)
	log := p.logger.With(
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
	)

	if p.maxSlippagePct > 0 && order.RequestedPrice > 0 {
		slip := math.Abs(fill.Price-order.RequestedPrice) / order.RequestedPrice
		if slip > p.maxSlippagePct {
			log.Warn("fill slippage above limit",
				slog.Float64("requested", order.RequestedPrice),
				slog.Float64("filled", fill.Price),
				slog.Float64("slippage_pct", slip*100))
			p.recordEvent(ctx, "slippage",
				fmt.Sprintf("%s filled at %.4f vs requested %.4f (%.2f%%)",
					order.Symbol, fill.Price, order.RequestedPrice, slip*100),
				domain.SeverityWarning)
		}
	}

	if order.Closing {
		p.setExitInFlight(order.Symbol, false)
		pos, realized, tripped, err := p.gate.RecordExit(order.Symbol, fill.Price)
		if err != nil {
			log.Error("exit fill without open position", slog.String("error", err.Error()))
			p.recordEvent(ctx, "integrity",
				fmt.Sprintf("exit fill for %s with no open position", order.Symbol),
				domain.SeverityError)
			return
		}
		trade := domain.Trade{
			ID:           uuid.New().String(),
			Symbol:       pos.Symbol,
			Side:         pos.Side,
			Quantity:     pos.Quantity,
			EntryOrderID: pos.EntryOrderID,
			ExitOrderID:  order.ID,
			EntryPrice:   pos.EntryPrice,
			ExitPrice:    fill.Price,
			PnL:          realized,
			PnLPct:       pos.UnrealizedPnLPct(fill.Price),
			EntryTime:    pos.EntryTime,
			ExitTime:     fill.At,
			StrategyTag:  pos.StrategyTag,
		}
		if err := p.trades.RecordTrade(ctx, trade); err != nil {
			log.Warn("trade persist failed", slog.String("error", err.Error()))
		}
		log.Info("position closed",
			slog.Float64("exit_price", fill.Price),
			slog.Float64("pnl", realized))
		p.alert(ctx, domain.NewAlert("order_filled", "Position closed", "", domain.SeverityInfo).
			WithField("symbol", pos.Symbol).
			WithField("side", string(pos.Side)).
			WithField("quantity", strconv.FormatInt(pos.Quantity, 10)).
			WithField("exit_price", fmt.Sprintf("%.2f", fill.Price)).
			WithField("pnl", fmt.Sprintf("%.2f", realized)))
		if tripped {
			p.recordEvent(ctx, "circuit_breaker",
				fmt.Sprintf("daily loss limit reached after %s exit (realized %.2f)", pos.Symbol, realized),
				domain.SeverityCritical)
			p.alert(ctx, domain.NewAlert("circuit_breaker", "Circuit breaker tripped",
				"Daily loss limit reached. Trading halted for the day.", domain.SeverityCritical).
				WithField("symbol", pos.Symbol).
				WithField("realized", fmt.Sprintf("%.2f", realized)).
				WithField("breaker", string(risk.BreakerTripped)))
		}
		return
	}

	pos := domain.Position{
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     fill.Quantity,
		EntryPrice:   fill.Price,
		EntryTime:    fill.At,
		EntryOrderID: order.ID,
		StrategyTag:  order.StrategyTag,
	}
	if err := p.gate.RecordEntry(pos); err != nil {
		log.Error("entry fill with position already open", slog.String("error", err.Error()))
		p.recordEvent(ctx, "integrity",
			fmt.Sprintf("entry fill for %s but position already open", order.Symbol),
			domain.SeverityError)
		return
	}
	log.Info("position opened",
		slog.Int64("quantity", fill.Quantity),
		slog.Float64("entry_price", fill.Price))
	p.alert(ctx, domain.NewAlert("order_filled", "Position opened", "", domain.SeverityInfo).
		WithField("symbol", pos.Symbol).
		WithField("side", string(pos.Side)).
		WithField("quantity", strconv.FormatInt(pos.Quantity, 10)).
		WithField("entry_price", fmt.Sprintf("%.2f", fill.Price)).
		WithField("strategy", pos.StrategyTag))
}

// releaseRequest undoes the symbol reservation taken before submission.
func (p *Pipeline) releaseRequest(req domain.OrderRequest) {
	if req.Closing {
		p.setExitInFlight(req.Symbol, false)
	} else {
		p.gate.ReleaseClaim(req.Symbol)
	}
}

func (p *Pipeline) setExitInFlight(symbol string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v {
		p.exits[symbol] = true
	} else {
		delete(p.exits, symbol)
	}
}

func (p *Pipeline) recordEvent(ctx context.Context, eventType, message string, sev domain.EventSeverity) {
	if p.events == nil {
		return
	}
	if err := p.events.RecordEvent(ctx, eventType, message, sev); err != nil {
		p.logger.Warn("event persist failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) alert(ctx context.Context, a domain.Alert) {
	if p.alerts == nil {
		return
	}
	if err := p.alerts.Notify(ctx, a); err != nil {
		p.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) reportErr(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.Warn("error channel full, dropping", slog.String("error", err.Error()))
	}
}

// drain processes signals already buffered after cancellation so in-flight
// intents are not silently dropped. Each gets a bounded context.
func (p *Pipeline) drain() {
	for {
		select {
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
			p.process(ctx, sig)
			cancel()
		default:
			return
		}
	}
}
