// Package sim implements a paper-trading broker: real market data, virtual
// money. Market orders fill instantly at the reference price plus optional
// simulated slippage; balance and positions live in memory.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantish/tradebot/internal/domain"
)

// TickFeed supplies market data to the paper broker. In paper mode this is
// either the live venue feed or the built-in random walk.
type TickFeed interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	SubscribeTicks(ctx context.Context, symbols []string, onTick domain.TickHandler) error
}

// position is the broker's internal book entry. Quantity is signed: positive
// long, negative short.
type position struct {
	quantity int64
	avgPrice float64
}

// Broker is the paper venue. It satisfies domain.Broker with synchronous
// fills: PlaceOrder returns a FILLED order.
type Broker struct {
	feed        TickFeed
	slippagePct float64
	logger      *slog.Logger

	mu        sync.Mutex
	connected bool
	cash      float64
	starting  float64
	realized  float64
	positions map[string]*position
	last      map[string]float64 // last observed price per symbol
}

// New creates a paper Broker with the given virtual starting balance.
// slippagePct shifts every fill against the order (0.001 = 10 bps).
func New(feed TickFeed, startingBalance, slippagePct float64, logger *slog.Logger) *Broker {
	return &Broker{
		feed:        feed,
		slippagePct: slippagePct,
		cash:        startingBalance,
		starting:    startingBalance,
		positions:   make(map[string]*position),
		last:        make(map[string]float64),
		logger:      logger.With(slog.String("component", "paper_broker")),
	}
}

// Connect brings up the underlying data feed.
func (b *Broker) Connect(ctx context.Context) error {
	if err := b.feed.Connect(ctx); err != nil {
		return fmt.Errorf("sim: connect data feed: %w", err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("paper trading ready", slog.Float64("virtual_balance", b.starting))
	return nil
}

// Close shuts the feed down and logs the session summary.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	b.connected = false
	cash, realized := b.cash, b.realized
	b.mu.Unlock()
	b.logger.Info("paper trading session ended",
		slog.Float64("final_cash", cash),
		slog.Float64("realized_pnl", realized),
		slog.Float64("roi_pct", (cash-b.starting)/b.starting*100))
	return b.feed.Close(ctx)
}

// SubscribeTicks passes through to the data feed, recording the last price
// per symbol on the way for equity marks.
func (b *Broker) SubscribeTicks(ctx context.Context, symbols []string, onTick domain.TickHandler) error {
	return b.feed.SubscribeTicks(ctx, symbols, func(t domain.Tick) {
		b.mu.Lock()
		b.last[t.Symbol] = t.Price
		b.mu.Unlock()
		onTick(t)
	})
}

// PlaceOrder simulates instant execution. The fill price is the request's
// reference price shifted against the order by the configured slippage.
func (b *Broker) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return domain.Order{}, domain.ErrNotConnected
	}
	if req.Price <= 0 {
		return domain.Order{}, fmt.Errorf("sim: %w: no reference price for %s", domain.ErrInvalidOrder, req.Symbol)
	}

	execPrice := req.Price
	if req.Type == domain.OrderTypeMarket && b.slippagePct > 0 {
		execPrice = req.Price * (1 + b.slippagePct*req.Side.Sign())
	}

	b.applyFill(req.Symbol, req.Side, req.Quantity, execPrice)

	now := time.Now().UTC()
	order := domain.Order{
		ID:             "PAPER-" + uuid.New().String(),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Type:           req.Type,
		RequestedPrice: req.Price,
		Status:         domain.OrderStatusFilled,
		FilledPrice:    execPrice,
		FilledQuantity: req.Quantity,
		SubmittedAt:    now,
		FilledAt:       &now,
		StrategyTag:    req.StrategyTag,
		Closing:        req.Closing,
	}
	b.logger.Info("paper trade",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Int64("quantity", req.Quantity),
		slog.Float64("price", execPrice))
	return order, nil
}

// applyFill updates cash and the signed position book. Callers hold b.mu.
func (b *Broker) applyFill(symbol string, side domain.Side, qty int64, price float64) {
	cost := float64(qty) * price
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &position{}
		b.positions[symbol] = pos
	}

	if side == domain.SideBuy {
		b.cash -= cost
		if pos.quantity < 0 {
			// Buying back a short realizes PnL on the covered quantity.
			covered := min64(qty, -pos.quantity)
			b.realized += (pos.avgPrice - price) * float64(covered)
		}
		switch newQty := pos.quantity + qty; {
		case pos.quantity >= 0 && newQty != 0:
			pos.avgPrice = (pos.avgPrice*float64(pos.quantity) + cost) / float64(newQty)
		case pos.quantity < 0 && newQty > 0:
			// Flipped from short to long; the residual basis is this fill.
			pos.avgPrice = price
		}
		pos.quantity += qty
	} else {
		b.cash += cost
		if pos.quantity > 0 {
			closed := min64(qty, pos.quantity)
			b.realized += (price - pos.avgPrice) * float64(closed)
			if pos.quantity-qty < 0 {
				pos.avgPrice = price
			}
		} else {
			// Opening or extending a short keeps a volume-weighted basis.
			newQty := pos.quantity - qty
			pos.avgPrice = (pos.avgPrice*float64(-pos.quantity) + cost) / float64(-newQty)
		}
		pos.quantity -= qty
	}
	if pos.quantity == 0 {
		delete(b.positions, symbol)
	}
}

// GetPositions returns the open book as domain positions.
func (b *Broker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for symbol, pos := range b.positions {
		side := domain.SideBuy
		qty := pos.quantity
		if qty < 0 {
			side = domain.SideSell
			qty = -qty
		}
		out = append(out, domain.Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			EntryPrice: pos.avgPrice,
			Status:     domain.PositionStatusOpen,
		})
	}
	return out, nil
}

// GetBalance reports virtual cash and equity. Equity marks open positions at
// the last observed price, falling back to the entry price.
func (b *Broker) GetBalance(_ context.Context) (domain.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for symbol, pos := range b.positions {
		mark, ok := b.last[symbol]
		if !ok {
			mark = pos.avgPrice
		}
		equity += float64(pos.quantity) * mark
	}
	return domain.Balance{Cash: b.cash, Equity: equity}, nil
}

// RealizedPnL returns the session's realized PnL.
func (b *Broker) RealizedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
