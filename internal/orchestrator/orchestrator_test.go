package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/broker/sim"
	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/executor"
	"github.com/quantish/tradebot/internal/market"
	"github.com/quantish/tradebot/internal/monitor"
	"github.com/quantish/tradebot/internal/risk"
)

var sessionTime = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

// buyOnce emits a single BUY per symbol on the first tick it sees.
type buyOnce struct {
	seen map[string]bool
}

func newBuyOnce() *buyOnce { return &buyOnce{seen: make(map[string]bool)} }

func (s *buyOnce) Name() string { return "buy_once" }

func (s *buyOnce) OnTick(symbol string, price float64) (domain.Signal, bool) {
	if s.seen[symbol] {
		return domain.Signal{}, false
	}
	s.seen[symbol] = true
	return domain.Signal{
		ID:     uuid.New().String(),
		Symbol: symbol,
		Action: domain.SideBuy,
		Price:  price,
		Source: s.Name(),
	}, true
}

// silent never signals.
type silent struct{}

func (silent) Name() string { return "silent" }
func (silent) OnTick(string, float64) (domain.Signal, bool) {
	return domain.Signal{}, false
}

type memEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *memEvents) RecordEvent(_ context.Context, eventType, _ string, _ domain.EventSeverity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func (e *memEvents) has(eventType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type memOrders struct {
	mu sync.Mutex
	n  int
}

func (s *memOrders) RecordOrder(context.Context, domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *memOrders) UpdateOrderStatus(context.Context, string, domain.OrderStatus, float64, int64) error {
	return nil
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTrades) RecordTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTrades) GetDailyPnL(context.Context, time.Time) (float64, error) { return 0, nil }
func (s *memTrades) GetPerformanceStats(context.Context, int) (domain.PerformanceStats, error) {
	return domain.PerformanceStats{}, nil
}

func (s *memTrades) snapshot() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

func tick(symbol string, price float64, offset time.Duration) domain.Tick {
	return domain.Tick{Symbol: symbol, Price: price, Timestamp: sessionTime.Add(offset)}
}

func TestHandleTickRoutesSignal(t *testing.T) {
	book := market.NewPriceBook(16, 2*time.Second)
	signals := make(chan domain.Signal, 4)
	o := New(nil, book, newBuyOnce(), signals, nil, nil, []string{"INFY"}, 16, slog.Default())

	o.handleTick(context.Background(), tick("INFY", 100, 0))

	require.Len(t, signals, 1)
	sig := <-signals
	assert.Equal(t, domain.SideBuy, sig.Action)

	latest, ok := o.LatestSignal("INFY")
	require.True(t, ok)
	assert.Equal(t, sig.ID, latest.ID)
}

func TestHandleTickDropsBadTicks(t *testing.T) {
	book := market.NewPriceBook(16, 2*time.Second)
	signals := make(chan domain.Signal, 4)
	events := &memEvents{}
	o := New(nil, book, newBuyOnce(), signals, nil, events, []string{"INFY"}, 16, slog.Default())
	ctx := context.Background()

	// Out-of-order beyond tolerance: integrity event, no strategy call.
	o.handleTick(ctx, tick("INFY", 100, 10*time.Second))
	o.handleTick(ctx, tick("INFY", 99, 0))
	assert.True(t, events.has("integrity"))
	assert.Len(t, signals, 1, "only the accepted tick reached the strategy")

	// Duplicate timestamp: dropped silently.
	before := len(events.types)
	o.handleTick(ctx, tick("INFY", 101, 10*time.Second))
	assert.Equal(t, before, len(events.types))

	price, _, ok := book.LastPrice("INFY")
	require.True(t, ok)
	assert.InDelta(t, 100, price, 1e-9, "duplicate must not overwrite the accepted price")
}

func TestConnEventsToggleStaleness(t *testing.T) {
	book := market.NewPriceBook(16, 2*time.Second)
	o := New(nil, book, silent{}, make(chan domain.Signal, 1), nil, &memEvents{}, []string{"INFY"}, 16, slog.Default())
	ctx := context.Background()

	o.handleTick(ctx, tick("INFY", 100, 0))
	_, _, ok := book.LastPrice("INFY")
	require.True(t, ok)

	o.HandleConnEvent(domain.ConnEvent{Kind: domain.ConnDisconnected, Symbols: []string{"INFY"}})
	_, _, ok = book.LastPrice("INFY")
	assert.False(t, ok, "stale symbol must not serve prices")

	o.HandleConnEvent(domain.ConnEvent{Kind: domain.ConnResubscribed, Symbols: []string{"INFY"}})
	_, _, ok = book.LastPrice("INFY")
	assert.True(t, ok)
}

func TestEnqueueTickNeverBlocks(t *testing.T) {
	book := market.NewPriceBook(16, 2*time.Second)
	o := New(nil, book, silent{}, make(chan domain.Signal, 1), nil, nil, []string{"INFY"}, 2, slog.Default())

	for i := 0; i < 10; i++ {
		o.EnqueueTick(tick("INFY", 100, time.Duration(i)*time.Second))
	}
	assert.Equal(t, int64(8), o.DroppedTicks())
}

// The full loop: tick in, entry via strategy, stop-loss exit via monitor.
func TestTickToStopLossRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.Default()

	hours, err := risk.ParseHours("09:15", "15:30", time.UTC)
	require.NoError(t, err)
	gate := risk.NewGate(risk.Limits{
		MaxPositionSize:    50000,
		MaxTotalExposure:   200000,
		MaxLossPerDay:      10000,
		MaxOrdersPerMinute: 100,
		MinPrice:           1,
		MaxPrice:           100000,
	}, hours, nil, logger)
	gate.SetClock(func() time.Time { return sessionTime })

	broker := sim.New(nopFeed{}, 1_000_000, 0, logger)
	require.NoError(t, broker.Connect(ctx))

	sizer, err := risk.NewSizer("fixed", 10000, 0, 0, 50000, 1)
	require.NoError(t, err)

	signals := make(chan domain.Signal, 16)
	trades := &memTrades{}
	pipe := executor.NewPipeline(signals, broker, gate, sizer, &memOrders{}, trades, &memEvents{}, nil, 0, logger)
	go pipe.Run(ctx)

	book := market.NewPriceBook(64, 2*time.Second)
	orch := New(broker, book, newBuyOnce(), signals, nil, nil, []string{"INFY"}, 64, logger)
	mon := monitor.New(gate, book, orch, signals, nil, nil, time.Hour, 0.02, 0.05, logger)

	// First tick opens the long at 100.
	orch.handleTick(ctx, tick("INFY", 100, 0))
	require.Eventually(t, func() bool { return gate.HasOpen("INFY") },
		2*time.Second, 10*time.Millisecond, "entry fill must open the position")

	// Drifting prices above the stop do nothing.
	orch.handleTick(ctx, tick("INFY", 101, time.Second))
	orch.handleTick(ctx, tick("INFY", 99, 2*time.Second))
	mon.Sweep(ctx)
	assert.True(t, gate.HasOpen("INFY"))

	// 98 is exactly -2%: the stop fires and the round trip completes.
	orch.handleTick(ctx, tick("INFY", 98, 3*time.Second))
	mon.Sweep(ctx)
	require.Eventually(t, func() bool { return len(trades.snapshot()) == 1 },
		2*time.Second, 10*time.Millisecond, "stop-loss exit must record a trade")

	tr := trades.snapshot()[0]
	assert.Equal(t, "INFY", tr.Symbol)
	assert.Equal(t, int64(100), tr.Quantity)
	assert.InDelta(t, -200, tr.PnL, 1e-9) // (98-100) x 100 shares
	assert.Equal(t, "buy_once", tr.StrategyTag, "the trade belongs to the strategy that opened it")

	assert.False(t, gate.HasOpen("INFY"))
	assert.Zero(t, gate.Exposure())
	assert.Equal(t, []float64{100, 101, 99, 98}, book.History("INFY"))
}

type nopFeed struct{}

func (nopFeed) Connect(context.Context) error { return nil }
func (nopFeed) Close(context.Context) error   { return nil }
func (nopFeed) SubscribeTicks(context.Context, []string, domain.TickHandler) error {
	return nil
}
