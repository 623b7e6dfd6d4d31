package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/risk"
)

var sweepTime = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type stubPrices map[string]float64

func (s stubPrices) LastPrice(symbol string) (float64, time.Time, bool) {
	p, ok := s[symbol]
	return p, sweepTime, ok
}

type stubSignals map[string]domain.Signal

func (s stubSignals) LatestSignal(symbol string) (domain.Signal, bool) {
	sig, ok := s[symbol]
	return sig, ok
}

func testGate(t *testing.T) *risk.Gate {
	t.Helper()
	hours, err := risk.ParseHours("09:15", "15:30", time.UTC)
	require.NoError(t, err)
	g := risk.NewGate(risk.Limits{
		MaxPositionSize:    50000,
		MaxTotalExposure:   200000,
		MaxLossPerDay:      10000,
		MaxOrdersPerMinute: 100,
		MinPrice:           1,
		MaxPrice:           100000,
	}, hours, nil, slog.Default())
	g.SetClock(func() time.Time { return sweepTime })
	return g
}

func openPosition(t *testing.T, g *risk.Gate, symbol string, side domain.Side, qty int64, entry float64) {
	t.Helper()
	require.NoError(t, g.ClaimEntry(symbol, "ord-"+symbol))
	require.NoError(t, g.RecordEntry(domain.Position{
		Symbol: symbol, Side: side, Quantity: qty, EntryPrice: entry, EntryTime: sweepTime,
	}))
}

func newMonitor(g *risk.Gate, prices PriceSource, strat SignalSource, ch chan domain.Signal) *Monitor {
	return New(g, prices, strat, ch, nil, nil, time.Second, 0.02, 0.05, slog.Default())
}

func receiveSignal(t *testing.T, ch chan domain.Signal) domain.Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	default:
		t.Fatal("expected an exit signal")
		return domain.Signal{}
	}
}

func TestStopLossExactThreshold(t *testing.T) {
	testCases := []struct {
		desc  string
		side  domain.Side
		price float64
		fires bool
	}{
		{"long exactly at stop", domain.SideBuy, 98.00, true},
		{"long just above stop", domain.SideBuy, 98.01, false},
		{"long below stop", domain.SideBuy, 95.00, true},
		{"short exactly at stop", domain.SideSell, 102.00, true},
		{"short just inside stop", domain.SideSell, 101.99, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			g := testGate(t)
			openPosition(t, g, "INFY", tc.side, 100, 100)
			ch := make(chan domain.Signal, 1)
			m := newMonitor(g, stubPrices{"INFY": tc.price}, nil, ch)

			m.Sweep(context.Background())

			if !tc.fires {
				assert.Empty(t, ch)
				return
			}
			sig := receiveSignal(t, ch)
			assert.Equal(t, "stop_loss", sig.Source)
			assert.True(t, sig.Closing)
			assert.Equal(t, tc.side.Opposite(), sig.Action)
			assert.Equal(t, int64(100), sig.Quantity)
		})
	}
}

func TestTakeProfitExactThreshold(t *testing.T) {
	testCases := []struct {
		desc  string
		price float64
		fires bool
	}{
		{"exactly at target", 105.00, true},
		{"just below target", 104.99, false},
		{"beyond target", 110.00, true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			g := testGate(t)
			openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
			ch := make(chan domain.Signal, 1)
			m := newMonitor(g, stubPrices{"INFY": tc.price}, nil, ch)

			m.Sweep(context.Background())

			if !tc.fires {
				assert.Empty(t, ch)
				return
			}
			sig := receiveSignal(t, ch)
			assert.Equal(t, "take_profit", sig.Source)
		})
	}
}

func TestStopLossWinsOverStrategyExit(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	ch := make(chan domain.Signal, 1)
	strat := stubSignals{"INFY": {Symbol: "INFY", Action: domain.SideSell}}
	m := newMonitor(g, stubPrices{"INFY": 90}, strat, ch)

	m.Sweep(context.Background())

	sig := receiveSignal(t, ch)
	assert.Equal(t, "stop_loss", sig.Source)
}

func TestStrategyReversalExitsPosition(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	ch := make(chan domain.Signal, 1)
	strat := stubSignals{"INFY": {Symbol: "INFY", Action: domain.SideSell, Price: 101}}
	m := newMonitor(g, stubPrices{"INFY": 101}, strat, ch)

	m.Sweep(context.Background())

	sig := receiveSignal(t, ch)
	assert.Equal(t, "strategy_exit", sig.Source)
	assert.Equal(t, domain.SideSell, sig.Action)
}

func TestSameSideSignalDoesNotExit(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	ch := make(chan domain.Signal, 1)
	strat := stubSignals{"INFY": {Symbol: "INFY", Action: domain.SideBuy}}
	m := newMonitor(g, stubPrices{"INFY": 101}, strat, ch)

	m.Sweep(context.Background())

	assert.Empty(t, ch)
}

func TestStalePriceSkipsPosition(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	ch := make(chan domain.Signal, 1)
	m := newMonitor(g, stubPrices{}, nil, ch)

	m.Sweep(context.Background())

	assert.Empty(t, ch, "no decision without a fresh price")
}

func TestSweepReportsUnrealizedToGate(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	openPosition(t, g, "TCS", domain.SideSell, 50, 200)
	ch := make(chan domain.Signal, 2)
	// INFY: (99-100)*100 = -100; TCS: (201-200)*50*-1 = -50.
	m := newMonitor(g, stubPrices{"INFY": 99, "TCS": 201}, nil, ch)

	m.Sweep(context.Background())

	st := g.Snapshot()
	assert.InDelta(t, -150, st.DailyUnrealized, 1e-9)
}

func TestUnrealizedLossTripsBreaker(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 500, 100) // 50000 notional
	ch := make(chan domain.Signal, 1)
	events := &captureEvents{}
	m := New(g, stubPrices{"INFY": 80}, nil, ch, events, nil, time.Second, 0.5, 0, slog.Default())

	// 500 * (80-100) = -10000 unrealized, exactly the limit.
	m.Sweep(context.Background())

	assert.Equal(t, risk.BreakerTripped, g.Snapshot().Breaker)
	assert.Contains(t, events.types, "circuit_breaker")
}

type captureEvents struct {
	types []string
}

func (c *captureEvents) RecordEvent(_ context.Context, eventType, _ string, _ domain.EventSeverity) error {
	c.types = append(c.types, eventType)
	return nil
}

func TestFullChannelDefersExit(t *testing.T) {
	g := testGate(t)
	openPosition(t, g, "INFY", domain.SideBuy, 100, 100)
	ch := make(chan domain.Signal, 1)
	ch <- domain.Signal{} // fill the buffer
	m := newMonitor(g, stubPrices{"INFY": 90}, nil, ch)

	m.Sweep(context.Background())

	// Only the pre-existing element is in the channel; the exit was dropped
	// and the position remains open for the next sweep.
	assert.Len(t, ch, 1)
	assert.True(t, g.HasOpen("INFY"))
}
