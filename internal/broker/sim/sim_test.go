package sim

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/domain"
)

type nopFeed struct{}

func (nopFeed) Connect(context.Context) error { return nil }
func (nopFeed) Close(context.Context) error   { return nil }
func (nopFeed) SubscribeTicks(context.Context, []string, domain.TickHandler) error {
	return nil
}

func newBroker(t *testing.T, slippagePct float64) *Broker {
	t.Helper()
	b := New(nopFeed{}, 100000, slippagePct, slog.Default())
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func TestPlaceOrderRequiresConnection(t *testing.T) {
	b := New(nopFeed{}, 100000, 0, slog.Default())
	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10, Price: 100,
	})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestMarketOrderFillsInstantly(t *testing.T) {
	b := newBroker(t, 0)
	ctx := context.Background()

	order, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.InDelta(t, 100, order.FilledPrice, 1e-9)
	assert.Equal(t, int64(10), order.FilledQuantity)
	assert.NotNil(t, order.FilledAt)

	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 99000, bal.Cash, 1e-9)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
	assert.InDelta(t, 100, positions[0].EntryPrice, 1e-9)
}

func TestSlippageShiftsAgainstOrder(t *testing.T) {
	b := newBroker(t, 0.001)
	ctx := context.Background()

	buy, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, buy.FilledPrice, 1e-9, "buys pay up")

	sell, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "TCS", Side: domain.SideSell, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.FilledPrice, 1e-9, "sells receive less")
}

func TestRoundTripRealizesPnL(t *testing.T) {
	b := newBroker(t, 0)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideSell, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 105, Closing: true,
	})
	require.NoError(t, err)

	assert.InDelta(t, 50, b.RealizedPnL(), 1e-9)

	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100050, bal.Cash, 1e-9)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "flat book after the round trip")
}

func TestShortRoundTrip(t *testing.T) {
	b := newBroker(t, 0)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideSell, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.SideSell, positions[0].Side)
	assert.Equal(t, int64(10), positions[0].Quantity)

	_, err = b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 95, Closing: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 50, b.RealizedPnL(), 1e-9)
}

func TestEquityMarksAtLastTick(t *testing.T) {
	b := newBroker(t, 0)
	ctx := context.Background()

	var got []domain.Tick
	require.NoError(t, b.SubscribeTicks(ctx, []string{"INFY"}, func(tk domain.Tick) {
		got = append(got, tk)
	}))

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 100,
	})
	require.NoError(t, err)

	// Without a tick the mark falls back to the entry price.
	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000, bal.Equity, 1e-9)
}

func TestRejectsMissingReferencePrice(t *testing.T) {
	b := newBroker(t, 0)
	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10, Type: domain.OrderTypeMarket,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
