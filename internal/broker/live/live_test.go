package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/domain"
)

// venueHandler drives the fake venue side of one connection.
type venueHandler func(t *testing.T, conn *websocket.Conn)

func newVenue(t *testing.T, handler venueHandler) (url string, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handler(t, conn)
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func readCommand(t *testing.T, conn *websocket.Conn) command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd command
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &cmd))
	return cmd
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestSubscribeDeliversTicks(t *testing.T) {
	url, cleanup := newVenue(t, func(t *testing.T, conn *websocket.Conn) {
		cmd := readCommand(t, conn)
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, []string{"INFY"}, cmd.Symbols)
		writeJSON(t, conn, map[string]any{
			"type": "tick", "symbol": "INFY", "price": 1520.5, "volume": 100,
			"ts": time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC).UnixMilli(),
		})
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	b := New(url, "", time.Second, slog.Default())
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	ticks := make(chan domain.Tick, 1)
	require.NoError(t, b.SubscribeTicks(ctx, []string{"INFY"}, func(tk domain.Tick) {
		ticks <- tk
	}))

	select {
	case tk := <-ticks:
		assert.Equal(t, "INFY", tk.Symbol)
		assert.InDelta(t, 1520.5, tk.Price, 1e-9)
		assert.Equal(t, int64(100), tk.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("tick not delivered")
	}
}

func TestPlaceOrderPendingThenFill(t *testing.T) {
	url, cleanup := newVenue(t, func(t *testing.T, conn *websocket.Conn) {
		cmd := readCommand(t, conn)
		require.Equal(t, "order", cmd.Type)
		require.NotNil(t, cmd.Order)
		assert.Equal(t, "INFY", cmd.Order.Symbol)
		writeJSON(t, conn, map[string]any{
			"type": "fill", "order_id": cmd.Order.ClientOrderID,
			"price": 1521.0, "quantity": cmd.Order.Quantity,
			"ts": time.Now().UnixMilli(),
		})
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	b := New(url, "", time.Second, slog.Default())
	fills := make(chan domain.Fill, 1)
	b.OnFill(func(f domain.Fill) { fills <- f })
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	order, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 1520,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	require.NotEmpty(t, order.ID)

	select {
	case f := <-fills:
		assert.Equal(t, order.ID, f.OrderID)
		assert.InDelta(t, 1521.0, f.Price, 1e-9)
		assert.Equal(t, int64(10), f.Quantity)
	case <-time.After(2 * time.Second):
		t.Fatal("fill not delivered")
	}
}

func TestRejectCallback(t *testing.T) {
	url, cleanup := newVenue(t, func(t *testing.T, conn *websocket.Conn) {
		cmd := readCommand(t, conn)
		require.Equal(t, "order", cmd.Type)
		writeJSON(t, conn, map[string]any{
			"type": "reject", "order_id": cmd.Order.ClientOrderID, "reason": "insufficient margin",
		})
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	b := New(url, "", time.Second, slog.Default())
	type rejection struct{ id, reason string }
	rejects := make(chan rejection, 1)
	b.OnReject(func(id, reason string) { rejects <- rejection{id, reason} })
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	order, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 10,
		Type: domain.OrderTypeMarket, Price: 1520,
	})
	require.NoError(t, err)

	select {
	case r := <-rejects:
		assert.Equal(t, order.ID, r.id)
		assert.Equal(t, "insufficient margin", r.reason)
	case <-time.After(2 * time.Second):
		t.Fatal("reject not delivered")
	}
}

func TestBalanceSnapshotCached(t *testing.T) {
	url, cleanup := newVenue(t, func(t *testing.T, conn *websocket.Conn) {
		cmd := readCommand(t, conn)
		require.Equal(t, "auth", cmd.Type)
		assert.Equal(t, "secret", cmd.Token)
		writeJSON(t, conn, map[string]any{"type": "balance", "cash": 50000.0, "equity": 61000.0})
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	b := New(url, "secret", time.Second, slog.Default())
	ctx := context.Background()

	_, err := b.GetBalance(ctx)
	assert.Error(t, err, "no snapshot before connect")

	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	require.Eventually(t, func() bool {
		bal, err := b.GetBalance(ctx)
		return err == nil && bal.Cash == 50000 && bal.Equity == 61000
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPlaceOrderWithoutConnection(t *testing.T) {
	b := New("ws://127.0.0.1:0", "", time.Second, slog.Default())
	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "INFY", Side: domain.SideBuy, Quantity: 1, Price: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
