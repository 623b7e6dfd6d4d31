// Package live implements the venue adapter for a JSON-over-WebSocket broker.
// Ticks arrive on the same connection as order traffic; fills and rejections
// are delivered asynchronously and surface through the AsyncBroker callbacks.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantish/tradebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// command is an outbound message.
type command struct {
	Type    string     `json:"type"`
	Token   string     `json:"token,omitempty"`
	Symbols []string   `json:"symbols,omitempty"`
	Order   *wireOrder `json:"order,omitempty"`
}

// wireOrder is the order payload. The venue echoes ClientOrderID in every
// update for the order.
type wireOrder struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      int64   `json:"quantity"`
	OrderType     string  `json:"order_type"`
	Price         float64 `json:"price,omitempty"`
}

// message is the inbound envelope.
type message struct {
	Type string `json:"type"`

	// tick
	Symbol    string  `json:"symbol,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Volume    int64   `json:"volume,omitempty"`
	Timestamp int64   `json:"ts,omitempty"` // unix milliseconds

	// fill / reject
	OrderID  string `json:"order_id,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// balance snapshot
	Cash   float64 `json:"cash,omitempty"`
	Equity float64 `json:"equity,omitempty"`

	// position snapshot
	Positions []wirePosition `json:"positions,omitempty"`
}

type wirePosition struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Broker is the live venue adapter. PlaceOrder returns PENDING orders; the
// venue's fill and reject messages complete them through the registered
// callbacks.
type Broker struct {
	url            string
	token          string
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	symbols []string

	onTick   domain.TickHandler
	onFill   func(domain.Fill)
	onReject func(orderID, reason string)
	onConn   domain.ConnHandler

	balance     domain.Balance
	haveBalance bool
	positions   []domain.Position

	done chan struct{}
}

// New creates a live Broker for the given WebSocket endpoint. Callbacks must
// be registered before Connect.
func New(url, token string, reconnectDelay time.Duration, logger *slog.Logger) *Broker {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &Broker{
		url:            url,
		token:          token,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "live_broker")),
		done:           make(chan struct{}),
	}
}

// OnFill registers the asynchronous fill callback.
func (b *Broker) OnFill(f func(domain.Fill)) { b.onFill = f }

// OnReject registers the asynchronous reject callback.
func (b *Broker) OnReject(f func(orderID, reason string)) { b.onReject = f }

// OnConnEvent registers the connectivity callback.
func (b *Broker) OnConnEvent(f domain.ConnHandler) { b.onConn = f }

// Connect dials the venue, authenticates, and starts the read and ping
// loops.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.ErrNotConnected
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("live: connect %s: %w", b.url, err)
	}
	b.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if b.token != "" {
		if err := b.sendLocked(command{Type: "auth", Token: b.token}); err != nil {
			conn.Close()
			b.conn = nil
			return fmt.Errorf("live: authenticate: %w", err)
		}
	}

	go b.readLoop(conn)
	go b.pingLoop(conn)

	// Restore the subscription after a reconnect.
	if len(b.symbols) > 0 {
		if err := b.sendLocked(command{Type: "subscribe", Symbols: b.symbols}); err != nil {
			return fmt.Errorf("live: restore subscription: %w", err)
		}
	}

	b.logger.Info("connected", slog.String("url", b.url))
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (b *Broker) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	if b.conn != nil {
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return b.conn.Close()
	}
	return nil
}

// SubscribeTicks subscribes to the symbol set. The handler runs on the read
// loop and must not block.
func (b *Broker) SubscribeTicks(_ context.Context, symbols []string, onTick domain.TickHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return domain.ErrNotConnected
	}
	b.symbols = append([]string(nil), symbols...)
	b.onTick = onTick
	if err := b.sendLocked(command{Type: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("live: subscribe: %w", err)
	}
	b.logger.Info("subscribed", slog.Int("symbols", len(symbols)))
	return nil
}

// PlaceOrder submits the order and returns it in PENDING state. The id is
// client-generated; the venue echoes it in the fill or reject.
func (b *Broker) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return domain.Order{}, domain.ErrNotConnected
	}

	id := uuid.New().String()
	cmd := command{
		Type: "order",
		Order: &wireOrder{
			ClientOrderID: id,
			Symbol:        req.Symbol,
			Side:          string(req.Side),
			Quantity:      req.Quantity,
			OrderType:     string(req.Type),
			Price:         req.Price,
		},
	}
	if err := b.sendLocked(cmd); err != nil {
		return domain.Order{}, fmt.Errorf("live: place order: %w", err)
	}

	return domain.Order{
		ID:             id,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Type:           req.Type,
		RequestedPrice: req.Price,
		Status:         domain.OrderStatusPending,
		SubmittedAt:    time.Now().UTC(),
		StrategyTag:    req.StrategyTag,
		Closing:        req.Closing,
	}, nil
}

// GetPositions returns the venue's last pushed position snapshot.
func (b *Broker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Position(nil), b.positions...), nil
}

// GetBalance returns the venue's last pushed account snapshot.
func (b *Broker) GetBalance(_ context.Context) (domain.Balance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.haveBalance {
		return domain.Balance{}, fmt.Errorf("live: no account snapshot received yet")
	}
	return b.balance, nil
}

// sendLocked writes a command. Callers hold b.mu.
func (b *Broker) sendLocked(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads until the connection drops, then hands off to reconnect.
func (b *Broker) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-b.done:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			b.logger.Warn("connection lost", slog.String("error", err.Error()))
			b.notifyConn(domain.ConnDisconnected)
			b.reconnect()
			return
		}
		b.handleMessage(raw)
	}
}

// pingLoop keeps the connection alive.
func (b *Broker) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes one inbound message. Unparseable messages are dropped.
func (b *Broker) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "tick":
		b.mu.RLock()
		onTick := b.onTick
		b.mu.RUnlock()
		if onTick != nil {
			onTick(domain.Tick{
				Symbol:    msg.Symbol,
				Price:     msg.Price,
				Volume:    msg.Volume,
				Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
			})
		}

	case "fill":
		if b.onFill != nil {
			b.onFill(domain.Fill{
				OrderID:  msg.OrderID,
				Price:    msg.Price,
				Quantity: msg.Quantity,
				At:       time.UnixMilli(msg.Timestamp).UTC(),
			})
		}

	case "reject":
		if b.onReject != nil {
			b.onReject(msg.OrderID, msg.Reason)
		}

	case "balance":
		b.mu.Lock()
		b.balance = domain.Balance{Cash: msg.Cash, Equity: msg.Equity}
		b.haveBalance = true
		b.mu.Unlock()

	case "positions":
		positions := make([]domain.Position, 0, len(msg.Positions))
		for _, p := range msg.Positions {
			positions = append(positions, domain.Position{
				Symbol:     p.Symbol,
				Side:       domain.Side(p.Side),
				Quantity:   p.Quantity,
				EntryPrice: p.AvgPrice,
				Status:     domain.PositionStatusOpen,
			})
		}
		b.mu.Lock()
		b.positions = positions
		b.mu.Unlock()
	}
}

// reconnect re-dials with exponential backoff until it succeeds or the
// broker is closed, then announces the restored subscription.
func (b *Broker) reconnect() {
	delay := b.reconnectDelay
	for {
		select {
		case <-b.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := b.Connect(ctx)
		cancel()
		if err == nil {
			b.logger.Info("reconnected")
			b.notifyConn(domain.ConnResubscribed)
			return
		}
		b.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (b *Broker) notifyConn(kind domain.ConnEventKind) {
	if b.onConn == nil {
		return
	}
	b.mu.RLock()
	symbols := append([]string(nil), b.symbols...)
	b.mu.RUnlock()
	b.onConn(domain.ConnEvent{Kind: kind, Symbols: symbols, At: time.Now().UTC()})
}
