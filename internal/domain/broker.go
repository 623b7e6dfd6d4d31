package domain

import (
	"context"
	"time"
)

// Balance is the broker's view of account funds.
type Balance struct {
	Cash   float64
	Equity float64
}

// TickHandler receives ticks from the broker's push feed. Handlers must be
// fast: brokers call them from the read loop and a blocking handler stalls
// the whole subscription.
type TickHandler func(Tick)

// ConnEventKind classifies feed connectivity transitions.
type ConnEventKind string

const (
	ConnDisconnected ConnEventKind = "DISCONNECTED"
	ConnResubscribed ConnEventKind = "RESUBSCRIBED"
)

// ConnEvent notifies the core of a feed disconnect or a confirmed
// resubscription. Symbols lists the affected subscriptions.
type ConnEvent struct {
	Kind    ConnEventKind
	Symbols []string
	At      time.Time
}

// ConnHandler receives connectivity events.
type ConnHandler func(ConnEvent)

// Broker is the venue port. Implementations may fill orders synchronously
// (simulators return a FILLED order from PlaceOrder) or asynchronously (live
// venues return PENDING and deliver the outcome through the AsyncBroker
// callbacks).
type Broker interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	SubscribeTicks(ctx context.Context, symbols []string, onTick TickHandler) error
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetBalance(ctx context.Context) (Balance, error)
}

// AsyncBroker is the optional capability for venues that report fills and
// rejections out of band. Callbacks must be registered before Connect.
type AsyncBroker interface {
	OnFill(func(Fill))
	OnReject(func(orderID, reason string))
	OnConnEvent(ConnHandler)
}
