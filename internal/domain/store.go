package domain

import (
	"context"
	"time"
)

// EventSeverity grades persisted system events.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// TickStore durably appends accepted ticks. Writes happen off the decision
// path and are best-effort.
type TickStore interface {
	RecordTick(ctx context.Context, t Tick) error
}

// OrderStore durably appends orders and their terminal transitions.
type OrderStore interface {
	RecordOrder(ctx context.Context, o Order) error
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus, filledPrice float64, filledQty int64) error
}

// TradeStore durably appends completed trades and answers daily aggregates.
type TradeStore interface {
	RecordTrade(ctx context.Context, t Trade) error
	// GetDailyPnL returns the summed realized PnL of trades closed on the
	// given calendar day.
	GetDailyPnL(ctx context.Context, day time.Time) (float64, error)
	GetPerformanceStats(ctx context.Context, days int) (PerformanceStats, error)
}

// Event is a persisted system event (startup, shutdown, breaker trips,
// integrity drops, order errors).
type Event struct {
	ID        int64
	Type      string
	Message   string
	Severity  EventSeverity
	CreatedAt time.Time
}

// EventStore durably appends system events.
type EventStore interface {
	RecordEvent(ctx context.Context, eventType, message string, severity EventSeverity) error
}

// PriceCache mirrors the latest accepted price per symbol for external
// consumers. The decision path never reads from it; the in-process price book
// is authoritative.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}
