package domain

import "time"

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for a long (buy-to-open) exposure and -1 for a short.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType indicates how an order executes.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle. Filled, Rejected, and Cancelled are
// terminal; an order never leaves a terminal status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// OrderRequest is what the execution pipeline hands to a broker.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity int64
	Type     OrderType
	// Price is the limit price for limit orders and the reference price for
	// market orders (used for slippage reconciliation).
	Price       float64
	StrategyTag string
	// Closing marks the request as reducing an existing position.
	Closing bool
}

// Notional returns quantity times the reference price.
func (r OrderRequest) Notional() float64 {
	return float64(r.Quantity) * r.Price
}

// Order is an order as accepted by the broker.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Quantity       int64
	Type           OrderType
	RequestedPrice float64
	Status         OrderStatus
	FilledPrice    float64
	FilledQuantity int64
	SubmittedAt    time.Time
	FilledAt       *time.Time
	StrategyTag    string
	Closing        bool
	// Reason carries the broker's message for rejected orders.
	Reason string
}

// Fill is an execution confirmation, delivered synchronously by a simulated
// broker or asynchronously by a live venue.
type Fill struct {
	OrderID  string
	Price    float64
	Quantity int64
	At       time.Time
}
