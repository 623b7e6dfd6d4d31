package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// OrderStore persists orders and their terminal transitions.
type OrderStore struct {
	client *Client
}

// NewOrderStore creates an OrderStore backed by the given client.
func NewOrderStore(client *Client) *OrderStore {
	return &OrderStore{client: client}
}

func (s *OrderStore) RecordOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, side, quantity, order_type, requested_price,
			status, filled_price, filled_quantity, submitted_at, filled_at,
			strategy_tag, closing, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_price = EXCLUDED.filled_price,
			filled_quantity = EXCLUDED.filled_quantity,
			filled_at = EXCLUDED.filled_at,
			reason = EXCLUDED.reason`

	_, err := s.client.pool.Exec(ctx, query,
		o.ID, o.Symbol, string(o.Side), o.Quantity, string(o.Type), o.RequestedPrice,
		string(o.Status), nullableFloat(o.FilledPrice), nullableInt(o.FilledQuantity),
		o.SubmittedAt, o.FilledAt, o.StrategyTag, o.Closing, o.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order: %w", err)
	}
	return nil
}

func (s *OrderStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, filledPrice float64, filledQty int64) error {
	const query = `
		UPDATE orders SET
			status = $2,
			filled_price = COALESCE($3, filled_price),
			filled_quantity = COALESCE($4, filled_quantity),
			filled_at = CASE WHEN $2 = 'FILLED' THEN $5 ELSE filled_at END
		WHERE id = $1`

	tag, err := s.client.pool.Exec(ctx, query,
		id, string(status), nullableFloat(filledPrice), nullableInt(filledQty), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order status: order %s not found", id)
	}
	return nil
}

func nullableFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
