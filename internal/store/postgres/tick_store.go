package postgres

import (
	"context"
	"fmt"

	"github.com/quantish/tradebot/internal/domain"
)

// TickStore persists accepted ticks.
type TickStore struct {
	client *Client
}

// NewTickStore creates a TickStore backed by the given client.
func NewTickStore(client *Client) *TickStore {
	return &TickStore{client: client}
}

func (s *TickStore) RecordTick(ctx context.Context, t domain.Tick) error {
	const query = `
		INSERT INTO ticks (symbol, price, volume, ts)
		VALUES ($1, $2, $3, $4)`

	_, err := s.client.pool.Exec(ctx, query, t.Symbol, t.Price, t.Volume, t.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: record tick: %w", err)
	}
	return nil
}
