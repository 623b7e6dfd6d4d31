package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// EventStore persists system events.
type EventStore struct {
	client *Client
}

// NewEventStore creates an EventStore backed by the given client.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{client: client}
}

func (s *EventStore) RecordEvent(ctx context.Context, eventType, message string, severity domain.EventSeverity) error {
	const query = `
		INSERT INTO events (event_type, message, severity)
		VALUES ($1, $2, $3)`

	_, err := s.client.pool.Exec(ctx, query, eventType, message, string(severity))
	if err != nil {
		return fmt.Errorf("postgres: record event: %w", err)
	}
	return nil
}

// ListBetween returns events recorded in [start, end), ordered by creation
// time. Used by the end-of-day archiver.
func (s *EventStore) ListBetween(ctx context.Context, start, end time.Time) ([]domain.Event, error) {
	const query = `
		SELECT id, event_type, message, severity, created_at
		FROM events
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`

	rows, err := s.client.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var severity string
		if err := rows.Scan(&e.ID, &e.Type, &e.Message, &severity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Severity = domain.EventSeverity(severity)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return events, nil
}
