package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantish/tradebot/internal/domain"
)

// eventChannel is the Pub/Sub channel bot events are published on.
const eventChannel = "tradebot:events"

// EventBus publishes bot events to Redis Pub/Sub for external consumers
// (dashboards, alert bridges). Delivery is fire-and-forget; the durable event
// log lives in Postgres.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish sends one event as a JSON payload.
func (b *EventBus) Publish(ctx context.Context, eventType, message string, severity domain.EventSeverity) error {
	payload, err := json.Marshal(map[string]string{
		"type":     eventType,
		"message":  message,
		"severity": string(severity),
		"at":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish event: %w", err)
	}
	return nil
}
