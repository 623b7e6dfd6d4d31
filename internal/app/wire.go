package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantish/tradebot/internal/blob/s3"
	"github.com/quantish/tradebot/internal/cache/redis"
	"github.com/quantish/tradebot/internal/config"
	"github.com/quantish/tradebot/internal/domain"
	"github.com/quantish/tradebot/internal/notify"
	"github.com/quantish/tradebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the trading core needs: stores,
// the optional price mirror, the optional archiver, and the notifier. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	TickStore  domain.TickStore
	OrderStore domain.OrderStore
	TradeStore domain.TradeStore
	EventStore domain.EventStore

	// PriceCache is nil when the Redis mirror is disabled.
	PriceCache domain.PriceCache

	// Archiver is nil when the S3 archive is disabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// publishingEventStore mirrors every recorded event onto the Redis event bus.
// The Postgres write is authoritative; a failed publish only logs.
type publishingEventStore struct {
	domain.EventStore
	bus    *redis.EventBus
	logger *slog.Logger
}

func (s *publishingEventStore) RecordEvent(ctx context.Context, eventType, message string, severity domain.EventSeverity) error {
	err := s.EventStore.RecordEvent(ctx, eventType, message, severity)
	if perr := s.bus.Publish(ctx, eventType, message, severity); perr != nil {
		s.logger.Warn("event publish failed", slog.String("error", perr.Error()))
	}
	return err
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL. Persistence is not optional; the order, trade, and event
	// logs are the system of record.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	tradeStore := postgres.NewTradeStore(pgClient)
	eventStore := postgres.NewEventStore(pgClient)
	deps.TickStore = postgres.NewTickStore(pgClient)
	deps.OrderStore = postgres.NewOrderStore(pgClient)
	deps.TradeStore = tradeStore
	deps.EventStore = eventStore

	// Redis price mirror, best-effort and off the decision path.
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient)

		// Recorded events are also published on the Redis bus, best-effort.
		deps.EventStore = &publishingEventStore{
			EventStore: deps.EventStore,
			bus:        redis.NewEventBus(redisClient),
			logger:     logger,
		}
	}

	// S3 end-of-day archive.
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), tradeStore, eventStore, logger)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
