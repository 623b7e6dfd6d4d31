package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// TradeSource provides read access to closed trades for archival. The
// Postgres trade store satisfies it.
type TradeSource interface {
	ListClosedBetween(ctx context.Context, start, end time.Time) ([]domain.Trade, error)
}

// EventSource provides read access to recorded events for archival. The
// Postgres event store satisfies it.
type EventSource interface {
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.Event, error)
}

// ObjectWriter uploads a single object. Satisfied by Writer.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports a trading day's closed trades and system events as
// newline-delimited JSON to the object store. Records stay in the primary
// store; the export is an additive copy for offline analysis.
type Archiver struct {
	writer ObjectWriter
	trades TradeSource
	events EventSource
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer ObjectWriter, trades TradeSource, events EventSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		events: events,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay exports the trades and events of the UTC calendar day containing
// the given time. It returns the number of records exported.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (trades, events int64, err error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	trades, err = a.archiveTrades(ctx, start, end)
	if err != nil {
		return trades, 0, err
	}
	events, err = a.archiveEvents(ctx, start, end)
	if err != nil {
		return trades, events, err
	}

	a.logger.InfoContext(ctx, "day archived",
		slog.String("day", start.Format("2006-01-02")),
		slog.Int64("trades", trades),
		slog.Int64("events", events),
	)
	return trades, events, nil
}

func (a *Archiver) archiveTrades(ctx context.Context, start, end time.Time) (int64, error) {
	records, err := a.trades.ListClosedBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", start)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(records)), nil
}

func (a *Archiver) archiveEvents(ctx context.Context, start, end time.Time) (int64, error) {
	records, err := a.events.ListBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", start)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return int64(len(records)), nil
}

// archivePath builds the object key for an archive file, partitioned by day.
//
//	archive/trades/2026-03-03.jsonl
//	archive/events/2026-03-03.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
