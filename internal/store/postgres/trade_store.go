package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// TradeStore persists completed trades and answers aggregate queries.
type TradeStore struct {
	client *Client
}

// NewTradeStore creates a TradeStore backed by the given client.
func NewTradeStore(client *Client) *TradeStore {
	return &TradeStore{client: client}
}

func (s *TradeStore) RecordTrade(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, symbol, side, quantity, entry_order_id, exit_order_id,
			entry_price, exit_price, pnl, pnl_pct, entry_time, exit_time,
			strategy_tag
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.client.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side), t.Quantity, t.EntryOrderID, t.ExitOrderID,
		t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPct, t.EntryTime, t.ExitTime,
		t.StrategyTag,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade: %w", err)
	}
	return nil
}

// GetDailyPnL sums the realized PnL of trades whose exit fell on the calendar
// day of the given time, in UTC.
func (s *TradeStore) GetDailyPnL(ctx context.Context, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	const query = `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE exit_time >= $1 AND exit_time < $2`

	var total float64
	if err := s.client.pool.QueryRow(ctx, query, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: get daily pnl: %w", err)
	}
	return total, nil
}

// ListClosedBetween returns trades whose exit time falls in [start, end),
// ordered by exit time. Used by the end-of-day archiver.
func (s *TradeStore) ListClosedBetween(ctx context.Context, start, end time.Time) ([]domain.Trade, error) {
	const query = `
		SELECT id, symbol, side, quantity, entry_order_id, exit_order_id,
			entry_price, exit_price, pnl, pnl_pct, entry_time, exit_time,
			strategy_tag
		FROM trades
		WHERE exit_time >= $1 AND exit_time < $2
		ORDER BY exit_time`

	rows, err := s.client.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryOrderID, &t.ExitOrderID,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPct, &t.EntryTime, &t.ExitTime,
			&t.StrategyTag,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return trades, nil
}

// GetPerformanceStats aggregates trades closed within the last N days.
func (s *TradeStore) GetPerformanceStats(ctx context.Context, days int) (domain.PerformanceStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl < 0),
			COALESCE(SUM(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(SUM(pnl) FILTER (WHERE pnl < 0), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(MAX(pnl), 0),
			COALESCE(MIN(pnl), 0)
		FROM trades
		WHERE exit_time >= $1`

	var stats domain.PerformanceStats
	err := s.client.pool.QueryRow(ctx, query, since).Scan(
		&stats.TotalTrades,
		&stats.WinningTrades,
		&stats.LosingTrades,
		&stats.GrossProfit,
		&stats.GrossLoss,
		&stats.NetPnL,
		&stats.BestTrade,
		&stats.WorstTrade,
	)
	if err != nil {
		return domain.PerformanceStats{}, fmt.Errorf("postgres: get performance stats: %w", err)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	return stats, nil
}
