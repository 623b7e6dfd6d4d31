package domain

import "time"

// Trade is a completed round trip, created when a position transitions from
// open to closed.
type Trade struct {
	ID           string
	Symbol       string
	Side         Side
	Quantity     int64
	EntryOrderID string
	ExitOrderID  string
	EntryPrice   float64
	ExitPrice    float64
	PnL          float64
	PnLPct       float64
	EntryTime    time.Time
	ExitTime     time.Time
	StrategyTag  string
}

// PerformanceStats aggregates closed trades over a period.
type PerformanceStats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	GrossProfit   float64
	GrossLoss     float64
	NetPnL        float64
	BestTrade     float64
	WorstTrade    float64
}
