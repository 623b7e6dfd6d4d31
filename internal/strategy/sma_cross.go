// Package strategy contains the decision strategies and the registry that
// selects them by name. Strategies are pure consumers of prices: they hold
// their own per-symbol history and never touch trading state.
package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantish/tradebot/internal/domain"
)

// Config parameterizes the built-in strategies. Unused fields are ignored by
// strategies that do not need them.
type Config struct {
	Name            string
	FastPeriod      int
	SlowPeriod      int
	Lookback        int
	StdDevThreshold float64
}

// SMACross emits a BUY when the fast simple moving average crosses above the
// slow one and a SELL on the opposite cross. It is silent during warm-up and
// between crossings.
type SMACross struct {
	fast    int
	slow    int
	logger  *slog.Logger
	symbols map[string]*history
}

// NewSMACross builds the crossover strategy. slow must exceed fast.
func NewSMACross(fast, slow int, logger *slog.Logger) (*SMACross, error) {
	if fast < 2 || slow <= fast {
		return nil, fmt.Errorf("strategy: sma_cross needs 2 <= fast < slow, got fast=%d slow=%d", fast, slow)
	}
	return &SMACross{
		fast:    fast,
		slow:    slow,
		logger:  logger.With(slog.String("strategy", "sma_cross")),
		symbols: make(map[string]*history),
	}, nil
}

// Name returns the strategy identifier.
func (s *SMACross) Name() string { return "sma_cross" }

// OnTick records the price and checks for a crossover. Detecting one needs
// slow+1 observations: the current and previous values of both averages.
func (s *SMACross) OnTick(symbol string, price float64) (domain.Signal, bool) {
	h, ok := s.symbols[symbol]
	if !ok {
		h = newHistory(s.slow + 1)
		s.symbols[symbol] = h
	}
	h.push(price)
	if h.len() < s.slow+1 {
		return domain.Signal{}, false
	}

	fastNow := h.sma(s.fast, 0)
	slowNow := h.sma(s.slow, 0)
	fastPrev := h.sma(s.fast, 1)
	slowPrev := h.sma(s.slow, 1)

	var action domain.Side
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		action = domain.SideBuy
	case fastPrev >= slowPrev && fastNow < slowNow:
		action = domain.SideSell
	default:
		return domain.Signal{}, false
	}

	s.logger.Info("crossover detected",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("fast_sma", fastNow),
		slog.Float64("slow_sma", slowNow))

	return domain.Signal{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Action:     action,
		Confidence: 0.5,
		Price:      price,
		Source:     s.Name(),
		Reason:     fmt.Sprintf("fast SMA %.4f crossed slow SMA %.4f", fastNow, slowNow),
		CreatedAt:  time.Now().UTC(),
	}, true
}
