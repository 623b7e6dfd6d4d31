package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantish/tradebot/internal/domain"
)

// MeanReversion buys when the price sits significantly below the trailing
// mean and sells when it sits significantly above. "Significantly" is
// measured in multiples of the trailing standard deviation.
type MeanReversion struct {
	lookback  int
	threshold float64
	logger    *slog.Logger
	symbols   map[string]*history
}

// NewMeanReversion builds the strategy with the given lookback window and
// sigma threshold.
func NewMeanReversion(lookback int, threshold float64, logger *slog.Logger) (*MeanReversion, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("strategy: mean_reversion needs lookback >= 2, got %d", lookback)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("strategy: mean_reversion needs threshold > 0, got %.2f", threshold)
	}
	return &MeanReversion{
		lookback:  lookback,
		threshold: threshold,
		logger:    logger.With(slog.String("strategy", "mean_reversion")),
		symbols:   make(map[string]*history),
	}, nil
}

// Name returns the strategy identifier.
func (m *MeanReversion) Name() string { return "mean_reversion" }

// OnTick records the price and signals when the deviation from the trailing
// mean exceeds the threshold. Flat windows (zero volatility) stay silent.
func (m *MeanReversion) OnTick(symbol string, price float64) (domain.Signal, bool) {
	h, ok := m.symbols[symbol]
	if !ok {
		h = newHistory(m.lookback)
		m.symbols[symbol] = h
	}
	h.push(price)
	if h.len() < m.lookback {
		return domain.Signal{}, false
	}

	mean, std := h.meanStd()
	if std == 0 {
		return domain.Signal{}, false
	}
	deviation := (price - mean) / std

	var action domain.Side
	switch {
	case deviation <= -m.threshold:
		action = domain.SideBuy
	case deviation >= m.threshold:
		action = domain.SideSell
	default:
		return domain.Signal{}, false
	}

	m.logger.Info("deviation signal",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("price", price),
		slog.Float64("mean", mean),
		slog.Float64("deviation", deviation))

	return domain.Signal{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Action:     action,
		Confidence: 0.5,
		Price:      price,
		Source:     m.Name(),
		Reason:     fmt.Sprintf("price %.4f is %.2f sigma from mean %.4f", price, deviation, mean),
		CreatedAt:  time.Now().UTC(),
	}, true
}
