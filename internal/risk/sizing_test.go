package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSizerRejectsUnknownMethod(t *testing.T) {
	_, err := NewSizer("martingale", 10000, 0.01, 0.02, 50000, 1)
	assert.Error(t, err)
}

func TestSizerFixed(t *testing.T) {
	s, err := NewSizer("fixed", 10000, 0, 0, 50000, 1)
	require.NoError(t, err)

	// 10000 / 1500 = 6.67, floored.
	assert.Equal(t, int64(6), s.Quantity(1500, 1_000_000))

	// A price above the whole notional sizes to zero, which means skip.
	assert.Equal(t, int64(0), s.Quantity(15000, 1_000_000))
}

func TestSizerRiskParity(t *testing.T) {
	s, err := NewSizer("risk_parity", 0, 0.01, 0.02, 500000, 1)
	require.NoError(t, err)

	// equity 1,000,000 * 1% risked over a 2% stop at price 100:
	// 10000 / 2 = 5000 shares.
	assert.Equal(t, int64(5000), s.Quantity(100, 1_000_000))
}

func TestSizerCapsAtMaxPositionSize(t *testing.T) {
	s, err := NewSizer("risk_parity", 0, 0.01, 0.02, 50000, 1)
	require.NoError(t, err)

	// Uncapped this would be 5000 shares (500000 notional); the per-trade
	// cap limits it to 50000 / 100 = 500.
	assert.Equal(t, int64(500), s.Quantity(100, 1_000_000))
}

func TestSizerLotFlooring(t *testing.T) {
	s, err := NewSizer("fixed", 10000, 0, 0, 50000, 25)
	require.NoError(t, err)

	// 10000 / 150 = 66.67 -> 66 -> floored to the 25-lot below.
	assert.Equal(t, int64(50), s.Quantity(150, 1_000_000))

	// Less than one lot sizes to zero.
	assert.Equal(t, int64(0), s.Quantity(600, 1_000_000))
}

func TestSizerZeroPrice(t *testing.T) {
	s, err := NewSizer("fixed", 10000, 0, 0, 50000, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Quantity(0, 1_000_000))
}
