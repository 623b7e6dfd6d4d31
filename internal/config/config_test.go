package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidateWithSymbols(t *testing.T) {
	cfg := Defaults()
	cfg.Symbols = []string{"ACME"}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
symbols = ["ACME", "GLOBEX"]
mode = "paper"

[risk]
max_loss_per_day = 5000.0

[monitor]
interval = "10s"

[feed]
timestamp_tolerance = "3s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ACME", "GLOBEX"}, cfg.Symbols)
	assert.Equal(t, 5000.0, cfg.Risk.MaxLossPerDay)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval.Duration)
	assert.Equal(t, 3*time.Second, cfg.Feed.TimestampTolerance.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, "09:15", cfg.Hours.Start)
	assert.Equal(t, "sma_cross", cfg.Strategy.Name)
	assert.Equal(t, 100, cfg.Risk.MaxOrdersPerMinute)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
symbols = ["ACME"]
`)

	t.Setenv("TRADEBOT_MODE", "live")
	t.Setenv("TRADEBOT_SYMBOLS", "NIFTY, BANKNIFTY")
	t.Setenv("TRADEBOT_RISK_MAX_LOSS_PER_DAY", "2500")
	t.Setenv("TRADEBOT_MONITOR_INTERVAL", "5s")
	t.Setenv("TRADEBOT_BROKER_CLOSE_ON_SHUTDOWN", "true")
	t.Setenv("TRADEBOT_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Symbols)
	assert.Equal(t, 2500.0, cfg.Risk.MaxLossPerDay)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval.Duration)
	assert.True(t, cfg.Broker.CloseOnShutdown)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Symbols = nil
	cfg.Risk.MaxPositionSize = 0
	cfg.Strategy.FastPeriod = 1
	cfg.Hours.Start = "nine fifteen"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "at least one symbol")
	assert.Contains(t, err.Error(), "max_position_size")
	assert.Contains(t, err.Error(), "fast_period")
	assert.Contains(t, err.Error(), "not HH:MM")
}

func TestValidateLiveModeRequiresWsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Symbols = []string{"ACME"}
	cfg.Mode = "live"
	cfg.Broker.WsURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url is required for live mode")

	cfg.Broker.WsURL = "wss://venue.example/ws"
	require.NoError(t, cfg.Validate())
}

func TestValidateExposureBelowPositionSize(t *testing.T) {
	cfg := Defaults()
	cfg.Symbols = []string{"ACME"}
	cfg.Risk.MaxPositionSize = 100000
	cfg.Risk.MaxTotalExposure = 50000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_total_exposure")
}
