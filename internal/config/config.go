// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEBOT_* environment
// variables.
type Config struct {
	Symbols  []string       `toml:"symbols"`
	Hours    HoursConfig    `toml:"trading_hours"`
	Risk     RiskConfig     `toml:"risk"`
	Sizing   SizingConfig   `toml:"sizing"`
	Strategy StrategyConfig `toml:"strategy"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Feed     FeedConfig     `toml:"feed"`
	Broker   BrokerConfig   `toml:"broker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// HoursConfig defines the trading-hours window in local exchange time.
type HoursConfig struct {
	Start    string `toml:"start"` // "09:15"
	End      string `toml:"end"`   // "15:30"
	Timezone string `toml:"timezone"`
}

// RiskConfig holds the risk gate limits.
type RiskConfig struct {
	MaxPositionSize      float64  `toml:"max_position_size"`
	MaxTotalExposure     float64  `toml:"max_total_exposure"`
	MaxLossPerDay        float64  `toml:"max_loss_per_day"`
	MaxOrdersPerMinute   int      `toml:"max_orders_per_minute"`
	StopLossPct          float64  `toml:"stop_loss_pct"`
	TakeProfitPct        float64  `toml:"take_profit_pct"`
	MinPrice             float64  `toml:"min_price"`
	MaxPrice             float64  `toml:"max_price"`
	MaxPriceDeviationPct float64  `toml:"max_price_deviation_pct"`
	MaxSlippagePct       float64  `toml:"max_slippage_pct"`
}

// SizingConfig selects and parameterizes the position sizing policy.
type SizingConfig struct {
	// Method is "fixed" or "risk_parity".
	Method        string  `toml:"method"`
	FixedNotional float64 `toml:"fixed_notional"`
	RiskFraction  float64 `toml:"risk_fraction"`
	LotSize       int64   `toml:"lot_size"`
}

// StrategyConfig selects and parameterizes the decision strategy.
type StrategyConfig struct {
	// Name is "sma_cross" or "mean_reversion".
	Name string `toml:"name"`
	// FastPeriod and SlowPeriod are the SMA crossover window lengths.
	FastPeriod int `toml:"fast_period"`
	SlowPeriod int `toml:"slow_period"`
	// Lookback and StdDevThreshold parameterize mean reversion.
	Lookback        int     `toml:"lookback"`
	StdDevThreshold float64 `toml:"std_dev_threshold"`
}

// MonitorConfig holds the position monitor cadence.
type MonitorConfig struct {
	Interval       duration `toml:"interval"`
	StatusInterval duration `toml:"status_interval"`
}

// FeedConfig holds tick-ingestion parameters.
type FeedConfig struct {
	HistorySize        int      `toml:"history_size"`
	TickBuffer         int      `toml:"tick_buffer"`
	TimestampTolerance duration `toml:"timestamp_tolerance"`
	PersistTicks       bool     `toml:"persist_ticks"`
}

// BrokerConfig holds broker selection and connection parameters.
type BrokerConfig struct {
	// WsURL is the live venue's WebSocket endpoint. Ignored in paper mode
	// unless the paper broker is fed by the live data feed.
	WsURL           string   `toml:"ws_url"`
	APIToken        string   `toml:"api_token"`
	StartingBalance float64  `toml:"starting_balance"`
	SlippagePct     float64  `toml:"slippage_pct"`
	OrderTimeout    duration `toml:"order_timeout"`
	ReconnectDelay  duration `toml:"reconnect_delay"`
	CloseOnShutdown bool     `toml:"close_on_shutdown"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional price-mirror cache parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// ArchiveConfig holds the end-of-day S3 export parameters.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Symbols: []string{},
		Hours: HoursConfig{
			Start:    "09:15",
			End:      "15:30",
			Timezone: "Asia/Kolkata",
		},
		Risk: RiskConfig{
			MaxPositionSize:      50000,
			MaxTotalExposure:     200000,
			MaxLossPerDay:        1000,
			MaxOrdersPerMinute:   100,
			StopLossPct:          0.02,
			TakeProfitPct:        0.05,
			MinPrice:             1,
			MaxPrice:             100000,
			MaxPriceDeviationPct: 0.10,
			MaxSlippagePct:       0.01,
		},
		Sizing: SizingConfig{
			Method:        "fixed",
			FixedNotional: 10000,
			RiskFraction:  0.02,
			LotSize:       1,
		},
		Strategy: StrategyConfig{
			Name:            "sma_cross",
			FastPeriod:      5,
			SlowPeriod:      15,
			Lookback:        30,
			StdDevThreshold: 2.0,
		},
		Monitor: MonitorConfig{
			Interval:       duration{30 * time.Second},
			StatusInterval: duration{30 * time.Second},
		},
		Feed: FeedConfig{
			HistorySize:        500,
			TickBuffer:         1024,
			TimestampTolerance: duration{2 * time.Second},
			PersistTicks:       true,
		},
		Broker: BrokerConfig{
			StartingBalance: 100000,
			SlippagePct:     0,
			OrderTimeout:    duration{10 * time.Second},
			ReconnectDelay:  duration{5 * time.Second},
			CloseOnShutdown: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradebot",
			User:          "tradebot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Region:  "us-east-1",
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_breaker", "order_rejected", "position_closed", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSizingMethods enumerates the accepted sizing policies.
var validSizingMethods = map[string]bool{
	"fixed":       true,
	"risk_parity": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol must be configured")
	}

	// Trading hours.
	if _, err := time.Parse("15:04", c.Hours.Start); err != nil {
		errs = append(errs, fmt.Sprintf("trading_hours: start %q is not HH:MM", c.Hours.Start))
	}
	if _, err := time.Parse("15:04", c.Hours.End); err != nil {
		errs = append(errs, fmt.Sprintf("trading_hours: end %q is not HH:MM", c.Hours.End))
	}
	if c.Hours.Timezone != "" {
		if _, err := time.LoadLocation(c.Hours.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("trading_hours: unknown timezone %q", c.Hours.Timezone))
		}
	}

	// Risk limits.
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxTotalExposure < c.Risk.MaxPositionSize {
		errs = append(errs, "risk: max_total_exposure must be >= max_position_size")
	}
	if c.Risk.MaxLossPerDay <= 0 {
		errs = append(errs, "risk: max_loss_per_day must be > 0")
	}
	if c.Risk.MaxOrdersPerMinute < 1 {
		errs = append(errs, "risk: max_orders_per_minute must be >= 1")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, "risk: stop_loss_pct must be in (0, 1)")
	}
	if c.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk: take_profit_pct must be > 0")
	}
	if c.Risk.MinPrice <= 0 || c.Risk.MaxPrice <= c.Risk.MinPrice {
		errs = append(errs, "risk: price bounds must satisfy 0 < min_price < max_price")
	}

	// Sizing.
	if !validSizingMethods[strings.ToLower(c.Sizing.Method)] {
		errs = append(errs, fmt.Sprintf("sizing: unknown method %q (valid: fixed, risk_parity)", c.Sizing.Method))
	}
	if c.Sizing.FixedNotional <= 0 {
		errs = append(errs, "sizing: fixed_notional must be > 0")
	}
	if c.Sizing.RiskFraction <= 0 || c.Sizing.RiskFraction >= 1 {
		errs = append(errs, "sizing: risk_fraction must be in (0, 1)")
	}
	if c.Sizing.LotSize < 1 {
		errs = append(errs, "sizing: lot_size must be >= 1")
	}

	// Strategy.
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy: name must not be empty")
	}
	if c.Strategy.FastPeriod < 2 {
		errs = append(errs, "strategy: fast_period must be >= 2")
	}
	if c.Strategy.SlowPeriod <= c.Strategy.FastPeriod {
		errs = append(errs, "strategy: slow_period must be > fast_period")
	}
	if c.Strategy.Lookback < 2 {
		errs = append(errs, "strategy: lookback must be >= 2")
	}
	if c.Strategy.StdDevThreshold <= 0 {
		errs = append(errs, "strategy: std_dev_threshold must be > 0")
	}

	// Monitor / feed.
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Feed.HistorySize < 2 {
		errs = append(errs, "feed: history_size must be >= 2")
	}
	if c.Feed.TickBuffer < 1 {
		errs = append(errs, "feed: tick_buffer must be >= 1")
	}

	// Broker.
	if strings.ToLower(c.Mode) == "live" && c.Broker.WsURL == "" {
		errs = append(errs, "broker: ws_url is required for live mode")
	}
	if c.Broker.StartingBalance <= 0 && strings.ToLower(c.Mode) == "paper" {
		errs = append(errs, "broker: starting_balance must be > 0 for paper mode")
	}
	if c.Broker.OrderTimeout.Duration <= 0 {
		errs = append(errs, "broker: order_timeout must be > 0")
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis.
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// Archive.
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location resolves the configured trading-hours timezone, defaulting to the
// process-local zone when unset.
func (c *Config) Location() *time.Location {
	if c.Hours.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Hours.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
