package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")

	if v := os.Getenv("TRADEBOT_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Symbols = symbols
		}
	}

	// ── Trading hours ──
	setStr(&cfg.Hours.Start, "TRADEBOT_HOURS_START")
	setStr(&cfg.Hours.End, "TRADEBOT_HOURS_END")
	setStr(&cfg.Hours.Timezone, "TRADEBOT_HOURS_TIMEZONE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "TRADEBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxTotalExposure, "TRADEBOT_RISK_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Risk.MaxLossPerDay, "TRADEBOT_RISK_MAX_LOSS_PER_DAY")
	setInt(&cfg.Risk.MaxOrdersPerMinute, "TRADEBOT_RISK_MAX_ORDERS_PER_MINUTE")
	setFloat64(&cfg.Risk.StopLossPct, "TRADEBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.TakeProfitPct, "TRADEBOT_RISK_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Risk.MaxPriceDeviationPct, "TRADEBOT_RISK_MAX_PRICE_DEVIATION_PCT")
	setFloat64(&cfg.Risk.MaxSlippagePct, "TRADEBOT_RISK_MAX_SLIPPAGE_PCT")

	// ── Sizing ──
	setStr(&cfg.Sizing.Method, "TRADEBOT_SIZING_METHOD")
	setFloat64(&cfg.Sizing.FixedNotional, "TRADEBOT_SIZING_FIXED_NOTIONAL")
	setFloat64(&cfg.Sizing.RiskFraction, "TRADEBOT_SIZING_RISK_FRACTION")
	setInt64(&cfg.Sizing.LotSize, "TRADEBOT_SIZING_LOT_SIZE")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "TRADEBOT_STRATEGY_NAME")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "TRADEBOT_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.StatusInterval, "TRADEBOT_MONITOR_STATUS_INTERVAL")

	// ── Broker ──
	setStr(&cfg.Broker.WsURL, "TRADEBOT_BROKER_WS_URL")
	setStr(&cfg.Broker.APIToken, "TRADEBOT_BROKER_API_TOKEN")
	setFloat64(&cfg.Broker.StartingBalance, "TRADEBOT_BROKER_STARTING_BALANCE")
	setDuration(&cfg.Broker.OrderTimeout, "TRADEBOT_BROKER_ORDER_TIMEOUT")
	setBool(&cfg.Broker.CloseOnShutdown, "TRADEBOT_BROKER_CLOSE_ON_SHUTDOWN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "TRADEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "TRADEBOT_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "TRADEBOT_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "TRADEBOT_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "TRADEBOT_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "TRADEBOT_ARCHIVE_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEBOT_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_TELEGRAM_CHAT_ID")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
