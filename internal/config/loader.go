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
// built-in defaults, applies POLYSNIPER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYSNIPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYSNIPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYSNIPER_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSNIPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSNIPER_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYSNIPER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYSNIPER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYSNIPER_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYSNIPER_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYSNIPER_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYSNIPER_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYSNIPER_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYSNIPER_POLYMARKET_API_PASSPHRASE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYSNIPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSNIPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSNIPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSNIPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSNIPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSNIPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSNIPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSNIPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSNIPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYSNIPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSNIPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSNIPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSNIPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSNIPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSNIPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSNIPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYSNIPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSNIPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSNIPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSNIPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSNIPER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "POLYSNIPER_S3_FORCE_PATH_STYLE")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.MaxWatchlist, "POLYSNIPER_SCHEDULER_MAX_WATCHLIST")
	setInt(&cfg.Scheduler.MaxConcurrent, "POLYSNIPER_SCHEDULER_MAX_CONCURRENT")
	setDuration(&cfg.Scheduler.TickInterval, "POLYSNIPER_SCHEDULER_TICK_INTERVAL")
	setDuration(&cfg.Scheduler.EligibilityWindow, "POLYSNIPER_SCHEDULER_ELIGIBILITY_WINDOW")
	setDuration(&cfg.Scheduler.PrimingThreshold, "POLYSNIPER_SCHEDULER_PRIMING_THRESHOLD")
	setDuration(&cfg.Scheduler.ExecutionThreshold, "POLYSNIPER_SCHEDULER_EXECUTION_THRESHOLD")
	setDuration(&cfg.Scheduler.MinTimeToExpiry, "POLYSNIPER_SCHEDULER_MIN_TIME_TO_EXPIRY")
	setFloat64(&cfg.Scheduler.MinLiquidityUSD, "POLYSNIPER_SCHEDULER_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Scheduler.MaxSpread, "POLYSNIPER_SCHEDULER_MAX_SPREAD")
	setFloat64(&cfg.Scheduler.MaxBuyPrice, "POLYSNIPER_SCHEDULER_MAX_BUY_PRICE")
	setFloat64(&cfg.Scheduler.OrderSizeUSD, "POLYSNIPER_SCHEDULER_ORDER_SIZE_USD")
	setStr(&cfg.Scheduler.Strategy, "POLYSNIPER_SCHEDULER_STRATEGY")
	setDuration(&cfg.Scheduler.DoneRetention, "POLYSNIPER_SCHEDULER_DONE_RETENTION")
	setInt(&cfg.Scheduler.MaxFailures, "POLYSNIPER_SCHEDULER_MAX_FAILURES")

	// ── Risk ──
	setDuration(&cfg.Risk.MaxFeedAge, "POLYSNIPER_RISK_MAX_FEED_AGE")
	setDuration(&cfg.Risk.StaleFeedAfter, "POLYSNIPER_RISK_STALE_FEED_AFTER")
	setDuration(&cfg.Risk.MaxRPCLatency, "POLYSNIPER_RISK_MAX_RPC_LATENCY")
	setInt(&cfg.Risk.MaxDailyOrders, "POLYSNIPER_RISK_MAX_DAILY_ORDERS")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "POLYSNIPER_RISK_MAX_DAILY_LOSS_PCT")
	setInt(&cfg.Risk.FailureThreshold, "POLYSNIPER_RISK_FAILURE_THRESHOLD")
	setDuration(&cfg.Risk.RecoveryTimeout, "POLYSNIPER_RISK_RECOVERY_TIMEOUT")
	setInt(&cfg.Risk.HalfOpenTrials, "POLYSNIPER_RISK_HALF_OPEN_TRIALS")
	setFloat64(&cfg.Risk.MaxPerMarketUSD, "POLYSNIPER_RISK_MAX_PER_MARKET_USD")
	setFloat64(&cfg.Risk.MaxPerMarketPct, "POLYSNIPER_RISK_MAX_PER_MARKET_PCT")
	setFloat64(&cfg.Risk.MaxTotalPct, "POLYSNIPER_RISK_MAX_TOTAL_PCT")

	// ── Capital ──
	setFloat64(&cfg.Capital.BankrollUSD, "POLYSNIPER_CAPITAL_BANKROLL_USD")
	setFloat64(&cfg.Capital.SplitThresholdUSD, "POLYSNIPER_CAPITAL_SPLIT_THRESHOLD_USD")
	setInt(&cfg.Capital.SplitCount, "POLYSNIPER_CAPITAL_SPLIT_COUNT")
	setDuration(&cfg.Capital.SettlementDelay, "POLYSNIPER_CAPITAL_SETTLEMENT_DELAY")
	setDuration(&cfg.Capital.RecyclePoll, "POLYSNIPER_CAPITAL_RECYCLE_POLL")

	// ── Discovery ──
	setBool(&cfg.Discovery.Enabled, "POLYSNIPER_DISCOVERY_ENABLED")
	setDuration(&cfg.Discovery.PollInterval, "POLYSNIPER_DISCOVERY_POLL_INTERVAL")
	setDuration(&cfg.Discovery.MaxHorizon, "POLYSNIPER_DISCOVERY_MAX_HORIZON")
	setStringSlice(&cfg.Discovery.Tags, "POLYSNIPER_DISCOVERY_TAGS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSNIPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSNIPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSNIPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYSNIPER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSNIPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSNIPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSNIPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSNIPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSNIPER_MODE")
	setStr(&cfg.LogLevel, "POLYSNIPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
