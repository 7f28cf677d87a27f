// Package config defines the top-level configuration for the sniper and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSNIPER_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Risk       RiskConfig       `toml:"risk"`
	Capital    CapitalConfig    `toml:"capital"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, credentials, and chain
// parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit store.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for session
// archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds watchlist, window, and execution-loop parameters.
type SchedulerConfig struct {
	MaxWatchlist       int      `toml:"max_watchlist"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	TickInterval       duration `toml:"tick_interval"`
	EligibilityWindow  duration `toml:"eligibility_window"`
	PrimingThreshold   duration `toml:"priming_threshold"`
	ExecutionThreshold duration `toml:"execution_threshold"`
	MinTimeToExpiry    duration `toml:"min_time_to_expiry"`
	MinLiquidityUSD    float64  `toml:"min_liquidity_usd"`
	MaxSpread          float64  `toml:"max_spread"`
	MaxBuyPrice        float64  `toml:"max_buy_price"`
	OrderSizeUSD       float64  `toml:"order_size_usd"`
	Strategy           string   `toml:"strategy"`
	DoneRetention      duration `toml:"done_retention"`
	MaxFailures        int      `toml:"max_failures"`
}

// RiskConfig holds kill-switch, circuit-breaker, and exposure parameters.
type RiskConfig struct {
	MaxFeedAge       duration `toml:"max_feed_age"`
	StaleFeedAfter   duration `toml:"stale_feed_after"`
	MaxRPCLatency    duration `toml:"max_rpc_latency"`
	MaxDailyOrders   int      `toml:"max_daily_orders"`
	MaxDailyLossPct  float64  `toml:"max_daily_loss_pct"`
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  duration `toml:"recovery_timeout"`
	HalfOpenTrials   int      `toml:"half_open_trials"`
	MaxPerMarketUSD  float64  `toml:"max_per_market_usd"`
	MaxPerMarketPct  float64  `toml:"max_per_market_pct"`
	MaxTotalPct      float64  `toml:"max_total_pct"`
}

// CapitalConfig holds bankroll, allocation, and recycling parameters.
type CapitalConfig struct {
	BankrollUSD       float64  `toml:"bankroll_usd"`
	SplitThresholdUSD float64  `toml:"split_threshold_usd"`
	SplitCount        int      `toml:"split_count"`
	SettlementDelay   duration `toml:"settlement_delay"`
	RecyclePoll       duration `toml:"recycle_poll"`
}

// DiscoveryConfig holds Gamma market-discovery poll parameters.
type DiscoveryConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
	MaxHorizon   duration `toml:"max_horizon"`
	Tags         []string `toml:"tags"`
}

// ServerConfig holds HTTP operator-API parameters. When APIKey is empty the
// API is unauthenticated; set it for anything reachable beyond localhost.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polysniper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysniper-sessions",
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			MaxWatchlist:       200,
			MaxConcurrent:      8,
			TickInterval:       duration{10 * time.Millisecond},
			EligibilityWindow:  duration{60 * time.Second},
			PrimingThreshold:   duration{15 * time.Second},
			ExecutionThreshold: duration{3 * time.Second},
			MinTimeToExpiry:    duration{30 * time.Second},
			MinLiquidityUSD:    500,
			MaxSpread:          0.08,
			MaxBuyPrice:        0.97,
			OrderSizeUSD:       25,
			Strategy:           "expiry_sniper",
			DoneRetention:      duration{10 * time.Minute},
			MaxFailures:        3,
		},
		Risk: RiskConfig{
			MaxFeedAge:       duration{5 * time.Second},
			StaleFeedAfter:   duration{10 * time.Second},
			MaxRPCLatency:    duration{2 * time.Second},
			MaxDailyOrders:   500,
			MaxDailyLossPct:  10,
			FailureThreshold: 3,
			RecoveryTimeout:  duration{30 * time.Second},
			HalfOpenTrials:   1,
			MaxPerMarketUSD:  50,
			MaxPerMarketPct:  5,
			MaxTotalPct:      30,
		},
		Capital: CapitalConfig{
			BankrollUSD:       200,
			SplitThresholdUSD: 100,
			SplitCount:        3,
			SettlementDelay:   duration{2 * time.Minute},
			RecyclePoll:       duration{100 * time.Millisecond},
		},
		Discovery: DiscoveryConfig{
			Enabled:      true,
			PollInterval: duration{30 * time.Second},
			MaxHorizon:   duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"kill_switch", "breaker_open", "order_filled", "order_failed", "resolution", "session_end"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — at least one credential source must be specified for trading modes.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (proxy), got %d", c.Polymarket.SignatureType))
	}
	// API credentials must be set together, or all empty.
	pk := c.Polymarket.ApiKey != ""
	ps := c.Polymarket.ApiSecret != ""
	pp := c.Polymarket.ApiPassphrase != ""
	if (pk || ps || pp) && !(pk && ps && pp) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Scheduler
	if c.Scheduler.MaxWatchlist < 1 {
		errs = append(errs, "scheduler: max_watchlist must be >= 1")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		errs = append(errs, "scheduler: max_concurrent must be >= 1")
	}
	if c.Scheduler.TickInterval.Duration <= 0 {
		errs = append(errs, "scheduler: tick_interval must be > 0")
	}
	if c.Scheduler.ExecutionThreshold.Duration <= 0 {
		errs = append(errs, "scheduler: execution_threshold must be > 0")
	}
	if c.Scheduler.PrimingThreshold.Duration <= c.Scheduler.ExecutionThreshold.Duration {
		errs = append(errs, "scheduler: priming_threshold must exceed execution_threshold")
	}
	if c.Scheduler.EligibilityWindow.Duration <= c.Scheduler.PrimingThreshold.Duration {
		errs = append(errs, "scheduler: eligibility_window must exceed priming_threshold")
	}
	if c.Scheduler.MaxBuyPrice <= 0 || c.Scheduler.MaxBuyPrice >= 1 {
		errs = append(errs, fmt.Sprintf("scheduler: max_buy_price must be in (0, 1), got %g", c.Scheduler.MaxBuyPrice))
	}
	if c.Scheduler.OrderSizeUSD <= 0 {
		errs = append(errs, "scheduler: order_size_usd must be > 0")
	}

	// Risk
	if c.Risk.MaxFeedAge.Duration <= 0 {
		errs = append(errs, "risk: max_feed_age must be > 0")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_daily_loss_pct must be in (0, 100], got %g", c.Risk.MaxDailyLossPct))
	}
	if c.Risk.FailureThreshold < 1 {
		errs = append(errs, "risk: failure_threshold must be >= 1")
	}
	if c.Risk.HalfOpenTrials < 1 {
		errs = append(errs, "risk: half_open_trials must be >= 1")
	}
	if c.Risk.MaxPerMarketPct <= 0 || c.Risk.MaxPerMarketPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_per_market_pct must be in (0, 100], got %g", c.Risk.MaxPerMarketPct))
	}
	if c.Risk.MaxTotalPct <= 0 || c.Risk.MaxTotalPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_total_pct must be in (0, 100], got %g", c.Risk.MaxTotalPct))
	}

	// Capital
	if c.Capital.BankrollUSD <= 0 {
		errs = append(errs, "capital: bankroll_usd must be > 0")
	}
	if c.Capital.SplitCount < 1 {
		errs = append(errs, "capital: split_count must be >= 1")
	}
	if c.Capital.RecyclePoll.Duration <= 0 {
		errs = append(errs, "capital: recycle_poll must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
