package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults have no wallet key; only non-trading modes validate clean.
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestValidate_TradingModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "deadbeef"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsPartialAPICredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Polymarket.ApiKey = "key-only"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key, api_secret, and api_passphrase")
}

func TestValidate_WindowOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Scheduler.ExecutionThreshold = duration{20 * time.Second}
	cfg.Scheduler.PrimingThreshold = duration{15 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priming_threshold must exceed execution_threshold")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nonsense"
	cfg.Redis.Addr = ""
	cfg.Capital.BankrollUSD = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "bankroll_usd")
}

func TestLoad_FileAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[scheduler]
tick_interval = "25ms"
eligibility_window = "90s"

[capital]
bankroll_usd = 500.0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 25*time.Millisecond, cfg.Scheduler.TickInterval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.EligibilityWindow.Duration)
	assert.Equal(t, 500.0, cfg.Capital.BankrollUSD)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "monitor"`), 0o600))

	t.Setenv("POLYSNIPER_MODE", "server")
	t.Setenv("POLYSNIPER_SCHEDULER_TICK_INTERVAL", "50ms")
	t.Setenv("POLYSNIPER_CAPITAL_BANKROLL_USD", "1000")
	t.Setenv("POLYSNIPER_DISCOVERY_TAGS", "crypto, 15M")
	t.Setenv("POLYSNIPER_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval.Duration)
	assert.Equal(t, 1000.0, cfg.Capital.BankrollUSD)
	assert.Equal(t, []string{"crypto", "15M"}, cfg.Discovery.Tags)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = ""

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Empty(t, red.S3.SecretKey)

	// The original is untouched, and slices are copied.
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	if len(red.Notify.Events) > 0 {
		red.Notify.Events[0] = "mutated"
		assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
	}
}
