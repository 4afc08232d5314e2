package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "watch"
log_level = "debug"

[trading]
take_profit_pct = 80.0
max_hold_time = "2h"

[breaker]
failure_threshold = 3
timeout = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 80.0, cfg.Trading.TakeProfitPct, 1e-9)
	assert.Equal(t, 2*time.Hour, cfg.Trading.MaxHoldTime.Duration)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Timeout.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := writeConfigFile(t, `
[redis]
addr = "redis.internal:6379"
`)

	t.Setenv("SNIPEBOT_REDIS_ADDR", "redis.prod:6380")
	t.Setenv("SNIPEBOT_MODE", "watch")
	t.Setenv("SNIPEBOT_TRADING_MAX_HOLD_TIME", "90m")
	t.Setenv("SNIPEBOT_NOTIFY_EVENTS", "position_exited, error_captured")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, 90*time.Minute, cfg.Trading.MaxHoldTime.Duration)
	assert.Equal(t, []string{"position_exited", "error_captured"}, cfg.Notify.Events)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade" // requires wallet + quote token
	cfg.Redis.Addr = ""
	cfg.Trading.StopLossPct = 150

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet:")
	assert.Contains(t, err.Error(), "quote_token")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "stop_loss_pct")
}

func TestValidateAcceptsWatchModeWithoutWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	require.NoError(t, cfg.Validate())
}

func TestValidateAcceptsTradeModeWithWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Wallet.PrivateKey = "0xabc123"
	cfg.Dexscan.QuoteToken = "0x9999999999999999999999999999999999999999"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "supersecret"
	cfg.Database.Password = "dbpass"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original stays intact, and the redacted events slice is a copy.
	assert.Equal(t, "supersecret", cfg.Wallet.PrivateKey)
	red.Notify.Events[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
}
