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
// built-in defaults, applies SNIPEBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SNIPEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SNIPEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SNIPEBOT_WALLET_KEY_PASSWORD")
	setInt(&cfg.Wallet.ChainID, "SNIPEBOT_WALLET_CHAIN_ID")

	// ── Dexscan ──
	setStr(&cfg.Dexscan.GraphqlURL, "SNIPEBOT_DEXSCAN_GRAPHQL_URL")
	setStr(&cfg.Dexscan.ApiKey, "SNIPEBOT_DEXSCAN_API_KEY")
	setStr(&cfg.Dexscan.SwapURL, "SNIPEBOT_DEXSCAN_SWAP_URL")
	setStr(&cfg.Dexscan.WsURL, "SNIPEBOT_DEXSCAN_WS_URL")
	setStr(&cfg.Dexscan.QuoteToken, "SNIPEBOT_DEXSCAN_QUOTE_TOKEN")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SNIPEBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SNIPEBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SNIPEBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SNIPEBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "SNIPEBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "SNIPEBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SNIPEBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SNIPEBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SNIPEBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SNIPEBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPEBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.FlushInterval, "SNIPEBOT_S3_FLUSH_INTERVAL")

	// ── Trading ──
	setFloat64(&cfg.Trading.AmountUSD, "SNIPEBOT_TRADING_AMOUNT_USD")
	setFloat64(&cfg.Trading.MaxSlippage, "SNIPEBOT_TRADING_MAX_SLIPPAGE")
	setFloat64(&cfg.Trading.TakeProfitPct, "SNIPEBOT_TRADING_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "SNIPEBOT_TRADING_STOP_LOSS_PCT")
	setDuration(&cfg.Trading.MaxHoldTime, "SNIPEBOT_TRADING_MAX_HOLD_TIME")
	setFloat64(&cfg.Trading.MinLiquidityUSD, "SNIPEBOT_TRADING_MIN_LIQUIDITY_USD")
	setInt(&cfg.Trading.MaxPositions, "SNIPEBOT_TRADING_MAX_POSITIONS")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "SNIPEBOT_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Breaker.SuccessThreshold, "SNIPEBOT_BREAKER_SUCCESS_THRESHOLD")
	setDuration(&cfg.Breaker.Timeout, "SNIPEBOT_BREAKER_TIMEOUT")
	setDuration(&cfg.Breaker.MonitoringPeriod, "SNIPEBOT_BREAKER_MONITORING_PERIOD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPEBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SNIPEBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "SNIPEBOT_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
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
