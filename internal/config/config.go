// Package config defines the top-level configuration for the snipe bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SNIPEBOT_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Dexscan  DexscanConfig  `toml:"dexscan"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trading  TradingConfig  `toml:"trading"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// DexscanConfig holds the pool indexer and swap router endpoints.
type DexscanConfig struct {
	GraphqlURL string `toml:"graphql_url"`
	ApiKey     string `toml:"api_key"`
	SwapURL    string `toml:"swap_url"`
	WsURL      string `toml:"ws_url"`
	QuoteToken string `toml:"quote_token"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// S3Config holds S3-compatible object storage parameters for the
// closed-position archive.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
}

// TradingConfig holds position sizing and exit-rule parameters.
type TradingConfig struct {
	AmountUSD       float64  `toml:"amount_usd"`
	MaxSlippage     float64  `toml:"max_slippage"`
	TakeProfitPct   float64  `toml:"take_profit_pct"`
	StopLossPct     float64  `toml:"stop_loss_pct"`
	MaxHoldTime     duration `toml:"max_hold_time"`
	MinLiquidityUSD float64  `toml:"min_liquidity_usd"`
	MaxPositions    int      `toml:"max_positions"`
}

// BreakerConfig holds circuit breaker thresholds for the trading path.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	Timeout          duration `toml:"timeout"`
	MonitoringPeriod duration `toml:"monitoring_period"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText parses duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration's string form.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development-friendly defaults.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ChainID: 8453,
		},
		Dexscan: DexscanConfig{
			GraphqlURL: "https://api.dexscan.io/subgraphs/pools/gn",
			SwapURL:    "https://api.dexscan.io/v1/swap",
			WsURL:      "wss://feed.dexscan.io/v1/prices",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "snipebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snipebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
			FlushInterval:  duration{5 * time.Minute},
		},
		Trading: TradingConfig{
			AmountUSD:       100,
			MaxSlippage:     0.02,
			TakeProfitPct:   50,
			StopLossPct:     20,
			MaxHoldTime:     duration{4 * time.Hour},
			MinLiquidityUSD: 10_000,
			MaxPositions:    5,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          duration{30 * time.Second},
			MonitoringPeriod: duration{60 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_exited", "breaker_changed", "error_captured"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"watch": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is needed only when trading.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.ChainID <= 0 {
			errs = append(errs, "wallet: chain_id must be positive")
		}
		if c.Dexscan.QuoteToken == "" {
			errs = append(errs, "dexscan: quote_token must be set for mode trade")
		}
	}

	if c.Dexscan.GraphqlURL == "" {
		errs = append(errs, "dexscan: graphql_url must not be empty")
	}
	if c.Dexscan.SwapURL == "" {
		errs = append(errs, "dexscan: swap_url must not be empty")
	}
	if c.Dexscan.WsURL == "" {
		errs = append(errs, "dexscan: ws_url must not be empty")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Trading.AmountUSD <= 0 {
		errs = append(errs, "trading: amount_usd must be > 0")
	}
	if c.Trading.MaxSlippage < 0 || c.Trading.MaxSlippage >= 1 {
		errs = append(errs, fmt.Sprintf("trading: max_slippage must be in [0,1), got %g", c.Trading.MaxSlippage))
	}
	if c.Trading.TakeProfitPct <= 0 {
		errs = append(errs, "trading: take_profit_pct must be > 0")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 100 {
		errs = append(errs, fmt.Sprintf("trading: stop_loss_pct must be in (0,100), got %g", c.Trading.StopLossPct))
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		errs = append(errs, "breaker: success_threshold must be >= 1")
	}
	if c.Breaker.Timeout.Duration <= 0 {
		errs = append(errs, "breaker: timeout must be > 0")
	}
	if c.Breaker.MonitoringPeriod.Duration <= 0 {
		errs = append(errs, "breaker: monitoring_period must be > 0")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
