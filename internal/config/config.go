// Package config defines the top-level configuration for the pool
// controller and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POOLCTL_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Admin    AdminConfig    `toml:"admin"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Poller   PollerConfig   `toml:"poller"`
	Outbox   OutboxConfig   `toml:"outbox"`
	Locks    LocksConfig    `toml:"locks"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds BSC endpoint and escrow factory parameters.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	FactoryAddress      string   `toml:"factory_address"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// WalletConfig holds the operator wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AdminConfig holds the admin wallet allowlist for the signed API surface.
type AdminConfig struct {
	Allowlist []string `toml:"allowlist"`
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

// PollerConfig holds the background sync parameters.
type PollerConfig struct {
	Interval duration `toml:"interval"`
	// Concurrency caps simultaneous chain reads per cycle.
	Concurrency int `toml:"concurrency"`
}

// OutboxConfig holds the persistence retry worker parameters.
type OutboxConfig struct {
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseBackoff duration `toml:"base_backoff"`
}

// LocksConfig holds distributed-lock parameters for admin operations.
type LocksConfig struct {
	// TTL bounds how long a crashed operation can hold its pool lock.
	TTL duration `toml:"ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
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
		Chain: ChainConfig{
			RPCURL:              "https://bsc-dataseed.binance.org",
			ChainID:             56,
			ConfirmTimeout:      duration{5 * time.Minute},
			ReceiptPollInterval: duration{3 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolctl",
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
		Poller: PollerConfig{
			Interval:    duration{30 * time.Second},
			Concurrency: 8,
		},
		Outbox: OutboxConfig{
			Interval:    duration{15 * time.Second},
			BatchSize:   20,
			MaxAttempts: 8,
			BaseBackoff: duration{10 * time.Second},
		},
		Locks: LocksConfig{
			TTL: duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"op_completed", "op_failed", "status_changed", "unsettleable"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"poller": true,
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, poller, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID < 0 {
		errs = append(errs, "chain: chain_id must not be negative")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be positive")
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be positive")
	}

	if c.Chain.FactoryAddress == "" {
		errs = append(errs, "chain: factory_address must not be empty")
	}

	// Wallet — needed whenever admin operations can run.
	needsWallet := c.Mode == "server" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if len(c.Admin.Allowlist) == 0 {
			errs = append(errs, "admin: allowlist must not be empty for mode "+c.Mode)
		}
	}

	// Database
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Poller
	if c.Poller.Interval.Duration <= 0 {
		errs = append(errs, "poller: interval must be positive")
	}
	if c.Poller.Concurrency < 1 {
		errs = append(errs, "poller: concurrency must be >= 1")
	}

	// Outbox
	if c.Outbox.Interval.Duration <= 0 {
		errs = append(errs, "outbox: interval must be positive")
	}
	if c.Outbox.BatchSize < 1 {
		errs = append(errs, "outbox: batch_size must be >= 1")
	}
	if c.Outbox.MaxAttempts < 1 {
		errs = append(errs, "outbox: max_attempts must be >= 1")
	}
	if c.Outbox.BaseBackoff.Duration <= 0 {
		errs = append(errs, "outbox: base_backoff must be positive")
	}

	// Locks
	if c.Locks.TTL.Duration <= 0 {
		errs = append(errs, "locks: ttl must be positive")
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
