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
// built-in defaults, applies POOLCTL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POOLCTL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POOLCTL_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POOLCTL_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.FactoryAddress, "POOLCTL_CHAIN_FACTORY_ADDRESS")
	setDuration(&cfg.Chain.ConfirmTimeout, "POOLCTL_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptPollInterval, "POOLCTL_CHAIN_RECEIPT_POLL_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POOLCTL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POOLCTL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POOLCTL_WALLET_KEY_PASSWORD")

	// ── Admin ──
	setStringSlice(&cfg.Admin.Allowlist, "POOLCTL_ADMIN_ALLOWLIST")

	// ── Database ──
	setStr(&cfg.Database.DSN, "POOLCTL_DATABASE_DSN")
	setStr(&cfg.Database.Host, "POOLCTL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POOLCTL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POOLCTL_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "POOLCTL_DATABASE_USER")
	setStr(&cfg.Database.Password, "POOLCTL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POOLCTL_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "POOLCTL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POOLCTL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POOLCTL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POOLCTL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLCTL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLCTL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLCTL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLCTL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLCTL_REDIS_TLS_ENABLED")

	// ── Poller ──
	setDuration(&cfg.Poller.Interval, "POOLCTL_POLLER_INTERVAL")
	setInt(&cfg.Poller.Concurrency, "POOLCTL_POLLER_CONCURRENCY")

	// ── Outbox ──
	setDuration(&cfg.Outbox.Interval, "POOLCTL_OUTBOX_INTERVAL")
	setInt(&cfg.Outbox.BatchSize, "POOLCTL_OUTBOX_BATCH_SIZE")
	setInt(&cfg.Outbox.MaxAttempts, "POOLCTL_OUTBOX_MAX_ATTEMPTS")
	setDuration(&cfg.Outbox.BaseBackoff, "POOLCTL_OUTBOX_BASE_BACKOFF")

	// ── Locks ──
	setDuration(&cfg.Locks.TTL, "POOLCTL_LOCKS_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POOLCTL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POOLCTL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLCTL_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLCTL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLCTL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLCTL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLCTL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLCTL_MODE")
	setStr(&cfg.LogLevel, "POOLCTL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
