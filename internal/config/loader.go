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
// built-in defaults, applies GRIDVAULT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known GRIDVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setStr(&cfg.Protocol.Admin, "GRIDVAULT_PROTOCOL_ADMIN")
	setStr(&cfg.Protocol.Operator, "GRIDVAULT_PROTOCOL_OPERATOR")
	setStr(&cfg.Protocol.TreasuryAcct, "GRIDVAULT_PROTOCOL_TREASURY_ACCOUNT")
	setStr(&cfg.Protocol.TradingAcct, "GRIDVAULT_PROTOCOL_TRADING_ACCOUNT")
	setStr(&cfg.Protocol.AdminFeeAcct, "GRIDVAULT_PROTOCOL_ADMIN_FEE_ACCOUNT")
	setStr(&cfg.Protocol.PoolAuthority, "GRIDVAULT_PROTOCOL_POOL_AUTHORITY")
	setStr(&cfg.Protocol.OperatorAuth, "GRIDVAULT_PROTOCOL_OPERATOR_AUTHORITY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GRIDVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GRIDVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GRIDVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GRIDVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GRIDVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GRIDVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GRIDVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GRIDVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GRIDVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GRIDVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GRIDVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GRIDVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GRIDVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GRIDVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GRIDVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GRIDVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GRIDVAULT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GRIDVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GRIDVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GRIDVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GRIDVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GRIDVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GRIDVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GRIDVAULT_S3_FORCE_PATH_STYLE")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "GRIDVAULT_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.FeeCollectionCron, "GRIDVAULT_SCHEDULER_FEE_COLLECTION_CRON")
	setStr(&cfg.Scheduler.ArchiveCron, "GRIDVAULT_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "GRIDVAULT_SCHEDULER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Scheduler.LockTTL, "GRIDVAULT_SCHEDULER_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GRIDVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GRIDVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GRIDVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GRIDVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "GRIDVAULT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GRIDVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GRIDVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GRIDVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GRIDVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GRIDVAULT_MODE")
	setStr(&cfg.LogLevel, "GRIDVAULT_LOG_LEVEL")
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
