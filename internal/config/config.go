// Package config defines the top-level configuration for the grid-vault
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GRIDVAULT_* environment variables.
type Config struct {
	Protocol  ProtocolSettings `toml:"protocol"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Scheduler SchedulerConfig  `toml:"scheduler"`
	Server    ServerConfig     `toml:"server"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// ProtocolSettings holds the protocol role identities and the ledger accounts
// the engine operates against. Identities are opaque strings; callers are
// authenticated at the API boundary and matched against these values.
type ProtocolSettings struct {
	Admin         string `toml:"admin"`
	Operator      string `toml:"operator"`
	TreasuryAcct  string `toml:"treasury_account"`
	TradingAcct   string `toml:"trading_account"`
	AdminFeeAcct  string `toml:"admin_fee_account"`
	PoolAuthority string `toml:"pool_authority"`
	OperatorAuth  string `toml:"operator_authority"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// S3Config holds S3-compatible object storage parameters for event archival.
// When disabled, the archival job is skipped entirely.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds cron expressions for the background jobs.
type SchedulerConfig struct {
	Enabled              bool     `toml:"enabled"`
	FeeCollectionCron    string   `toml:"fee_collection_cron"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	LockTTL              duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimitPerMin caps requests per client IP per minute. Zero disables
	// rate limiting.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values for
// local development.
func Defaults() Config {
	return Config{
		Protocol: ProtocolSettings{
			TreasuryAcct:  "vault:treasury",
			TradingAcct:   "vault:trading",
			AdminFeeAcct:  "vault:admin-fees",
			PoolAuthority: "vault:pool-authority",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gridvault",
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
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gridvault-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			FeeCollectionCron:    "0 4 * * *",
			ArchiveCron:          "0 3 1 * *",
			ArchiveRetentionDays: 90,
			LockTTL:              duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"deposit", "withdraw", "capital_deployed", "capital_returned", "fees_swept", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true, // HTTP API only
	"scheduler": true, // background jobs only
	"full":      true, // both
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol roles
	if c.Protocol.Admin == "" {
		errs = append(errs, "protocol: admin must not be empty")
	}
	if c.Protocol.Operator == "" {
		errs = append(errs, "protocol: operator must not be empty")
	}
	if c.Protocol.Admin != "" && c.Protocol.Admin == c.Protocol.Operator {
		errs = append(errs, "protocol: admin and operator must be distinct identities")
	}
	if c.Protocol.TreasuryAcct == "" {
		errs = append(errs, "protocol: treasury_account must not be empty")
	}
	if c.Protocol.TradingAcct == "" {
		errs = append(errs, "protocol: trading_account must not be empty")
	}
	if c.Protocol.AdminFeeAcct == "" {
		errs = append(errs, "protocol: admin_fee_account must not be empty")
	}
	if c.Protocol.PoolAuthority == "" {
		errs = append(errs, "protocol: pool_authority must not be empty")
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
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.FeeCollectionCron == "" {
			errs = append(errs, "scheduler: fee_collection_cron must not be empty when enabled")
		}
		if c.Scheduler.ArchiveRetentionDays < 1 {
			errs = append(errs, "scheduler: archive_retention_days must be >= 1")
		}
		if c.Scheduler.LockTTL.Duration <= 0 {
			errs = append(errs, "scheduler: lock_ttl must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.APIKey == "" {
			errs = append(errs, "server: api_key must be set when the server is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
