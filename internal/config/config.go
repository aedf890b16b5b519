// Package config loads the process-wide Config (storage backend, scan
// tuning, logging, per-user rule configuration) from YAML plus
// environment overrides: viper defaults seeded before ReadInConfig,
// AutomaticEnv with a "." -> "_" key replacer, and a
// go-playground/validator pass after Unmarshal.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/tieba-mod/moderator/internal/domain"
)

// StorageBackend selects the dialect internal/storage opens.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// StorageConfig configures the persistence layer.
type StorageConfig struct {
	Backend StorageBackend `mapstructure:"backend" validate:"required,oneof=sqlite postgres"`

	// SQLitePath is the database file used when Backend is "sqlite".
	SQLitePath string `mapstructure:"sqlite_path"`

	// Postgres DSN and pool tuning, used when Backend is "postgres".
	PostgresDSN             string        `mapstructure:"postgres_dsn"`
	PostgresMaxConns        int32         `mapstructure:"postgres_max_conns"`
	PostgresMinConns        int32         `mapstructure:"postgres_min_conns"`
	PostgresMaxConnLifetime time.Duration `mapstructure:"postgres_max_conn_lifetime"`
	PostgresMaxConnIdleTime time.Duration `mapstructure:"postgres_max_conn_idle_time"`
	PostgresConnectTimeout  time.Duration `mapstructure:"postgres_connect_timeout"`

	// ReadCacheSize bounds the LRU read cache in front of the classifier
	// (internal/storage.CachedStorage).
	ReadCacheSize int `mapstructure:"read_cache_size"`

	// ContentCacheExpire is the TTL sweep age for content rows.
	ContentCacheExpire time.Duration `mapstructure:"content_cache_expire"`
}

// ConfirmBackend selects the confirmation store's persistence tier.
type ConfirmBackend string

const (
	ConfirmBackendFile  ConfirmBackend = "file"
	ConfirmBackendRedis ConfirmBackend = "redis"
)

// ConfirmConfig configures the per-user confirmation store.
type ConfirmConfig struct {
	Backend ConfirmBackend `mapstructure:"backend" validate:"required,oneof=file redis"`

	// Dir is the per-user JSON directory used when Backend is "file".
	Dir string `mapstructure:"dir"`

	// RedisAddr/RedisDB/RedisPassword configure the client used when
	// Backend is "redis".
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
}

// LogConfig configures log/slog output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	Output string `mapstructure:"output"`
}

// ModeratorConfig holds the browser client's user-agent and cuid settings
// (browser_ua, browser_cuid). The browser client in internal/tieba sends
// its built-in values and does not read these fields.
type ModeratorConfig struct {
	BrowserUA   string `mapstructure:"browser_ua"`
	BrowserCUID string `mapstructure:"browser_cuid"`
}

// MetricsConfig configures the Prometheus scrape endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root process configuration.
type Config struct {
	Storage   StorageConfig     `mapstructure:"storage" validate:"required"`
	Confirm   ConfirmConfig     `mapstructure:"confirm" validate:"required"`
	Log       LogConfig         `mapstructure:"log"`
	Moderator ModeratorConfig   `mapstructure:"moderator"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	System    domain.SystemConfig `mapstructure:"system" validate:"required"`
	// UsersDir, when set, names a directory of per-user YAML files loaded
	// and appended to Users (one user per file).
	UsersDir string              `mapstructure:"users_dir"`
	Users    []domain.UserConfig `mapstructure:"users" validate:"dive"`
}

// Load reads configuration from configPath (if non-empty) with defaults
// pre-seeded and environment variables (TIEBAMOD_-prefixed, "." replaced
// by "_") overriding both, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TIEBAMOD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.UsersDir != "" {
		users, err := LoadUsersDir(cfg.UsersDir)
		if err != nil {
			return nil, err
		}
		cfg.Users = append(cfg.Users, users...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "moderator.db")
	v.SetDefault("storage.postgres_max_conns", 10)
	v.SetDefault("storage.postgres_min_conns", 1)
	v.SetDefault("storage.postgres_max_conn_lifetime", "1h")
	v.SetDefault("storage.postgres_max_conn_idle_time", "5m")
	v.SetDefault("storage.postgres_connect_timeout", "10s")
	v.SetDefault("storage.read_cache_size", 4096)
	v.SetDefault("storage.content_cache_expire", 7*24*time.Hour)

	v.SetDefault("confirm.backend", "file")
	v.SetDefault("confirm.dir", "confirm-data")
	v.SetDefault("confirm.redis_addr", "localhost:6379")
	v.SetDefault("confirm.redis_db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("moderator.browser_ua", "bdtb for Android 12.52.1.0")
	v.SetDefault("moderator.browser_cuid", "baidutiebaservice")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("system.scan.thread_page_forward", 1)
	v.SetDefault("system.scan.post_page_forward", 1)
	v.SetDefault("system.scan.post_page_backward", 0)
	v.SetDefault("system.scan.comment_page_backward", 0)
	v.SetDefault("system.scan.query_cd", 1.0)
	v.SetDefault("system.scan.loop_cd", 10.0)
}

var validate = validator.New()

// Validate runs struct-tag validation over the full config tree.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for i, u := range c.Users {
		if u.Enable && u.Forum.Fname == "" {
			return fmt.Errorf("config: users[%d] (%s): enabled user requires forum.fname", i, u.Username)
		}
	}
	return nil
}

// EnabledUsers returns the subset of Users with Enable set.
func (c *Config) EnabledUsers() []domain.UserConfig {
	out := make([]domain.UserConfig, 0, len(c.Users))
	for _, u := range c.Users {
		if u.Enable {
			out = append(out, u)
		}
	}
	return out
}
