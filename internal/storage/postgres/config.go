package postgres

import (
	"fmt"
	"time"
)

// Config carries the pgxpool tuning parameters a single-tenant
// moderation process needs: one DSN rather than discrete
// host/port/user/password fields, since that value already comes fully
// assembled out of viper (see internal/config).
type Config struct {
	DSN string `mapstructure:"dsn" validate:"required"`

	MaxConns int32         `mapstructure:"max_conns"`
	MinConns int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig sizes the pool for a single-process crawler rather
// than a multi-tenant API.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("postgres: max_conns must be positive")
	}
	return nil
}
