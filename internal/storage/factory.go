package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tieba-mod/moderator/internal/storage/migrations"
	pgstorage "github.com/tieba-mod/moderator/internal/storage/postgres"
	sqlitestorage "github.com/tieba-mod/moderator/internal/storage/sqlite"
)

// Backend selects which dialect Open builds.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects a backend and carries its dialect-specific settings.
type Config struct {
	Backend  Backend
	SQLite   SQLiteConfig
	Postgres pgstorage.Config

	// ReadCacheSize bounds the LRU read-cache in front of the classifier's
	// ContentCacheRecord round trip. Zero uses CachedStorage's default.
	ReadCacheSize int
}

// SQLiteConfig is the on-disk path for the embedded dialect.
type SQLiteConfig struct {
	Path string
}

// Opened bundles the dialect store, its migration dialect tag, and a
// Close func, so cmd/server doesn't need a type switch.
type Opened struct {
	FullStorage

	// Store is the dialect store's full Store surface (SaveContent,
	// SaveUser, RecordProcessLog, SaveSystemConfig,...), the half
	// CachedStorage doesn't wrap since those calls never go through the
	// read cache.
	Store Store

	Postgres *pgstorage.Store
	SQLite   *sqlitestorage.Store
	Cached   *CachedStorage
	Dialect  migrations.Dialect
	Close    func()
}

// Open builds and migrates the configured backend, then wraps its
// classifier-facing half in a CachedStorage read cache.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Opened, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case BackendSQLite, "":
		return openSQLite(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Opened, error) {
	migrationDB, err := pgstorage.OpenMigrationDB(cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(ctx, migrationDB, migrations.DialectPostgres); err != nil {
		migrationDB.Close()
		return nil, err
	}
	migrationDB.Close()

	store, err := pgstorage.Open(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	cached, err := NewCachedStorage(store, cfg.ReadCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Opened{
		FullStorage: cached,
		Store:       store,
		Postgres:    store,
		Cached:      cached,
		Dialect:     migrations.DialectPostgres,
		Close:       store.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*Opened, error) {
	path := cfg.SQLite.Path
	if path == "" {
		path = "moderator.db"
	}
	store, err := sqlitestorage.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(ctx, store.DB(), migrations.DialectSQLite); err != nil {
		store.Close()
		return nil, err
	}
	cached, err := NewCachedStorage(store, cfg.ReadCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Opened{
		FullStorage: cached,
		Store:       store,
		SQLite:      store,
		Cached:      cached,
		Dialect:     migrations.DialectSQLite,
		Close: func() {
			_ = store.Close()
		},
	}, nil
}
