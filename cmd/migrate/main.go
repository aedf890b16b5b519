// Package main is the migration CLI: up/down/status against whichever
// dialect internal/config selects, wrapping goose behind cobra
// subcommands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tieba-mod/moderator/internal/config"
	"github.com/tieba-mod/moderator/internal/storage/migrations"
	pgstorage "github.com/tieba-mod/moderator/internal/storage/postgres"
	sqlitestorage "github.com/tieba-mod/moderator/internal/storage/sqlite"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations for the tieba moderator schema",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (defaults and env vars apply if omitted)")

	root.AddCommand(
		upCommand(&configPath),
		downCommand(&configPath),
		statusCommand(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(*configPath, func(ctx context.Context, db *sql.DB, dialect migrations.Dialect) error {
				if err := migrations.Up(ctx, db, dialect); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func downCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back every applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(*configPath, func(ctx context.Context, db *sql.DB, dialect migrations.Dialect) error {
				if err := migrations.Down(ctx, db, dialect); err != nil {
					return err
				}
				fmt.Println("migrations rolled back")
				return nil
			})
		},
	}
}

func statusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(*configPath, func(ctx context.Context, db *sql.DB, dialect migrations.Dialect) error {
				version, err := migrations.Version(ctx, db, dialect)
				if err != nil {
					return err
				}
				fmt.Printf("schema version: %d\n", version)
				return nil
			})
		},
	}
}

// withMigrationDB loads config, opens a bare *sql.DB for the configured
// backend (no pooling, no classifier wiring — migrations only need a
// single connection), and closes it after fn returns.
func withMigrationDB(configPath string, fn func(ctx context.Context, db *sql.DB, dialect migrations.Dialect) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		db, err := pgstorage.OpenMigrationDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		return fn(ctx, db, migrations.DialectPostgres)
	default:
		store, err := sqlitestorage.Open(cfg.Storage.SQLitePath, nil)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer store.Close()
		return fn(ctx, store.DB(), migrations.DialectSQLite)
	}
}
