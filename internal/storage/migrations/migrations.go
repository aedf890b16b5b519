// Package migrations embeds the goose SQL migrations for both supported
// storage dialects and runs them against an already-open *sql.DB.
//
// Only the Up/Down/Version operations cmd/migrate exercises are
// exposed; anything else goes through goose directly.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Dialect selects which embedded migration set and goose dialect to use.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func fsFor(dialect Dialect) (fs.FS, string, error) {
	switch dialect {
	case DialectPostgres:
		sub, err := fs.Sub(postgresFS, "postgres")
		return sub, "postgres", err
	case DialectSQLite:
		sub, err := fs.Sub(sqliteFS, "sqlite")
		return sub, "sqlite3", err
	default:
		return nil, "", fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}

const migrationDir = "."

// Up applies every pending migration for dialect against db: SetDialect
// then Up against a *sql.DB, reading from the embedded migration tree.
func Up(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrationsFS, gooseDialect, err := fsFor(dialect)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationDir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back every applied migration for dialect against db.
func Down(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrationsFS, gooseDialect, err := fsFor(dialect)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.DownToContext(ctx, db, migrationDir, 0); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Version reports the database's current applied migration version.
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	migrationsFS, gooseDialect, err := fsFor(dialect)
	if err != nil {
		return 0, err
	}
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, fmt.Errorf("migrations: set dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrations: version: %w", err)
	}
	return version, nil
}
