package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenMigrationDB opens a plain database/sql.DB against dsn for goose,
// which needs the standard library interface rather than pgxpool.Pool.
// Callers close it after running migrations; runtime queries go through
// Store's pgxpool connection instead.
func OpenMigrationDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open migration db: %w", err)
	}
	return db, nil
}
