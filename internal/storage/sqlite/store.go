// Package sqlite is the SQLite dialect of the storage layer, for
// single-process deployments that don't want a PostgreSQL instance.
// It satisfies the same four interfaces as internal/storage/postgres
// against the schema in internal/storage/migrations/sqlite.
//
// A *sql.DB wrapped with UPSERT helpers and a busy-timeout pragma over
// the content/process_log/process_context/system_config tables.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
)

// Store is the SQLite-backed implementation of the storage interfaces.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens path (a SQLite file, or ":memory:" for tests) with
// busy-timeout and foreign-key pragmas, and a single-writer connection
// pool since SQLite serializes writers at the file level regardless of
// Go-side pooling.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage.sqlite")

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	logger.Info("opened sqlite database", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying *sql.DB, e.g. for running migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// ClassifyAndUpdate implements classifier.Storage: a single transactional
// round trip over the content table. SQLite's own
// file-level write lock serializes this with any other writer; no
// explicit row lock is needed the way the PostgreSQL dialect uses
// SELECT... FOR UPDATE.
func (s *Store) ClassifyAndUpdate(ctx context.Context, rec domain.ContentCacheRecord) (*domain.ContentCacheRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	prior, err := readPriorTx(ctx, tx, rec.Pid)
	if err != nil {
		return nil, err
	}
	if err := upsertContentTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return prior, nil
}

func readPriorTx(ctx context.Context, tx *sql.Tx, pid int64) (*domain.ContentCacheRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT last_time, reply_num FROM content WHERE pid = ?`, pid)
	var rec domain.ContentCacheRecord
	rec.Pid = pid
	if err := row.Scan(&rec.LastTime, &rec.ReplyNum); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: read prior content: %w", err)
	}
	return &rec, nil
}

const upsertContentSQL = `
INSERT INTO content (pid, tid, fname, create_time, title, text, floor, images, type, last_time, reply_num, last_update, author_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (pid) DO UPDATE SET
	tid = excluded.tid,
	fname = excluded.fname,
	create_time = excluded.create_time,
	title = excluded.title,
	text = excluded.text,
	floor = excluded.floor,
	images = excluded.images,
	type = excluded.type,
	last_time = excluded.last_time,
	reply_num = excluded.reply_num,
	last_update = excluded.last_update,
	author_id = excluded.author_id
`

func upsertContentTx(ctx context.Context, tx *sql.Tx, rec domain.ContentCacheRecord) error {
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return fmt.Errorf("sqlite: marshal images: %w", err)
	}
	_, err = tx.ExecContext(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		images, rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("sqlite: upsert content: %w", err)
	}
	return nil
}

// UpsertContent writes rec without first reading a prior value, for
// callers (the LRU read-cache decorator in internal/storage) that already
// know the prior record and only need the durable write side of
// ClassifyAndUpdate.
func (s *Store) UpsertContent(ctx context.Context, rec domain.ContentCacheRecord) error {
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return fmt.Errorf("sqlite: marshal images: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		images, rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("sqlite: upsert content: %w", err)
	}
	return nil
}

// SaveContent implements crawler.ContentPersister.
func (s *Store) SaveContent(ctx context.Context, content domain.Content) error {
	rec := domain.CacheRecordFromContent(&content, time.Now())
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return fmt.Errorf("sqlite: marshal images: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		images, rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("sqlite: save content: %w", err)
	}
	return nil
}

// SaveUser upserts a user row.
func (s *Store) SaveUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user (user_id, user_name, nick_name, portrait, level)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = excluded.user_name,
			nick_name = excluded.nick_name,
			portrait = excluded.portrait
	`, user.UserID, user.UserName, user.NickName, user.Portrait, user.Level)
	if err != nil {
		return fmt.Errorf("sqlite: save user: %w", err)
	}
	return nil
}

// SaveUserLevel upserts a (user_id, fname) level row without ever
// downgrading a previously observed higher level.
func (s *Store) SaveUserLevel(ctx context.Context, rec domain.UserLevelRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_level (user_id, fname, level)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, fname) DO UPDATE SET
			level = MAX(user_level.level, excluded.level)
	`, rec.UserID, rec.Fname, rec.Level)
	if err != nil {
		return fmt.Errorf("sqlite: save user level: %w", err)
	}
	return nil
}

// RecordProcessLog implements rule.ProcessRecorder.
func (s *Store) RecordProcessLog(ctx context.Context, log domain.ProcessLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_log (pid, user, tid, create_time, process_time, result_rule, is_whitelist)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pid, user) DO UPDATE SET
			tid = excluded.tid,
			create_time = excluded.create_time,
			process_time = excluded.process_time,
			result_rule = excluded.result_rule,
			is_whitelist = excluded.is_whitelist
	`, log.Pid, log.User, log.Tid, log.CreateTime, log.ProcessTime, nullString(log.ResultRule), log.IsWhitelist)
	if err != nil {
		return fmt.Errorf("sqlite: record process log: %w", err)
	}
	return nil
}

// RecordProcessContext implements rule.ProcessRecorder.
func (s *Store) RecordProcessContext(ctx context.Context, pc domain.ProcessContext) error {
	rules, err := json.Marshal(pc.Rules)
	if err != nil {
		return fmt.Errorf("sqlite: marshal rules: %w", err)
	}
	conditions, err := json.Marshal(pc.Conditions)
	if err != nil {
		return fmt.Errorf("sqlite: marshal conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_context (pid, user, rules, conditions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pid, user) DO UPDATE SET
			rules = excluded.rules,
			conditions = excluded.conditions
	`, pc.Pid, pc.User, rules, conditions)
	if err != nil {
		return fmt.Errorf("sqlite: record process context: %w", err)
	}
	return nil
}

// SaveSystemConfig implements eventbus.ConfigPersister.
func (s *Store) SaveSystemConfig(ctx context.Context, cfg domain.SystemConfig) error {
	scan, err := json.Marshal(cfg.Scan)
	if err != nil {
		return fmt.Errorf("sqlite: marshal scan config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_config (id, scan, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			scan = excluded.scan,
			updated_at = excluded.updated_at
	`, scan, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: save system config: %w", err)
	}
	return nil
}

// LoadSystemConfig reads back the persisted SystemConfig, or ok=false if
// none has ever been saved.
func (s *Store) LoadSystemConfig(ctx context.Context) (cfg domain.SystemConfig, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT scan FROM system_config WHERE id = 1`)
	var scan []byte
	if scanErr := row.Scan(&scan); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return domain.SystemConfig{}, false, nil
		}
		return domain.SystemConfig{}, false, fmt.Errorf("sqlite: load system config: %w", scanErr)
	}
	if err := json.Unmarshal(scan, &cfg.Scan); err != nil {
		return domain.SystemConfig{}, false, fmt.Errorf("sqlite: unmarshal scan config: %w", err)
	}
	return cfg, true, nil
}

// PruneExpiredContent deletes content-cache rows whose last_update is
// older than olderThan, implementing the content-cache TTL sweep
// for ContentCacheRecord (default PID_CACHE_EXPIRE of 7 days).
func (s *Store) PruneExpiredContent(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE last_update < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune expired content: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
