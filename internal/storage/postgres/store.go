// Package postgres is the PostgreSQL dialect of the storage layer: it
// satisfies classifier.Storage, crawler.ContentPersister, rule.ProcessRecorder
// and eventbus.ConfigPersister against the schema in
// internal/storage/migrations/postgres.
//
// A pgxpool.Pool built from a validated Config, a Health check, and
// context-scoped query methods over the content/process_log/
// process_context/system_config tables.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tieba-mod/moderator/internal/domain"
)

// Store is the PostgreSQL-backed implementation of the storage
// interfaces every business package depends on.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open validates cfg, builds a pgxpool.Pool and pings it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage.postgres")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("postgres: invalid config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info("connected to postgres")
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Health reports whether the pool can still reach the database.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ClassifyAndUpdate implements classifier.Storage: a single transactional
// round trip that reads the prior (last_time, reply_num) for pid, then
// upserts the new row.
func (s *Store) ClassifyAndUpdate(ctx context.Context, rec domain.ContentCacheRecord) (*domain.ContentCacheRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	prior, err := readPriorTx(ctx, tx, rec.Pid)
	if err != nil {
		return nil, err
	}
	if err := upsertContentTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return prior, nil
}

func readPriorTx(ctx context.Context, tx pgx.Tx, pid int64) (*domain.ContentCacheRecord, error) {
	row := tx.QueryRow(ctx, `SELECT last_time, reply_num FROM content WHERE pid = $1 FOR UPDATE`, pid)
	var rec domain.ContentCacheRecord
	rec.Pid = pid
	if err := row.Scan(&rec.LastTime, &rec.ReplyNum); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: read prior content: %w", err)
	}
	return &rec, nil
}

const upsertContentSQL = `
INSERT INTO content (pid, tid, fname, create_time, title, text, floor, images, type, last_time, reply_num, last_update, author_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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

func upsertContentTx(ctx context.Context, tx pgx.Tx, rec domain.ContentCacheRecord) error {
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return fmt.Errorf("postgres: marshal images: %w", err)
	}
	_, err = tx.Exec(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		images, rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("postgres: upsert content: %w", err)
	}
	return nil
}

// UpsertContent writes rec without first reading a prior value, for
// callers (the LRU read-cache decorator in internal/storage) that already
// know the prior record and only need the durable write side of
// ClassifyAndUpdate.
func (s *Store) UpsertContent(ctx context.Context, rec domain.ContentCacheRecord) error {
	return upsertContentTx0(ctx, s.pool, rec)
}

func upsertContentTx0(ctx context.Context, pool *pgxpool.Pool, rec domain.ContentCacheRecord) error {
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return fmt.Errorf("postgres: marshal images: %w", err)
	}
	_, err = pool.Exec(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		images, rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("postgres: upsert content: %w", err)
	}
	return nil
}

// SaveContent implements crawler.ContentPersister: it durably stores the
// same content row the classifier's cache round trip maintains.
func (s *Store) SaveContent(ctx context.Context, content domain.Content) error {
	rec := domain.CacheRecordFromContent(&content, time.Now())
	_, err := s.pool.Exec(ctx, upsertContentSQL,
		rec.Pid, rec.Tid, rec.Fname, rec.CreateTime, rec.Title, rec.Text, rec.Floor,
		mustJSON(rec.Images), rec.Type, rec.LastTime, rec.ReplyNum, rec.LastUpdate, rec.AuthorID)
	if err != nil {
		return fmt.Errorf("postgres: save content: %w", err)
	}
	return nil
}

// SaveUser upserts a user row.
func (s *Store) SaveUser(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO "user" (user_id, user_name, nick_name, portrait, level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = excluded.user_name,
			nick_name = excluded.nick_name,
			portrait = excluded.portrait
	`, user.UserID, user.UserName, user.NickName, user.Portrait, user.Level)
	if err != nil {
		return fmt.Errorf("postgres: save user: %w", err)
	}
	return nil
}

// SaveUserLevel upserts a (user_id, fname) level row, never downgrading a
// previously observed higher level.
func (s *Store) SaveUserLevel(ctx context.Context, rec domain.UserLevelRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_level (user_id, fname, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, fname) DO UPDATE SET
			level = GREATEST(user_level.level, excluded.level)
	`, rec.UserID, rec.Fname, rec.Level)
	if err != nil {
		return fmt.Errorf("postgres: save user level: %w", err)
	}
	return nil
}

// RecordProcessLog implements rule.ProcessRecorder.
func (s *Store) RecordProcessLog(ctx context.Context, log domain.ProcessLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO process_log (pid, "user", tid, create_time, process_time, result_rule, is_whitelist)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pid, "user") DO UPDATE SET
			tid = excluded.tid,
			create_time = excluded.create_time,
			process_time = excluded.process_time,
			result_rule = excluded.result_rule,
			is_whitelist = excluded.is_whitelist
	`, log.Pid, log.User, log.Tid, log.CreateTime, log.ProcessTime, nullString(log.ResultRule), log.IsWhitelist)
	if err != nil {
		return fmt.Errorf("postgres: record process log: %w", err)
	}
	return nil
}

// RecordProcessContext implements rule.ProcessRecorder.
func (s *Store) RecordProcessContext(ctx context.Context, pc domain.ProcessContext) error {
	rules, err := json.Marshal(pc.Rules)
	if err != nil {
		return fmt.Errorf("postgres: marshal rules: %w", err)
	}
	conditions, err := json.Marshal(pc.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: marshal conditions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO process_context (pid, "user", rules, conditions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pid, "user") DO UPDATE SET
			rules = excluded.rules,
			conditions = excluded.conditions
	`, pc.Pid, pc.User, rules, conditions)
	if err != nil {
		return fmt.Errorf("postgres: record process context: %w", err)
	}
	return nil
}

// SaveSystemConfig implements eventbus.ConfigPersister.
func (s *Store) SaveSystemConfig(ctx context.Context, cfg domain.SystemConfig) error {
	scan, err := json.Marshal(cfg.Scan)
	if err != nil {
		return fmt.Errorf("postgres: marshal scan config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_config (id, scan, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			scan = excluded.scan,
			updated_at = excluded.updated_at
	`, scan, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: save system config: %w", err)
	}
	return nil
}

// LoadSystemConfig reads back the persisted SystemConfig, or ok=false if
// none has ever been saved (fresh database).
func (s *Store) LoadSystemConfig(ctx context.Context) (cfg domain.SystemConfig, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `SELECT scan FROM system_config WHERE id = 1`)
	var scan []byte
	if scanErr := row.Scan(&scan); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return domain.SystemConfig{}, false, nil
		}
		return domain.SystemConfig{}, false, fmt.Errorf("postgres: load system config: %w", scanErr)
	}
	if err := json.Unmarshal(scan, &cfg.Scan); err != nil {
		return domain.SystemConfig{}, false, fmt.Errorf("postgres: unmarshal scan config: %w", err)
	}
	return cfg, true, nil
}

// PruneExpiredContent deletes content-cache rows whose last_update is
// older than olderThan, implementing the content-cache TTL sweep
// for ContentCacheRecord (default PID_CACHE_EXPIRE of 7 days).
func (s *Store) PruneExpiredContent(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM content WHERE last_update < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune expired content: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
