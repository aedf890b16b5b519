// Package storage ties the dialect-specific stores (internal/storage/postgres,
// internal/storage/sqlite) into the interfaces the business packages
// depend on, and adds a bounded in-process read cache in front of the
// SQL-backed ContentCacheRecord store.
//
// The cache fronts the classify-and-update round trip the classifier
// package drives, so pagination decisions revisiting a pid skip the
// SELECT.
package storage

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// FullStorage is classifier.Storage plus the write-only upsert both
// dialect stores expose, letting CachedStorage skip the database read
// when the prior record is already resident in the LRU.
type FullStorage interface {
	ClassifyAndUpdate(ctx context.Context, rec domain.ContentCacheRecord) (*domain.ContentCacheRecord, error)
	UpsertContent(ctx context.Context, rec domain.ContentCacheRecord) error
}

// Store is the full dialect-store surface: FullStorage plus
// crawler.ContentPersister, rule.ProcessRecorder and
// eventbus.ConfigPersister, each satisfied identically by
// internal/storage/postgres.Store and internal/storage/sqlite.Store.
// Defined here (rather than in those packages) so cmd/server can depend
// on one interface regardless of which dialect Open picked.
type Store interface {
	FullStorage
	SaveContent(ctx context.Context, content domain.Content) error
	SaveUser(ctx context.Context, user domain.User) error
	SaveUserLevel(ctx context.Context, rec domain.UserLevelRecord) error
	RecordProcessLog(ctx context.Context, log domain.ProcessLog) error
	RecordProcessContext(ctx context.Context, pc domain.ProcessContext) error
	SaveSystemConfig(ctx context.Context, cfg domain.SystemConfig) error
	LoadSystemConfig(ctx context.Context) (domain.SystemConfig, bool, error)
	PruneExpiredContent(ctx context.Context, olderThan time.Time) (int64, error)
}

// CachedStorage wraps a FullStorage with a bounded LRU of the most
// recently classified pids, avoiding a repeat SELECT for pagination
// windows that revisit the same pid within one crawl pass.
type CachedStorage struct {
	inner FullStorage
	cache *lru.Cache[int64, domain.ContentCacheRecord]
}

// NewCachedStorage builds a CachedStorage with room for size entries.
func NewCachedStorage(inner FullStorage, size int) (*CachedStorage, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[int64, domain.ContentCacheRecord](size)
	if err != nil {
		return nil, fmt.Errorf("storage: new lru: %w", err)
	}
	return &CachedStorage{inner: inner, cache: cache}, nil
}

// ClassifyAndUpdate satisfies classifier.Storage. On an LRU hit it skips
// the underlying store's read and writes through with UpsertContent
// directly; on a miss it falls back to the full read+write round trip and
// seeds the cache with whatever prior value came back (nil on a first
// sighting).
func (c *CachedStorage) ClassifyAndUpdate(ctx context.Context, rec domain.ContentCacheRecord) (*domain.ContentCacheRecord, error) {
	if cached, ok := c.cache.Get(rec.Pid); ok {
		metrics.Default().Infra().Cache.HitsTotal.WithLabelValues("classifier_read").Inc()
		if err := c.inner.UpsertContent(ctx, rec); err != nil {
			return nil, err
		}
		c.cache.Add(rec.Pid, rec)
		priorCopy := cached
		return &priorCopy, nil
	}

	metrics.Default().Infra().Cache.MissesTotal.WithLabelValues("classifier_read").Inc()
	prior, err := c.inner.ClassifyAndUpdate(ctx, rec)
	if err != nil {
		return nil, err
	}
	c.cache.Add(rec.Pid, rec)
	return prior, nil
}

// UpsertContent satisfies FullStorage by writing through to the inner
// store and keeping the LRU in sync with the written value.
func (c *CachedStorage) UpsertContent(ctx context.Context, rec domain.ContentCacheRecord) error {
	if err := c.inner.UpsertContent(ctx, rec); err != nil {
		return err
	}
	c.cache.Add(rec.Pid, rec)
	return nil
}

// Len reports the number of pids currently resident in the cache.
func (c *CachedStorage) Len() int {
	return c.cache.Len()
}
