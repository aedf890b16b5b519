// Package classifier implements the content-update cache protocol:
// the single-round-trip check-and-update operation that classifies every
// observed Content as NEW / NEW_WITH_CHILDREN / UPDATED / UNCHANGED and
// drives the Spider's pagination decisions.
//
// The identity key is the upstream pid; the classification rule is
// variant-dependent (threads, posts and comments carry different update
// markers).
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// Storage is the persistence contract the classifier needs: a single
// transactional round trip that reads the prior cache row for pid (if
// any), writes the new row, and reports whether this pid was seen before.
// Implementations must serialize concurrent callers on the same pid with
// a per-row transaction.
type Storage interface {
	ClassifyAndUpdate(ctx context.Context, rec domain.ContentCacheRecord) (prior *domain.ContentCacheRecord, err error)
}

// Classifier implements classify_and_update.
type Classifier struct {
	storage Storage
	logger  *slog.Logger
	clock   func() time.Time

	stats Stats
}

// Stats is an in-memory counter set: operational visibility into
// classification outcomes without requiring a metrics scrape to answer
// "is this forum noisy".
type Stats struct {
	NewCount        int64
	NewWithChild    int64
	UpdatedCount    int64
	UnchangedCount  int64
	ErrorCount      int64
}

// Config configures a Classifier.
type Config struct {
	Storage Storage
	Logger  *slog.Logger
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

func New(cfg Config) (*Classifier, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("classifier: storage is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Classifier{
		storage: cfg.Storage,
		logger:  cfg.Logger.With("component", "classifier"),
		clock:   cfg.Clock,
	}, nil
}

// ClassifyAndUpdate performs a single transactional round trip: read
// (last_time, reply_num) for pid, upsert the new marker values, commit,
// and classify according to the variant-specific table.
//
// On storage failure the classifier fails fast (ErrCacheUnavailable); the
// Spider treats this as a transient crawl error and skips the item,
// leaving cache state untouched so the next pass observes it as a first
// sighting again.
func (c *Classifier) ClassifyAndUpdate(ctx context.Context, content *domain.Content) (domain.UpdateStatus, error) {
	if err := content.Validate(); err != nil {
		return 0, err
	}

	rec := domain.CacheRecordFromContent(content, c.clock())
	prior, err := c.storage.ClassifyAndUpdate(ctx, rec)
	if err != nil {
		c.stats.ErrorCount++
		c.logger.Error("classify_and_update failed", "pid", content.Pid, "error", err)
		return 0, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}

	status := classify(content, prior)
	c.record(content.Type, status)
	c.logger.Debug("classified content", "pid", content.Pid, "type", content.Type, "status", status)
	return status, nil
}

// classify maps (variant, prior markers, new markers) to an
// UpdateStatus. prior is nil on a first sighting (cache miss).
func classify(c *domain.Content, prior *domain.ContentCacheRecord) domain.UpdateStatus {
	switch c.Type {
	case domain.ContentThread:
		if prior == nil {
			if c.ReplyNum > 0 {
				return domain.StatusNewWithChild
			}
			return domain.StatusNew
		}
		if prior.LastTime == nil || prior.ReplyNum == nil || *prior.LastTime != c.LastTime || *prior.ReplyNum != c.ReplyNum {
			return domain.StatusUpdated
		}
		return domain.StatusUnchanged

	case domain.ContentPost:
		if prior == nil {
			if c.ReplyNum > 4 {
				return domain.StatusNewWithChild
			}
			return domain.StatusNew
		}
		if prior.ReplyNum == nil || *prior.ReplyNum != c.ReplyNum {
			return domain.StatusUpdated
		}
		return domain.StatusUnchanged

	case domain.ContentComment:
		if prior == nil {
			return domain.StatusNew
		}
		return domain.StatusUnchanged

	default:
		return domain.StatusUnchanged
	}
}

func (c *Classifier) record(contentType domain.ContentType, status domain.UpdateStatus) {
	switch status {
	case domain.StatusNew:
		c.stats.NewCount++
	case domain.StatusNewWithChild:
		c.stats.NewWithChild++
	case domain.StatusUpdated:
		c.stats.UpdatedCount++
	case domain.StatusUnchanged:
		c.stats.UnchangedCount++
	}
	metrics.Default().Business().ClassifierResultsTotal.
		WithLabelValues(string(contentType), strings.ToLower(status.String())).Inc()
}

// StatsSnapshot returns a copy of the current counters.
func (c *Classifier) StatsSnapshot() Stats {
	return c.stats
}
