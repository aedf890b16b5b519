package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tieba-mod/moderator/internal/domain"
)

// RedisStore is a Redis-backed confirmation store, satisfying the same
// Set/Get/Delete shape dispatch.ConfirmStore expects from the file-backed
// Store. Errors are logged, not returned, matching the file-backed
// Store's "best-effort durability" stance.
//
// A *redis.Client built from an address/password/DB triple, pinged at
// construction time, holding JSON-marshaled values written with a TTL.
// The surface is only the three calls a ConfirmStore needs; expiry is
// enforced server-side by Redis rather than by a sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisConfig configures a RedisStore's connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore dials addr and pings it, namespacing every key under
// "confirm:<keyPrefix>:" so multiple users' stores can share one Redis
// instance and DB without colliding (keyPrefix is typically the
// username).
func NewRedisStore(cfg RedisConfig, keyPrefix string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "confirm_redis_store", "user", keyPrefix)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("confirm: connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: keyPrefix, ttl: ttl, logger: logger}, nil
}

func (s *RedisStore) key(pid int64) string {
	return fmt.Sprintf("confirm:%s:%d", s.prefix, pid)
}

// Set stores data for pid with the store's configured TTL.
func (s *RedisStore) Set(pid int64, data domain.ConfirmData) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("marshal confirm data failed", "pid", pid, "error", err)
		return
	}
	if err := s.client.Set(context.Background(), s.key(pid), raw, s.ttl).Err(); err != nil {
		s.logger.Error("set confirm data failed", "pid", pid, "error", err)
	}
}

// Get returns the entry for pid, if any and unexpired; expiry is enforced by Redis's own TTL
// rather than a lazy check on read.
func (s *RedisStore) Get(pid int64) (domain.ConfirmData, bool) {
	raw, err := s.client.Get(context.Background(), s.key(pid)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Error("get confirm data failed", "pid", pid, "error", err)
		}
		return domain.ConfirmData{}, false
	}
	var data domain.ConfirmData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Error("unmarshal confirm data failed", "pid", pid, "error", err)
		return domain.ConfirmData{}, false
	}
	return data, true
}

// Delete removes the entry for pid, reporting whether one existed.
func (s *RedisStore) Delete(pid int64) bool {
	n, err := s.client.Del(context.Background(), s.key(pid)).Result()
	if err != nil {
		s.logger.Error("delete confirm data failed", "pid", pid, "error", err)
		return false
	}
	return n > 0
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
