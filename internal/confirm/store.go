// Package confirm implements the per-user Confirmation Store: a
// disk-backed, TTL-expiring cache of ConfirmData keyed by pid, used when a
// rule requires manual confirmation before its operations run.
//
// Each store is a per-user JSON file, rewritten on every set/delete,
// with lazy expiry-on-read plus an explicit sweep. Isolation per user
// comes from each Processer/Dispatcher owning its own *Store pointed at
// that user's file, not from any locking scheme shared across users.
package confirm

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
)

type entry struct {
	Data      domain.ConfirmData `json:"data"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Store is one user's confirmation cache.
type Store struct {
	mu      sync.Mutex
	path    string
	ttl     time.Duration
	entries map[int64]entry
	now     func() time.Time
	logger  *slog.Logger
}

// New builds a Store backed by path, with entries written with TTL ttl.
// Any pre-existing file at path is loaded eagerly; a missing or corrupt
// file starts the store empty rather than failing.
func New(path string, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, ttl: ttl, entries: make(map[int64]entry), now: time.Now, logger: logger.With("component", "confirm_store")}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var entries map[int64]entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Warn("confirm cache file corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	s.entries = entries
}

// save rewrites the backing file with the current entry set. Errors are
// logged, not returned: a failed persist degrades durability across a
// restart, not in-memory correctness for the running process.
func (s *Store) save() {
	if s.path == "" {
		return
	}
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		s.logger.Error("marshal confirm cache failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("create confirm cache dir failed", "error", err)
		return
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		s.logger.Error("write confirm cache failed", "path", s.path, "error", err)
	}
}

// Set stores data for pid with TTL from the store's configured duration.
func (s *Store) Set(pid int64, data domain.ConfirmData) {
	s.mu.Lock()
	s.entries[pid] = entry{Data: data, ExpiresAt: s.now().Add(s.ttl)}
	s.save()
	s.mu.Unlock()
}

// Get returns the non-expired entry for pid, if any. An expired entry is evicted as a side
// effect rather than waiting for the sweep.
func (s *Store) Get(pid int64) (domain.ConfirmData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[pid]
	if !ok {
		return domain.ConfirmData{}, false
	}
	if s.now().After(e.ExpiresAt) {
		delete(s.entries, pid)
		s.save()
		return domain.ConfirmData{}, false
	}
	return e.Data, true
}

// Delete removes the entry for pid, reporting whether one existed.
func (s *Store) Delete(pid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[pid]; !ok {
		return false
	}
	delete(s.entries, pid)
	s.save()
	return true
}

// Values returns every non-expired entry, order unspecified.
func (s *Store) Values() []domain.ConfirmData {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]domain.ConfirmData, 0, len(s.entries))
	for pid, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, pid)
			continue
		}
		out = append(out, e.Data)
	}
	return out
}

// SetExpireTime adjusts every existing entry's expiry by delta = newTTL -
// oldTTL, and sets the TTL newly-set entries will use from now on. Entries whose new expiry has already
// elapsed are dropped.
func (s *Store) SetExpireTime(newTTL time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := newTTL - s.ttl
	s.ttl = newTTL
	now := s.now()

	for pid, e := range s.entries {
		e.ExpiresAt = e.ExpiresAt.Add(delta)
		if now.After(e.ExpiresAt) {
			delete(s.entries, pid)
			continue
		}
		s.entries[pid] = e
	}
	s.save()
}

// Clean purges every expired entry. Callers
// register Clean against the global ClearCache AsyncEvent.
func (s *Store) Clean() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for pid, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, pid)
			cleaned++
		}
	}
	if cleaned > 0 {
		s.save()
	}
	return cleaned
}
