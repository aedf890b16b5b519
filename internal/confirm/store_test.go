package confirm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/domain"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, func(time.Time)) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confirm_cache.json")
	s := New(path, ttl, nil)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, func(t time.Time) { now = t }
}

func TestStore_SetGetDelete(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	data := domain.ConfirmData{RuleName: "r1"}

	_, ok := s.Get(1)
	assert.False(t, ok)

	s.Set(1, data)
	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "r1", got.RuleName)

	assert.True(t, s.Delete(1))
	assert.False(t, s.Delete(1))
	_, ok = s.Get(1)
	assert.False(t, ok)
}

func TestStore_GetExpiresEntry(t *testing.T) {
	s, advance := newTestStore(t, time.Minute)
	s.Set(1, domain.ConfirmData{RuleName: "r1"})

	advance(time.Now().Add(2 * time.Minute))
	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestStore_Values_ExcludesExpired(t *testing.T) {
	s, advance := newTestStore(t, time.Minute)
	s.Set(1, domain.ConfirmData{RuleName: "a"})
	s.Set(2, domain.ConfirmData{RuleName: "b"})

	advance(time.Now().Add(2 * time.Minute))
	s.Set(3, domain.ConfirmData{RuleName: "c"})

	values := s.Values()
	require.Len(t, values, 1)
	assert.Equal(t, "c", values[0].RuleName)
}

func TestStore_SetExpireTime_AdjustsAndDropsNegative(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	s.Set(1, domain.ConfirmData{RuleName: "r1"})

	s.SetExpireTime(-time.Hour)
	_, ok := s.Get(1)
	assert.False(t, ok, "shrinking TTL to a past expiry should drop the entry")
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confirm_cache.json")
	s1 := New(path, time.Hour, nil)
	s1.Set(42, domain.ConfirmData{RuleName: "persisted"})

	s2 := New(path, time.Hour, nil)
	got, ok := s2.Get(42)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.RuleName)
}

func TestStore_Clean_PurgesExpired(t *testing.T) {
	s, advance := newTestStore(t, time.Minute)
	s.Set(1, domain.ConfirmData{RuleName: "a"})
	advance(time.Now().Add(2 * time.Minute))

	assert.Equal(t, 1, s.Clean())
	assert.Empty(t, s.Values())
}
