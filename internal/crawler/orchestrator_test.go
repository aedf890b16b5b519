package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/spider"
)

type fakeSpider struct {
	mu    sync.Mutex
	calls int
	yield []domain.Content
}

func (f *fakeSpider) Crawl(ctx context.Context, fname string, need domain.CrawlNeed, visit spider.VisitFunc) error {
	f.mu.Lock()
	f.calls++
	items := f.yield
	f.mu.Unlock()
	for _, c := range items {
		if err := visit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	seen []domain.Content
}

func (f *fakePublisher) Broadcast(_ context.Context, c domain.Content) {
	f.mu.Lock()
	f.seen = append(f.seen, c)
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakePersister struct {
	mu       sync.Mutex
	contents int
	users    int
	levels   int
}

func (f *fakePersister) SaveContent(context.Context, domain.Content) error {
	f.mu.Lock()
	f.contents++
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) SaveUser(context.Context, domain.User) error {
	f.mu.Lock()
	f.users++
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) SaveUserLevel(context.Context, domain.UserLevelRecord) error {
	f.mu.Lock()
	f.levels++
	f.mu.Unlock()
	return nil
}

func TestOrchestrator_UpdateNeeds_AggregatesAcrossUsers(t *testing.T) {
	sp := &fakeSpider{}
	o := New(sp, &fakePublisher{}, &fakePersister{}, func() bool { return false }, func() time.Duration { return time.Millisecond }, nil)

	users := []domain.UserConfig{
		{Enable: true, Forum: domain.ForumConfig{Fname: "f1", Thread: true}, Rules: []domain.RuleConfig{{Name: "r1"}}},
		{Enable: true, Forum: domain.ForumConfig{Fname: "f1", Post: true}, Rules: []domain.RuleConfig{{Name: "r2"}}},
		{Enable: false, Forum: domain.ForumConfig{Fname: "f2", Thread: true}, Rules: []domain.RuleConfig{{Name: "r3"}}},
		{Enable: true, Forum: domain.ForumConfig{Fname: "f3"}, Rules: nil},
	}
	o.UpdateNeeds(context.Background(), users)

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Contains(t, o.needs, "f1")
	assert.True(t, o.needs["f1"].Thread)
	assert.True(t, o.needs["f1"].Post)
	assert.NotContains(t, o.needs, "f2")
	assert.NotContains(t, o.needs, "f3")
}

func TestOrchestrator_StartsTaskWhenNeedsNonEmptyAndRunning(t *testing.T) {
	thread := domain.NewThread("f1", 100, "hi", "", nil, 1, 1, 0, domain.User{UserID: 1})
	sp := &fakeSpider{yield: []domain.Content{thread}}
	pub := &fakePublisher{}
	persister := &fakePersister{}
	o := New(sp, pub, persister, func() bool { return true }, func() time.Duration { return time.Hour }, nil)

	o.UpdateNeeds(context.Background(), []domain.UserConfig{
		{Enable: true, Forum: domain.ForumConfig{Fname: "f1", Thread: true}, Rules: []domain.RuleConfig{{Name: "r1"}}},
	})
	defer o.Stop()

	require.Eventually(t, func() bool { return pub.count() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, persister.contents)
	assert.Equal(t, 1, persister.users)
	assert.Equal(t, 1, persister.levels)
}

func TestOrchestrator_StopsTaskWhenNeedsBecomeEmpty(t *testing.T) {
	sp := &fakeSpider{}
	o := New(sp, &fakePublisher{}, &fakePersister{}, func() bool { return true }, func() time.Duration { return time.Millisecond }, nil)

	o.UpdateNeeds(context.Background(), []domain.UserConfig{
		{Enable: true, Forum: domain.ForumConfig{Fname: "f1", Thread: true}, Rules: []domain.RuleConfig{{Name: "r1"}}},
	})
	o.mu.Lock()
	require.NotNil(t, o.cancel)
	o.mu.Unlock()

	o.UpdateNeeds(context.Background(), nil)
	o.mu.Lock()
	assert.Nil(t, o.cancel)
	o.mu.Unlock()
}
