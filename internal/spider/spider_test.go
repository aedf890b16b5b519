package spider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/classifier"
	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/tieba"
)

func TestPostPageWindow(t *testing.T) {
	cases := []struct {
		name                          string
		totalPage, forward, backward  int
		want                          []int
	}{
		{"short thread reads every page once", 3, 5, 5, []int{2, 3}},
		{"boundary equals forward+backward reads every page once", 10, 5, 5, []int{2, 3, 4, 5, 10, 9, 8, 7, 6}},
		{"long thread has forward window plus descending tail", 20, 3, 2, []int{2, 3, 20, 19}},
		{"single page thread has no window", 1, 3, 2, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := postPageWindow(tc.totalPage, tc.forward, tc.backward)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fakeReader struct {
	threads  map[int][]domain.Content
	comments map[int64][]domain.Content
}

func (f *fakeReader) GetThreads(_ context.Context, _ string, pn int) ([]domain.Content, error) {
	return f.threads[pn], nil
}

func (f *fakeReader) GetComments(_ context.Context, _ string, _, pid int64, _ int) ([]domain.Content, error) {
	return f.comments[pid], nil
}

type fakeBrowser struct {
	pages map[int]tieba.PageResult
}

func (f *fakeBrowser) GetPosts(_ context.Context, _ int64, pn int) (tieba.PageResult, error) {
	return f.pages[pn], nil
}

type memStorage struct {
	rows map[int64]domain.ContentCacheRecord
}

func newMemStorage() *memStorage { return &memStorage{rows: make(map[int64]domain.ContentCacheRecord)} }

func (m *memStorage) ClassifyAndUpdate(_ context.Context, rec domain.ContentCacheRecord) (*domain.ContentCacheRecord, error) {
	prior, ok := m.rows[rec.Pid]
	m.rows[rec.Pid] = rec
	if !ok {
		return nil, nil
	}
	return &prior, nil
}

func newTestSpider(t *testing.T, reader Reader, browser PostFetcher) *Spider {
	t.Helper()
	clf, err := classifier.New(classifier.Config{Storage: newMemStorage()})
	require.NoError(t, err)
	eta := tieba.NewEtaSleep(0)
	scan := func() domain.ScanConfig {
		return domain.ScanConfig{ThreadPageForward: 1, PostPageForward: 2, PostPageBackward: 1}
	}
	return New(reader, browser, clf, eta, scan, nil)
}

func TestCrawl_YieldsNewThreadAndDescendsIntoPosts(t *testing.T) {
	thread := domain.NewThread("f1", 100, "hi", "", nil, 1700000000, 1700000000, 3, domain.User{UserID: 1})
	reader := &fakeReader{threads: map[int][]domain.Content{1: {thread}}}
	post := domain.NewPost("f1", 100, 200, "hi", "", nil, 1700000001, 2, 5, domain.User{UserID: 2})
	browser := &fakeBrowser{pages: map[int]tieba.PageResult{
		1: {Posts: []domain.Content{post}, TotalPage: 1, ReplyNum: map[int64]int{200: 5}},
	}}

	s := newTestSpider(t, reader, browser)

	var visited []domain.Content
	err := s.Crawl(context.Background(), "f1", domain.CrawlNeed{Thread: true, Post: true, Comment: true}, func(_ context.Context, c domain.Content) error {
		visited = append(visited, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 2)
	assert.Equal(t, domain.ContentThread, visited[0].Type)
	assert.Equal(t, domain.ContentPost, visited[1].Type)
}

func TestCrawl_SkipsStableThreadWithNoLayersWanted(t *testing.T) {
	thread := domain.NewThread("f1", 100, "hi", "", nil, 1700000000, 1700000000, 0, domain.User{UserID: 1})
	reader := &fakeReader{threads: map[int][]domain.Content{1: {thread}}}
	browser := &fakeBrowser{}

	s := newTestSpider(t, reader, browser)
	// Prime cache so the thread is UNCHANGED on the second pass.
	require.NoError(t, s.Crawl(context.Background(), "f1", domain.CrawlNeed{Thread: true}, func(context.Context, domain.Content) error { return nil }))

	var visited []domain.Content
	err := s.Crawl(context.Background(), "f1", domain.CrawlNeed{}, func(_ context.Context, c domain.Content) error {
		visited = append(visited, c)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, visited)
}

func TestCrawl_FetchesCommentsForUnstablePost(t *testing.T) {
	thread := domain.NewThread("f1", 100, "hi", "", nil, 1700000000, 1700000000, 1, domain.User{UserID: 1})
	reader := &fakeReader{
		threads:  map[int][]domain.Content{1: {thread}},
		comments: map[int64][]domain.Content{200: {domain.NewComment("f1", 100, 300, "hi", "nested", 1700000002, 2, domain.User{UserID: 3})}},
	}
	post := domain.NewPost("f1", 100, 200, "hi", "", nil, 1700000001, 2, 10, domain.User{UserID: 2})
	browser := &fakeBrowser{pages: map[int]tieba.PageResult{
		1: {Posts: []domain.Content{post}, TotalPage: 1, ReplyNum: map[int64]int{200: 10}},
	}}

	s := newTestSpider(t, reader, browser)

	var visited []domain.Content
	err := s.Crawl(context.Background(), "f1", domain.CrawlNeed{Thread: true, Post: true, Comment: true}, func(_ context.Context, c domain.Content) error {
		visited = append(visited, c)
		return nil
	})
	require.NoError(t, err)

	var sawComment bool
	for _, c := range visited {
		if c.IsComment() {
			sawComment = true
		}
	}
	assert.True(t, sawComment, "expected the sub-reply fetched from get_comments to be yielded")
}

func TestEtaSleep_EnforcesCooldown(t *testing.T) {
	eta := tieba.NewEtaSleep(20 * time.Millisecond)
	ctx := context.Background()

	release, err := eta.Acquire(ctx)
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = eta.Acquire(ctx)
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
