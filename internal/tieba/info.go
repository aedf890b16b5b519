package tieba

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tieba-mod/moderator/internal/domain"
)

// userInfoTTL bounds staleness for a long-running daemon: a user's
// level/name rarely changes within a session, so entries are kept this
// long before a fresh lookup is forced.
const userInfoTTL = 30 * time.Minute

type userInfoEntry struct {
	info    domain.User
	expires time.Time
}

// Info is the shared user-info lookup helper: a small TTL cache in front of the authenticated
// moderator client's GetUserInfo call.
//
// A single shared client plus a bounded, TTL-stamped lru.Cache of user
// info keyed by user id.
type Info struct {
	mu     sync.Mutex
	cache  *lru.Cache[int64, userInfoEntry]
	client *Client
	now    func() time.Time
}

// NewInfo builds an Info helper backed by the given authenticated client.
func NewInfo(client *Client) *Info {
	cache, err := lru.New[int64, userInfoEntry](4096)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Info{cache: cache, client: client, now: time.Now}
}

// GetUserInfo returns the cached user info for userID, falling back to a
// live lookup through the authenticated client on a cache miss or expiry.
func (i *Info) GetUserInfo(ctx context.Context, userID int64) (domain.User, error) {
	i.mu.Lock()
	if entry, ok := i.cache.Get(userID); ok && i.now().Before(entry.expires) {
		i.mu.Unlock()
		return entry.info, nil
	}
	i.mu.Unlock()

	info, err := i.client.GetUserInfo(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if info.UserID != 0 {
		i.mu.Lock()
		i.cache.Add(userID, userInfoEntry{info: info, expires: i.now().Add(userInfoTTL)})
		i.mu.Unlock()
	}
	return info, nil
}

// IsThreadAuthor implements rule.AuthorResolver: true when content's author is also the
// thread's original poster.
func (i *Info) IsThreadAuthor(ctx context.Context, content *domain.Content) (bool, error) {
	if content.IsThread() {
		return true, nil
	}
	op, err := i.threadAuthor(ctx, content)
	if err != nil {
		return false, err
	}
	return op == content.User.UserID, nil
}

// threadAuthor is a placeholder seam: resolving a thread's OP from a
// reply alone requires either the thread's first post or a field carried
// on Content at crawl time. The browser page parser (browser.go) stamps
// content.ThreadAuthorID on the posts and inline comments it returns, so
// this reads that instead of an extra upstream round trip.
func (i *Info) threadAuthor(ctx context.Context, content *domain.Content) (int64, error) {
	return content.ThreadAuthorID, nil
}
