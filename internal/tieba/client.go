package tieba

import (
	"context"
	"fmt"

	"github.com/tieba-mod/moderator/internal/domain"
)

// ClientState is the moderator client's lifecycle state.
type ClientState int

const (
	StateMissingCookie ClientState = iota
	StateSuccess
	StateFailed
)

func (s ClientState) String() string {
	switch s {
	case StateMissingCookie:
		return "MISSING_COOKIE"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// UpstreamAPI is the subset of the authenticated Baidu Tieba client the
// moderator Client wraps. A real
// implementation wraps aiotieba's Go-ecosystem equivalent transport; tests
// substitute a fake.
type UpstreamAPI interface {
	GetSelfInfo(ctx context.Context) (domain.User, error)
	// GetThreads fetches one page of a forum's thread list.
	GetThreads(ctx context.Context, fname string, pn int) ([]domain.Content, error)
	// GetComments fetches one page of a post's sub-replies (comments).
	GetComments(ctx context.Context, fname string, tid, pid int64, pn int) ([]domain.Content, error)
	DelThread(ctx context.Context, fname string, tid int64) (bool, error)
	DelPost(ctx context.Context, fname string, tid, pid int64) (bool, error)
	Block(ctx context.Context, fname string, userID int64, day int, reason string) (bool, error)
	GetUserInfo(ctx context.Context, userID int64) (domain.User, error)
	Close() error
}

// Client is the authenticated moderator API client:
// delete/block calls plus the start/stop auth lifecycle.
type Client struct {
	bduss  string
	stoken string
	api    UpstreamAPI
	dial   func(bduss, stoken string) (UpstreamAPI, error)

	state ClientState
	self  domain.User
	// failReason is set when state == StateFailed.
	failReason string
}

// NewClient builds a Client bound to a BDUSS/STOKEN credential pair and a
// dial function constructing the underlying transport (injected so tests
// can substitute a fake without a live upstream).
func NewClient(bduss, stoken string, dial func(bduss, stoken string) (UpstreamAPI, error)) *Client {
	return &Client{bduss: bduss, stoken: stoken, dial: dial, state: StateMissingCookie}
}

// State reports the client's current lifecycle state.
func (c *Client) State() ClientState { return c.state }

// Authenticated reports whether the client may be used for operations.
func (c *Client) Authenticated() bool { return c.state == StateSuccess }

// Start opens the underlying client and validates the credentials: absent credentials short-circuit to MISSING_COOKIE; a self-info
// call returning user_id == 0 is FAILED("invalid credentials"); otherwise
// SUCCESS.
func (c *Client) Start(ctx context.Context) (bool, error) {
	if c.bduss == "" || c.stoken == "" {
		c.state = StateMissingCookie
		return false, nil
	}

	api, err := c.dial(c.bduss, c.stoken)
	if err != nil {
		c.state = StateFailed
		c.failReason = err.Error()
		return false, nil
	}
	c.api = api

	self, err := api.GetSelfInfo(ctx)
	if err != nil {
		c.state = StateFailed
		c.failReason = err.Error()
		_ = api.Close()
		c.api = nil
		return false, nil
	}
	if self.UserID == 0 {
		c.state = StateFailed
		c.failReason = "invalid credentials"
		_ = api.Close()
		c.api = nil
		return false, nil
	}

	c.self = self
	c.state = StateSuccess
	return true, nil
}

// Stop closes the underlying client. Idempotent.
func (c *Client) Stop() error {
	if c.api == nil {
		return nil
	}
	err := c.api.Close()
	c.api = nil
	return err
}

// SelfInfo returns the cached self-info captured at Start time.
func (c *Client) SelfInfo() domain.User { return c.self }

// Delete removes content upstream: thread deletion for a
// Thread-variant Content, post deletion otherwise.
func (c *Client) Delete(ctx context.Context, content *domain.Content) (bool, error) {
	if !c.Authenticated() {
		return false, domain.ErrInvalidClient
	}
	if content.IsThread() {
		return c.api.DelThread(ctx, content.Fname, content.Tid)
	}
	return c.api.DelPost(ctx, content.Fname, content.Tid, content.Pid)
}

// Block bans content's author from the forum for day days.
func (c *Client) Block(ctx context.Context, content *domain.Content, day int, reason string) (bool, error) {
	if !c.Authenticated() {
		return false, domain.ErrInvalidClient
	}
	return c.api.Block(ctx, content.Fname, content.User.UserID, day, reason)
}

// GetUserInfo looks up a user by id through the authenticated session.
func (c *Client) GetUserInfo(ctx context.Context, userID int64) (domain.User, error) {
	if !c.Authenticated() {
		return domain.User{}, domain.ErrInvalidClient
	}
	return c.api.GetUserInfo(ctx, userID)
}

func (c *Client) String() string {
	if c.state == StateFailed {
		return fmt.Sprintf("Client(state=%s, reason=%s)", c.state, c.failReason)
	}
	return fmt.Sprintf("Client(state=%s)", c.state)
}
