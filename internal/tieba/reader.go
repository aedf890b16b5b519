package tieba

import (
	"context"

	"github.com/tieba-mod/moderator/internal/domain"
)

// ReaderClient is the Spider's shared, unauthenticated upstream session.
// Thread-list and comment-page reads need no BDUSS/STOKEN, so ReaderClient
// carries none of Client's auth lifecycle: it just opens once at startup
// and is shared read-only across every Spider goroutine.
//
// It carries no credentials; per-user moderator sessions live in Client
// and have a separate lifecycle.
type ReaderClient struct {
	api  UpstreamAPI
	dial func() (UpstreamAPI, error)
}

// NewReaderClient builds a ReaderClient bound to a dial function so tests
// can substitute a fake transport.
func NewReaderClient(dial func() (UpstreamAPI, error)) *ReaderClient {
	return &ReaderClient{dial: dial}
}

// Open dials the underlying transport. Must be called once before any read.
func (r *ReaderClient) Open() error {
	api, err := r.dial()
	if err != nil {
		return err
	}
	r.api = api
	return nil
}

// Close tears down the underlying transport. Idempotent.
func (r *ReaderClient) Close() error {
	if r.api == nil {
		return nil
	}
	err := r.api.Close()
	r.api = nil
	return err
}

// GetThreads fetches one page of a forum's thread list.
func (r *ReaderClient) GetThreads(ctx context.Context, fname string, pn int) ([]domain.Content, error) {
	return r.api.GetThreads(ctx, fname, pn)
}

// GetComments fetches one page of a post's sub-replies.
func (r *ReaderClient) GetComments(ctx context.Context, fname string, tid, pid int64, pn int) ([]domain.Content, error) {
	return r.api.GetComments(ctx, fname, tid, pid, pn)
}
