// Package spider implements the forum crawl pass: a single-pass,
// rate-limited walk of a forum's thread list, each thread's post pages,
// and the comment pages of posts whose sub-reply count looks unseen,
// classifying every item through the content-update cache and
// yielding only what the caller asked for.
//
// Each yielded item reaches the caller through a visitor func. Every
// upstream call is wrapped with internal/resilience's retry policy
// before the per-page/per-item skip-and-continue fallback kicks in.
package spider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tieba-mod/moderator/internal/classifier"
	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/resilience"
	"github.com/tieba-mod/moderator/internal/tieba"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// Reader is the subset of the shared upstream session a Spider needs.
type Reader interface {
	GetThreads(ctx context.Context, fname string, pn int) ([]domain.Content, error)
	GetComments(ctx context.Context, fname string, tid, pid int64, pn int) ([]domain.Content, error)
}

// PostFetcher is the browser client's post-page fetch, kept as an
// interface so tests can substitute a fake page source.
type PostFetcher interface {
	GetPosts(ctx context.Context, tid int64, pn int) (tieba.PageResult, error)
}

// VisitFunc is called once for every Content the caller asked to see, in
// the order Threads, then each thread's Posts, then its Comments. A returned
// error is logged and abandons the rest of the current thread (for a post,
// only that post's remaining work); the pass goes on with the next thread.
// Crawl returns early only when the error is a context cancellation or
// deadline.
type VisitFunc func(ctx context.Context, content domain.Content) error

// Spider performs one rate-limited crawl pass over a forum. A single instance is process-singleton; concurrent Crawl calls
// are not supported, matching the shared EtaSleep gate's exclusivity.
type Spider struct {
	reader     Reader
	browser    PostFetcher
	classifier *classifier.Classifier
	eta        *tieba.EtaSleep
	scan       func() domain.ScanConfig
	logger     *slog.Logger
	retry      *resilience.Policy
}

// New builds a Spider. scan is called once per pass so that a config
// change is picked up on the next pass without reconstructing the
// Spider.
func New(reader Reader, browser PostFetcher, clf *classifier.Classifier, eta *tieba.EtaSleep, scan func() domain.ScanConfig, logger *slog.Logger) *Spider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "spider")
	retry := resilience.DefaultPolicy()
	retry.Logger = logger
	retry.Metrics = metrics.Default().Technical().Retry
	return &Spider{reader: reader, browser: browser, classifier: clf, eta: eta, scan: scan, logger: logger, retry: retry}
}

// Crawl performs one pass over fname, calling visit for every Content the
// need asks for. Any per-request upstream failure is logged and the step
// is skipped; the pass always continues.
func (s *Spider) Crawl(ctx context.Context, fname string, need domain.CrawlNeed, visit VisitFunc) error {
	cfg := s.scan()

	threads, err := s.fetchThreads(ctx, fname, cfg.ThreadPageForward)
	if err != nil {
		return err
	}

	for _, thread := range threads {
		if err := s.processThread(ctx, fname, cfg, thread, need, visit); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.Warn("thread processing failed, skipping", "tid", thread.Tid, "error", err)
		}
	}
	return nil
}

// retryPolicy returns a copy of the Spider's retry policy labeled for op,
// so metrics/log lines distinguish get_threads/get_posts/get_comments
// retries.
func (s *Spider) retryPolicy(op string) *resilience.Policy {
	p := *s.retry
	p.OperationName = op
	return &p
}

func (s *Spider) fetchThreads(ctx context.Context, fname string, forward int) ([]domain.Content, error) {
	var threads []domain.Content
	policy := s.retryPolicy("get_threads")
	for pn := 1; pn <= forward; pn++ {
		release, err := s.eta.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		page, err := resilience.WithRetryFunc(ctx, policy, func() ([]domain.Content, error) {
			return s.reader.GetThreads(ctx, fname, pn)
		})
		release()
		if err != nil {
			s.logger.Warn("get_threads failed, skipping page", "fname", fname, "pn", pn, "error", err)
			continue
		}
		threads = append(threads, page...)
	}
	return threads, nil
}

func (s *Spider) processThread(ctx context.Context, fname string, cfg domain.ScanConfig, thread domain.Content, need domain.CrawlNeed, visit VisitFunc) error {
	status, err := s.classifier.ClassifyAndUpdate(ctx, &thread)
	if err != nil {
		return fmt.Errorf("classify thread %d: %w", thread.Pid, err)
	}

	if status.Has(domain.StatusIsNew) && need.Thread {
		if err := visit(ctx, thread); err != nil {
			return err
		}
	}
	if status.Has(domain.StatusIsStable) && !need.Post && !need.Comment {
		return nil
	}

	posts, comments, replyNum, err := s.fetchPostWindow(ctx, thread.Tid, cfg)
	if err != nil {
		return fmt.Errorf("fetch posts for thread %d: %w", thread.Tid, err)
	}

	for _, post := range posts {
		if post.Floor == 1 {
			continue
		}
		if err := s.processPost(ctx, fname, post, replyNum[post.Pid], need, visit, &comments); err != nil {
			s.logger.Warn("post processing failed, skipping", "pid", post.Pid, "error", err)
		}
	}

	for _, comment := range comments {
		st, err := s.classifier.ClassifyAndUpdate(ctx, &comment)
		if err != nil {
			s.logger.Warn("classify comment failed, skipping", "pid", comment.Pid, "error", err)
			continue
		}
		if st.Has(domain.StatusIsNew) && need.Comment {
			if err := visit(ctx, comment); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchPostWindow fetches page 1 (to learn total_page) plus the forward
// and backward pagination windows, accumulating every post and inline-preview comment
// seen along the way.
func (s *Spider) fetchPostWindow(ctx context.Context, tid int64, cfg domain.ScanConfig) ([]domain.Content, []domain.Content, map[int64]int, error) {
	var posts, comments []domain.Content
	replyNum := make(map[int64]int)

	policy := s.retryPolicy("get_posts")
	fetch := func(pn int) (tieba.PageResult, error) {
		release, err := s.eta.Acquire(ctx)
		if err != nil {
			return tieba.PageResult{}, err
		}
		defer release()
		return resilience.WithRetryFunc(ctx, policy, func() (tieba.PageResult, error) {
			return s.browser.GetPosts(ctx, tid, pn)
		})
	}

	first, err := fetch(1)
	if err != nil {
		return nil, nil, nil, err
	}
	posts = append(posts, first.Posts...)
	comments = append(comments, first.Comments...)
	for pid, n := range first.ReplyNum {
		replyNum[pid] = n
	}

	for _, pn := range postPageWindow(first.TotalPage, cfg.PostPageForward, cfg.PostPageBackward) {
		page, err := fetch(pn)
		if err != nil {
			s.logger.Warn("get_posts failed, skipping page", "tid", tid, "pn", pn, "error", err)
			continue
		}
		posts = append(posts, page.Posts...)
		comments = append(comments, page.Comments...)
		for pid, n := range page.ReplyNum {
			replyNum[pid] = n
		}
	}

	return posts, comments, replyNum, nil
}

// processPost classifies one post and, if its sub-replies look unseen,
// fetches the last comment page and appends the result into comments for
// the caller's later classification pass.
func (s *Spider) processPost(ctx context.Context, fname string, post domain.Content, seededReplyNum int, need domain.CrawlNeed, visit VisitFunc, comments *[]domain.Content) error {
	replyNum := seededReplyNum
	if replyNum == 0 {
		replyNum = post.ReplyNum
	}
	post.ReplyNum = replyNum

	status, err := s.classifier.ClassifyAndUpdate(ctx, &post)
	if err != nil {
		return fmt.Errorf("classify post %d: %w", post.Pid, err)
	}

	if status.Has(domain.StatusIsNew) && need.Post {
		if err := visit(ctx, post); err != nil {
			return err
		}
	}
	if status.Has(domain.StatusIsStable) || !need.Post {
		return nil
	}

	targetPn := (replyNum + 29) / 30
	release, err := s.eta.Acquire(ctx)
	if err != nil {
		return err
	}
	fetched, err := resilience.WithRetryFunc(ctx, s.retryPolicy("get_comments"), func() ([]domain.Content, error) {
		return s.reader.GetComments(ctx, fname, post.Tid, post.Pid, targetPn)
	})
	release()
	if err != nil {
		return fmt.Errorf("get_comments for post %d: %w", post.Pid, err)
	}
	*comments = append(*comments, fetched...)
	return nil
}

// postPageWindow computes the set of post-list pages (beyond page 1,
// already fetched to learn total_page) to visit, in visit order: forward
// pages 2..min(forward, totalPage), then either every remaining page
// ascending (short thread) or the backward tail descending (long
// thread). A thread short enough for the windows to meet reads every
// remaining page exactly once.
func postPageWindow(totalPage, forward, backward int) []int {
	if totalPage < 2 {
		return nil
	}

	upper := forward
	if totalPage < upper {
		upper = totalPage
	}

	var pages []int
	for i := 2; i <= upper; i++ {
		pages = append(pages, i)
	}

	if totalPage < forward+backward {
		for i := upper + 1; i <= totalPage; i++ {
			pages = append(pages, i)
		}
		return pages
	}

	lowerTail := totalPage - backward
	if lowerTail < forward {
		lowerTail = forward
	}
	lowerTail++

	for i := totalPage; i >= lowerTail; i-- {
		pages = append(pages, i)
	}
	return pages
}
