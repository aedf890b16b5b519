// Package crawler implements the crawl orchestrator: it aggregates
// every enabled user's per-forum CrawlNeed into a single need set, owns
// the process-singleton crawl loop over that set, persists every yielded
// Content (plus its author and per-forum level), and broadcasts it on
// DispatchContent for the per-user dispatchers to pick up.
//
// UpdateNeeds OR-merges per-user needs and logs the diff; the crawl
// task's lifecycle is tied to needs emptiness and the controller's
// running state, and Restart cancels and relaunches it on config change.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/spider"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// Spider is the subset of spider.Spider the orchestrator drives.
type Spider interface {
	Crawl(ctx context.Context, fname string, need domain.CrawlNeed, visit spider.VisitFunc) error
}

// Publisher broadcasts a freshly crawled Content to every registered
// dispatcher. Satisfied
// structurally by *eventbus.AsyncEvent[domain.Content] without an import
// dependency on the eventbus package.
type Publisher interface {
	Broadcast(ctx context.Context, content domain.Content)
}

// ContentPersister durably stores every Content the crawl pass yields,
// along with its author and that author's per-forum level. SaveUserLevel must only
// upgrade a stored level, never downgrade it with a lower observation.
type ContentPersister interface {
	SaveContent(ctx context.Context, content domain.Content) error
	SaveUser(ctx context.Context, user domain.User) error
	SaveUserLevel(ctx context.Context, rec domain.UserLevelRecord) error
}

// Orchestrator is the crawl orchestrator.
type Orchestrator struct {
	spider    Spider
	publisher Publisher
	persister ContentPersister
	running   func() bool
	loopCD    func() time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	needs  map[string]domain.CrawlNeed
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Orchestrator. running reports whether the owning
// Controller is started (the task only runs while that's true); loopCD
// returns the current inter-pass sleep, read fresh on every pass so a
// config change takes effect without reconstruction.
func New(sp Spider, publisher Publisher, persister ContentPersister, running func() bool, loopCD func() time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		spider:    sp,
		publisher: publisher,
		persister: persister,
		running:   running,
		loopCD:    loopCD,
		logger:    logger.With("component", "crawler_orchestrator"),
		needs:     make(map[string]domain.CrawlNeed),
	}
}

// UpdateNeeds recomputes the aggregate need set from the current enabled
// users, logs the diff against the previous set, and starts or stops the
// crawl task to match.
func (o *Orchestrator) UpdateNeeds(ctx context.Context, users []domain.UserConfig) {
	next := make(map[string]domain.CrawlNeed)
	for _, u := range users {
		if !u.Enable || u.Forum.Fname == "" || len(u.Rules) == 0 {
			continue
		}
		need := domain.CrawlNeed{Thread: u.Forum.Thread, Post: u.Forum.Post, Comment: u.Forum.Comment}
		if need.Empty() {
			continue
		}
		next[u.Forum.Fname] = next[u.Forum.Fname].Or(need)
	}

	o.mu.Lock()
	prev := o.needs
	o.needs = next
	o.mu.Unlock()

	o.logDiff(prev, next)
	o.startOrStop(ctx)
}

func (o *Orchestrator) logDiff(prev, next map[string]domain.CrawlNeed) {
	fnames := make(map[string]struct{}, len(prev)+len(next))
	for f := range prev {
		fnames[f] = struct{}{}
	}
	for f := range next {
		fnames[f] = struct{}{}
	}
	names := make([]string, 0, len(fnames))
	for f := range fnames {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, f := range names {
		old, hadOld := prev[f]
		cur, hasCur := next[f]
		switch {
		case !hadOld && hasCur:
			o.logger.Info(fmt.Sprintf("+ %s%s", f, cur.String()))
		case hadOld && !hasCur:
			o.logger.Info(fmt.Sprintf("- %s%s", f, old.String()))
		case hadOld && hasCur && old != cur:
			gained := cur.Sub(old)
			lost := old.Sub(cur)
			if !gained.Empty() {
				o.logger.Info(fmt.Sprintf("+ %s%s", f, gained.String()))
			}
			if !lost.Empty() {
				o.logger.Info(fmt.Sprintf("- %s%s", f, lost.String()))
			}
		}
	}
}

// startOrStop starts the crawl task if needs is non-empty and the
// controller is running but no task is active, and cancels it if needs
// is empty or the controller has stopped.
func (o *Orchestrator) startOrStop(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	empty := len(o.needs) == 0
	shouldRun := !empty && o.running()

	if shouldRun && o.cancel == nil {
		taskCtx, cancel := context.WithCancel(ctx)
		o.cancel = cancel
		o.done = make(chan struct{})
		go o.loop(taskCtx, o.done)
		return
	}
	if !shouldRun && o.cancel != nil {
		o.cancel()
		o.cancel = nil
		o.done = nil
	}
}

// Restart cancels and relaunches the crawl task so a scan-config change
// takes effect immediately.
func (o *Orchestrator) Restart(ctx context.Context) {
	o.mu.Lock()
	hadTask := o.cancel != nil
	if hadTask {
		o.cancel()
		o.cancel = nil
		o.done = nil
	}
	o.mu.Unlock()

	if hadTask {
		o.startOrStop(ctx)
	}
}

// Stop cancels the running task, if any, and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// loop is the infinite crawl loop: one pass over
// the entire need set, then sleep loop_cd before the next. Any error from
// one forum's pass is logged; the loop continues with the next forum and,
// eventually, the next pass.
func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		o.mu.Lock()
		needs := make(map[string]domain.CrawlNeed, len(o.needs))
		for f, n := range o.needs {
			needs[f] = n
		}
		o.mu.Unlock()

		fnames := make([]string, 0, len(needs))
		for f := range needs {
			fnames = append(fnames, f)
		}
		sort.Strings(fnames)

		passID := uuid.NewString()
		for _, fname := range fnames {
			if ctx.Err() != nil {
				return
			}
			passStart := time.Now()
			err := o.spider.Crawl(ctx, fname, needs[fname], o.visit)
			metrics.Default().Business().CrawlPassDurationSeconds.WithLabelValues(fname).Observe(time.Since(passStart).Seconds())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Error("crawl pass failed", "pass_id", passID, "fname", fname, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.loopCD()):
		}
	}
}

// visit persists one yielded Content and broadcasts it. Persistence failures are logged but do not abort the
// pass — the content was already classified, so a dropped persist only
// costs a re-observation on the next pass.
func (o *Orchestrator) visit(ctx context.Context, content domain.Content) error {
	if err := o.persister.SaveContent(ctx, content); err != nil {
		o.logger.Error("save content failed", "pid", content.Pid, "error", err)
	}
	if content.User.UserID != 0 {
		if err := o.persister.SaveUser(ctx, content.User); err != nil {
			o.logger.Error("save user failed", "user_id", content.User.UserID, "error", err)
		}
		if err := o.persister.SaveUserLevel(ctx, domain.UserLevelRecord{UserID: content.User.UserID, Fname: content.Fname, Level: content.User.Level}); err != nil {
			o.logger.Error("save user level failed", "user_id", content.User.UserID, "error", err)
		}
	}
	metrics.Default().Business().ContentsCrawledTotal.WithLabelValues(content.Fname, string(content.Type)).Inc()
	o.publisher.Broadcast(ctx, content)
	return nil
}
