// Package dispatch implements the per-user dispatcher: on every
// DispatchContent broadcast it runs the user's Processer, then either
// executes the matched rule's operations immediately or snapshots and
// enqueues them into the user's Confirmation Store for manual review.
//
// Operations flagged direct run immediately even under manual confirm;
// the rest wait in the confirmation store for an execute/ignore
// decision.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/rule"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// ModeratorClient is the subset of tieba.Client an executor needs.
type ModeratorClient interface {
	Authenticated() bool
	Delete(ctx context.Context, content *domain.Content) (bool, error)
	Block(ctx context.Context, content *domain.Content, day int, reason string) (bool, error)
}

// AuthorResolver mirrors rule.AuthorResolver so this package doesn't need
// to import internal/tieba just for the interface shape.
type AuthorResolver = rule.AuthorResolver

// Executor runs an OperationGroup against a moderator client for one
// Content. logger is used for
// MissingAuth and per-operation failure logging, both of which are
// swallowed rather than propagated.
type Executor struct {
	client   ModeratorClient
	resolver AuthorResolver
	forum    domain.ForumConfig
	logger   *slog.Logger
}

// NewExecutor builds an Executor bound to one user's moderator client and
// forum config (block_day/block_reason defaults).
func NewExecutor(client ModeratorClient, resolver AuthorResolver, forum domain.ForumConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, resolver: resolver, forum: forum, logger: logger.With("component", "dispatch_executor")}
}

// Run executes every operation in group against content. data is the opaque snapshot taken at
// confirm-enqueue time, if this run originates from operate_confirm; it
// is nil for an immediate (non-confirm) run, in which case any
// StoreData-backed fact is resolved live instead.
func (e *Executor) Run(ctx context.Context, group *rule.OperationGroup, content *domain.Content, data map[string]any) {
	if group == nil {
		return
	}
	if group.IsToken() {
		e.runToken(ctx, group.Token, content)
		return
	}
	for _, op := range group.Operations {
		e.runOperation(ctx, op, content, data)
	}
}

func (e *Executor) runToken(ctx context.Context, token domain.OperationToken, content *domain.Content) {
	switch token {
	case domain.OpIgnore, "":
		return
	case domain.OpDelete:
		e.delete(ctx, content, false)
	case domain.OpBlock:
		e.block(ctx, content, 0, "")
	case domain.OpDeleteAndBlock:
		e.delete(ctx, content, false)
		e.block(ctx, content, 0, "")
	default:
		e.logger.Warn("unknown operation token", "token", token)
	}
}

func (e *Executor) runOperation(ctx context.Context, op *rule.Operation, content *domain.Content, data map[string]any) {
	if op.NeedBawu && !e.client.Authenticated() {
		e.logger.Warn("operation skipped: moderator client not authenticated", "type", op.Type, "pid", content.Pid, "error", domain.ErrMissingAuth)
		metrics.Default().Business().OperationsExecutedTotal.WithLabelValues(string(op.Type), "skipped").Inc()
		return
	}

	switch op.Type {
	case "delete", "author_delete":
		deleteThreadIfAuthor := optBool(op.Options, "delete_thread_if_author") || op.Type == "author_delete"
		e.delete(ctx, content, deleteThreadIfAuthor && e.isThreadAuthor(ctx, content, data))
	case "block":
		day, reason := e.forum.BlockDay, e.forum.BlockReason
		if v, ok := op.Options["day"].(float64); ok {
			day = int(v)
		}
		if v, ok := op.Options["reason"].(string); ok && v != "" {
			reason = v
		}
		e.block(ctx, content, day, reason)
	default:
		e.logger.Warn("unknown operation type", "type", op.Type)
	}
}

// isThreadAuthor reads a pre-snapshotted fact if present (confirm-execute
// path), otherwise resolves it live (immediate-execute path).
func (e *Executor) isThreadAuthor(ctx context.Context, content *domain.Content, data map[string]any) bool {
	if content.IsThread() {
		return false // delete already targets the thread; no escalation needed
	}
	if data != nil {
		if v, ok := data["is_thread_author"].(bool); ok {
			return v
		}
	}
	if e.resolver == nil {
		return false
	}
	isAuthor, err := e.resolver.IsThreadAuthor(ctx, content)
	if err != nil {
		e.logger.Warn("is_thread_author lookup failed", "pid", content.Pid, "error", err)
		return false
	}
	return isAuthor
}

func (e *Executor) delete(ctx context.Context, content *domain.Content, deleteThreadIfAuthor bool) {
	target := content
	if deleteThreadIfAuthor && !content.IsThread() {
		thread := *content
		thread.Type = domain.ContentThread
		thread.Pid = content.Tid
		target = &thread
	}
	if _, err := e.client.Delete(ctx, target); err != nil {
		e.logger.Warn("delete failed", "pid", target.Pid, "error", err)
		metrics.Default().Business().OperationsExecutedTotal.WithLabelValues("delete", "failure").Inc()
		return
	}
	metrics.Default().Business().OperationsExecutedTotal.WithLabelValues("delete", "success").Inc()
}

func (e *Executor) block(ctx context.Context, content *domain.Content, day int, reason string) {
	if day == 0 {
		day = e.forum.BlockDay
	}
	if reason == "" {
		reason = e.forum.BlockReason
	}
	if _, err := e.client.Block(ctx, content, day, reason); err != nil {
		e.logger.Warn("block failed", "pid", content.Pid, "user_id", content.User.UserID, "error", err)
		metrics.Default().Business().OperationsExecutedTotal.WithLabelValues("block", "failure").Inc()
		return
	}
	metrics.Default().Business().OperationsExecutedTotal.WithLabelValues("block", "success").Inc()
}

func optBool(options map[string]any, key string) bool {
	v, _ := options[key].(bool)
	return v
}
