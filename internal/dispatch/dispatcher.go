package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/eventbus"
	"github.com/tieba-mod/moderator/internal/rule"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

// ConfirmStore is the subset of confirm.Store a Dispatcher needs.
type ConfirmStore interface {
	Set(pid int64, data domain.ConfirmData)
	Get(pid int64) (domain.ConfirmData, bool)
	Delete(pid int64) bool
}

// Dispatcher is the per-user worker: it subscribes to
// DispatchContent, runs the user's Processer, and executes or confirms
// the matched rule's operations.
type Dispatcher struct {
	Username         string
	processer        *rule.Processer
	executor         *Executor
	confirmStore     ConfirmStore
	operationRegistry *rule.OperationRegistry
	mandatoryConfirm bool
	logger           *slog.Logger

	listener *eventbus.Listener
}

// New builds a Dispatcher. mandatoryConfirm mirrors
// user.process.mandatory_confirm.
func New(processer *rule.Processer, executor *Executor, confirmStore ConfirmStore, operationRegistry *rule.OperationRegistry, mandatoryConfirm bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		processer:         processer,
		executor:          executor,
		confirmStore:      confirmStore,
		operationRegistry: operationRegistry,
		mandatoryConfirm:  mandatoryConfirm,
		Username:          processer.Username,
		logger:            logger.With("component", "dispatcher", "user", processer.Username),
	}
}

// Subscribe registers the dispatcher against bus.
func (d *Dispatcher) Subscribe(bus *eventbus.AsyncEvent[domain.Content]) {
	d.listener = bus.On(func(ctx context.Context, content domain.Content) error {
		d.Handle(ctx, &content)
		return nil
	})
}

// Stop unregisters the dispatcher's listener.
func (d *Dispatcher) Stop() {
	if d.listener != nil {
		d.listener.UnRegister()
	}
}

// Handle runs one Content through the user's Processer and, on a match,
// executes or confirms its operations.
func (d *Dispatcher) Handle(ctx context.Context, content *domain.Content) {
	matched, err := d.processer.Process(ctx, content)
	if err != nil {
		d.logger.Error("process failed", "pid", content.Pid, "error", err)
		metrics.Default().Business().ContentsProcessedTotal.WithLabelValues(d.Username, "error").Inc()
		return
	}
	if matched == nil {
		metrics.Default().Business().ContentsProcessedTotal.WithLabelValues(d.Username, "no_match").Inc()
		return
	}
	metrics.Default().Business().ContentsProcessedTotal.WithLabelValues(d.Username, "matched").Inc()
	metrics.Default().Business().RuleMatchesTotal.WithLabelValues(d.Username, "blacklist").Inc()

	if d.mandatoryConfirm || matched.ManualConfirm {
		d.executor.Run(ctx, matched.Operations.DirectOperations(), content, nil)
		d.enqueueConfirm(ctx, content, matched)
		return
	}
	d.executor.Run(ctx, matched.Operations, content, nil)
}

// enqueueConfirm snapshots store_data facts for every non-direct
// operation and enqueues a ConfirmData keyed by content.Pid.
func (d *Dispatcher) enqueueConfirm(ctx context.Context, content *domain.Content, matched *rule.Rule) {
	remainder := matched.Operations.NoDirectOperations()
	if remainder == nil {
		return
	}

	data := make(map[string]any)
	if !remainder.IsToken() {
		for _, op := range remainder.Operations {
			if op.StoreData == nil {
				continue
			}
			if err := op.StoreData(ctx, d.executor.resolver, content, data); err != nil {
				d.logger.Warn("store_data hook failed", "type", op.Type, "pid", content.Pid, "error", err)
			}
		}
	}

	d.confirmStore.Set(content.Pid, domain.ConfirmData{
		Content:         *content,
		Data:            data,
		OperationsToken: remainder.Token,
		OperationsList:  remainder.Serialize(),
		ProcessTime:     time.Now(),
		RuleName:        matched.Name,
	})
	metrics.Default().Business().ConfirmEnqueuedTotal.WithLabelValues(d.Username).Inc()
}

// OperateConfirm resolves a pending confirmation: ignore deletes the
// entry; execute deserializes the stored operations and runs them,
// deleting the entry once they have run, whatever their outcome. If the
// operations need moderator rights and the client is not authenticated,
// execute returns ErrInvalidClient before running anything and the entry
// stays in the store.
func (d *Dispatcher) OperateConfirm(ctx context.Context, pid int64, action domain.ConfirmAction) error {
	switch action {
	case domain.ConfirmIgnore:
		if !d.confirmStore.Delete(pid) {
			return domain.ErrConfirmNotFound
		}
		metrics.Default().Business().ConfirmResolvedTotal.WithLabelValues(d.Username, "ignore").Inc()
		return nil
	case domain.ConfirmExecute:
		data, ok := d.confirmStore.Get(pid)
		if !ok {
			return domain.ErrConfirmNotFound
		}
		group, err := rule.DeserializeOperationGroup(d.operationRegistry, data.OperationsToken, data.OperationsList)
		if err != nil {
			d.confirmStore.Delete(pid)
			return fmt.Errorf("deserialize confirmed operations: %w", err)
		}
		if groupNeedsBawu(group) && !d.executor.client.Authenticated() {
			return domain.ErrInvalidClient
		}
		defer d.confirmStore.Delete(pid)

		content := data.Content
		d.executor.Run(ctx, group, &content, data.Data)
		metrics.Default().Business().ConfirmResolvedTotal.WithLabelValues(d.Username, "execute").Inc()
		return nil
	default:
		return domain.ErrUnknownAction
	}
}

func groupNeedsBawu(group *rule.OperationGroup) bool {
	if group == nil {
		return false
	}
	if group.IsToken() {
		return group.Token != domain.OpIgnore
	}
	for _, op := range group.Operations {
		if op.NeedBawu {
			return true
		}
	}
	return false
}
