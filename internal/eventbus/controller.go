package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tieba-mod/moderator/internal/domain"
)

// SystemConfigChange carries the before/after pair broadcast when the
// global config is replaced. ChangeID correlates the log
// lines every listener emits while reacting to one replacement.
type SystemConfigChange struct {
	ChangeID string
	Old      domain.SystemConfig
	New      domain.SystemConfig
}

// ConfigPersister durably stores the system config update_config applies.
type ConfigPersister interface {
	SaveSystemConfig(ctx context.Context, cfg domain.SystemConfig) error
}

// Controller owns the process-wide event buses and the running/config
// state every other component reacts to. Per-user buses
// (UserChange, UserConfigChange) are owned by the user manager, not here,
// since their registration lifetime is scoped to a user's worker rather
// than the process.
type Controller struct {
	Started             *AsyncEvent[struct{}]
	Stopped             *AsyncEvent[struct{}]
	DispatchContent     *AsyncEvent[domain.Content]
	SystemConfigChanged *AsyncEvent[SystemConfigChange]
	ClearCache          *AsyncEvent[struct{}]

	mu        sync.RWMutex
	running   bool
	cfg       domain.SystemConfig
	persister ConfigPersister
	logger    *slog.Logger
}

// NewController builds a Controller seeded with the initial system
// config. persister may be nil, in which case UpdateConfig only updates
// the in-memory value and broadcasts.
func NewController(cfg domain.SystemConfig, persister ConfigPersister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "controller")
	return &Controller{
		Started:             NewAsyncEvent[struct{}]("start", logger),
		Stopped:             NewAsyncEvent[struct{}]("stop", logger),
		DispatchContent:     NewAsyncEvent[domain.Content]("dispatch_content", logger),
		SystemConfigChanged: NewAsyncEvent[SystemConfigChange]("system_config_change", logger),
		ClearCache:          NewAsyncEvent[struct{}]("clear_cache", logger),
		cfg:                 cfg,
		persister:           persister,
		logger:              logger,
	}
}

// Running reports whether the controller has been started.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Config returns the current system config.
func (c *Controller) Config() domain.SystemConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Start flips running to true and broadcasts Started. Idempotent.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("controller starting")
	c.Started.Broadcast(ctx, struct{}{})
}

// Stop flips running to false and broadcasts Stopped. Idempotent.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.logger.Info("controller stopping")
	c.Stopped.Broadcast(ctx, struct{}{})
}

// UpdateConfig replaces the system config if it differs from the current
// one, persists it, and broadcasts SystemConfigChanged.
func (c *Controller) UpdateConfig(ctx context.Context, newCfg domain.SystemConfig) error {
	c.mu.Lock()
	old := c.cfg
	if old == newCfg {
		c.mu.Unlock()
		return nil
	}
	c.cfg = newCfg
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.SaveSystemConfig(ctx, newCfg); err != nil {
			return err
		}
	}

	changeID := uuid.NewString()
	c.logger.Info("system config changed", "change_id", changeID)
	c.SystemConfigChanged.Broadcast(ctx, SystemConfigChange{ChangeID: changeID, Old: old, New: newCfg})
	return nil
}
