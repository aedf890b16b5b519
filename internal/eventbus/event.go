// Package eventbus implements the typed pub/sub primitive and the
// top-level Controller: AsyncEvent[T] listeners
// register with On and unregister via the returned Listener; Broadcast
// invokes every listener concurrently and never lets one listener's panic
// or error abort delivery to the others.
//
// Broadcast fans out with one goroutine per listener and a WaitGroup,
// snapshotting the listener list before releasing the lock. There is no
// intermediate queue: Broadcast is synchronous from the caller's
// perspective and returns once every listener has.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tieba-mod/moderator/pkg/metrics"
)

// Listener is the handle returned by AsyncEvent.On; UnRegister removes
// the callback. Safe to call more than once.
type Listener struct {
	unregister func()
	once       sync.Once
}

// UnRegister removes the listener from its event. Idempotent.
func (l *Listener) UnRegister() {
	l.once.Do(l.unregister)
}

// AsyncEvent is a typed broadcast channel. The zero value
// is not usable; construct with NewAsyncEvent.
type AsyncEvent[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(context.Context, T) error
	nextID    uint64
	logger    *slog.Logger
	name      string
}

// NewAsyncEvent builds an AsyncEvent. name is used only in log lines.
func NewAsyncEvent[T any](name string, logger *slog.Logger) *AsyncEvent[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncEvent[T]{
		listeners: make(map[uint64]func(context.Context, T) error),
		logger:    logger.With("event", name),
		name:      name,
	}
}

// On registers fn as a listener and returns a handle to unregister it
// later.
func (e *AsyncEvent[T]) On(fn func(context.Context, T) error) *Listener {
	id := atomic.AddUint64(&e.nextID, 1)

	e.mu.Lock()
	e.listeners[id] = fn
	e.mu.Unlock()
	metrics.Default().Technical().BusListenersActive.WithLabelValues(e.name).Inc()

	return &Listener{unregister: func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
		metrics.Default().Technical().BusListenersActive.WithLabelValues(e.name).Dec()
	}}
}

// ListenerCount reports the current number of registered listeners.
func (e *AsyncEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Broadcast invokes every registered listener concurrently with payload
// and waits for all of them to return. A listener that panics or returns an error is
// logged; neither aborts delivery to the other listeners.
func (e *AsyncEvent[T]) Broadcast(ctx context.Context, payload T) {
	e.mu.RLock()
	fns := make([]func(context.Context, T) error, 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	metrics.Default().Technical().BusBroadcastsTotal.WithLabelValues(e.name).Inc()
	if len(fns) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		go func(fn func(context.Context, T) error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("listener panicked", "panic", r)
					metrics.Default().Technical().BusListenerErrorsTotal.WithLabelValues(e.name).Inc()
				}
			}()
			if err := fn(ctx, payload); err != nil {
				e.logger.Warn("listener returned error", "error", err)
				metrics.Default().Technical().BusListenerErrorsTotal.WithLabelValues(e.name).Inc()
			}
		}(fn)
	}
	wg.Wait()
}
