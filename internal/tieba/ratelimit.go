// Package tieba implements the upstream forum API surface:
// the authenticated moderator client, the raw "browser" HTTP client
// used for paginated thread-detail fetches, and the EtaSleep rate-limit
// gate shared by every outbound request a Spider makes.
//
// EtaSleep is hand-rolled rather than built on golang.org/x/time/rate:
// rate.Limiter is a token bucket that allows bursts up to its burst size,
// while crawling needs a single exclusive gate that sleeps until
// monotonic_now >= last_release + cd and stamps last_release on exit —
// every request fully serialized, never bursted. internal/resilience
// covers the retry/backoff side of the same upstream calls this gate
// paces.
package tieba

import (
	"context"
	"sync"
	"time"
)

// EtaSleep is the per-spider rate-limit gate:
// every outbound upstream request acquires it, which sleeps until at least
// cd has elapsed since the last release, then on release stamps the new
// last-release time. A single EtaSleep instance is shared by every
// request a Spider issues; only one caller may hold an acquisition at a
// time.
type EtaSleep struct {
	mu          sync.Mutex
	cd          time.Duration
	lastRelease time.Time
	now         func() time.Time
}

// NewEtaSleep builds a gate with cool-down cd.
func NewEtaSleep(cd time.Duration) *EtaSleep {
	return &EtaSleep{cd: cd, now: time.Now}
}

// SetCooldown atomically replaces the gate's cool-down, used when
// scan.query_cd changes.
func (e *EtaSleep) SetCooldown(cd time.Duration) {
	e.mu.Lock()
	e.cd = cd
	e.mu.Unlock()
}

// Acquire blocks the caller (honoring ctx cancellation) until the
// cool-down since the previous release has elapsed, then holds the gate
// until the returned release func is called. The gate is held for the
// full duration of the caller's request so that concurrent callers are
// fully serialized.
func (e *EtaSleep) Acquire(ctx context.Context) (release func(), err error) {
	e.mu.Lock()
	wait := time.Until(e.lastRelease.Add(e.cd))
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.mu.Unlock()
			return func() {}, ctx.Err()
		}
	}
	return func() {
		e.lastRelease = e.now()
		e.mu.Unlock()
	}, nil
}
