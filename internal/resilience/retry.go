// Package resilience wraps flaky upstream calls with exponential
// backoff; the Spider applies it to every internal/tieba HTTP call
// before its own per-page skip-and-continue fallback.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/tieba-mod/moderator/pkg/metrics"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	ErrorChecker ErrorChecker
	Logger       *slog.Logger
	Metrics      *metrics.RetryMetrics

	// OperationName labels metrics ("get_threads", "get_posts", "get_comments").
	OperationName string
}

// ErrorChecker decides whether an error should trigger a retry attempt.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultPolicy is the Spider's retry policy for upstream tieba calls: a
// handful of fast retries, since a crawl pass already moves on to the next
// page/thread on persistent failure.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		ErrorChecker: &HTTPErrorChecker{
			RetryOn5xx: true,
			RetryOn429: true,
			RetryOn408: true,
		},
	}
}

// WithRetryFunc retries operation until it succeeds, the policy's checker
// calls the error non-retryable, or MaxRetries is exhausted. Context
// cancellation aborts immediately.
func WithRetryFunc[T any](ctx context.Context, policy *Policy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay
	start := time.Now()

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attemptStart := time.Now()
		result, err := operation()
		attemptDuration := time.Since(attemptStart).Seconds()

		if err == nil {
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "success", "none", attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "success", attempt+1)
			}
			return result, nil
		}

		lastResult, lastErr = result, err
		errType := classifyError(err)
		if policy.Metrics != nil {
			policy.Metrics.RecordAttempt(opName, "failure", errType, attemptDuration)
		}

		if !shouldRetry(err, policy.ErrorChecker) {
			return lastResult, lastErr
		}
		if attempt >= policy.MaxRetries {
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempt+1)
			}
			break
		}

		logger.Warn("upstream call failed, retrying", "operation", opName, "attempt", attempt+1, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}
		if !waitWithContext(ctx, delay) {
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attempt+1)
			}
			var zero T
			return zero, ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	_ = start
	return lastResult, fmt.Errorf("%s failed after %d attempts: %w", opName, policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker ErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
