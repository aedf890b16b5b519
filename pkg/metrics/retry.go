package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks retry behavior around upstream calls.
//
// Labels:
//   - operation: the call being retried ("get_threads", "get_posts", "get_comments")
//   - outcome: "success", "failure", "cancelled"
//   - error_type: what triggered the retry ("timeout", "network", "rate_limit", ...)
type RetryMetrics struct {
	// AttemptsTotal counts individual attempts by operation and outcome.
	AttemptsTotal *prometheus.CounterVec

	// AttemptDurationSeconds tracks the duration of individual attempts.
	AttemptDurationSeconds *prometheus.HistogramVec

	// BackoffSeconds tracks the backoff delays slept between attempts.
	BackoffSeconds *prometheus.HistogramVec

	// FinalAttemptsTotal tracks how many tries an operation took before
	// its final success or failure.
	FinalAttemptsTotal *prometheus.HistogramVec
}

// NewRetryMetrics creates and registers retry metrics against reg.
func NewRetryMetrics(namespace string, reg prometheus.Registerer) *RetryMetrics {
	factory := promauto.With(reg)

	return &RetryMetrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "technical_retry",
				Name:      "attempts_total",
				Help:      "Retry attempts by operation, outcome and error type",
			},
			[]string{"operation", "outcome", "error_type"},
		),
		AttemptDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "technical_retry",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of individual upstream attempts",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "outcome"},
		),
		BackoffSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "technical_retry",
				Name:      "backoff_seconds",
				Help:      "Backoff delays between retry attempts",
				Buckets:   []float64{0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		FinalAttemptsTotal: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "technical_retry",
				Name:      "final_attempts",
				Help:      "Attempts consumed before an operation's final outcome",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"operation", "outcome"},
		),
	}
}

// RecordAttempt records one attempt's outcome and duration.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.AttemptDurationSeconds.WithLabelValues(operation, outcome).Observe(durationSeconds)
}

// RecordBackoff records a backoff delay slept before the next attempt.
func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	m.BackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

// RecordFinalAttempt records how many attempts an operation consumed
// before its final outcome.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}
