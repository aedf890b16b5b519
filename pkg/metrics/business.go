package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics tracks the moderation pipeline's domain-level output:
// what the crawler yields, how the per-user rule engines decide, which
// moderator operations run, and how many confirmations are pending.
//
// Naming: tieba_mod_business_<subsystem>_<metric_name>_<unit>.
type BusinessMetrics struct {
	// Crawl subsystem.
	ContentsCrawledTotal    *prometheus.CounterVec // yielded contents by forum and layer
	ClassifierResultsTotal  *prometheus.CounterVec // classifier outcomes by layer and status
	CrawlPassDurationSeconds *prometheus.HistogramVec

	// Rules subsystem.
	ContentsProcessedTotal *prometheus.CounterVec // per-user processing outcomes
	RuleMatchesTotal       *prometheus.CounterVec // matched rules by user and kind

	// Operations subsystem.
	OperationsExecutedTotal *prometheus.CounterVec // moderator actions by type and outcome

	// Confirm subsystem.
	ConfirmEnqueuedTotal *prometheus.CounterVec // pending confirmations created
	ConfirmResolvedTotal *prometheus.CounterVec // confirmations executed/ignored
	ConfirmExpiredTotal  *prometheus.CounterVec // confirmations dropped by TTL sweep
}

// NewBusinessMetrics creates and registers all business metrics against reg.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	factory := promauto.With(reg)

	return &BusinessMetrics{
		ContentsCrawledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "contents_total",
				Help:      "Total contents yielded by crawl passes",
			},
			[]string{"fname", "type"}, // type: thread|post|comment
		),
		ClassifierResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "classifier_results_total",
				Help:      "Content-update classifier outcomes",
			},
			[]string{"type", "status"}, // status: new|new_with_child|updated|unchanged
		),
		CrawlPassDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "pass_duration_seconds",
				Help:      "Duration of one crawl pass over one forum",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"fname"},
		),
		ContentsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_rules",
				Name:      "contents_processed_total",
				Help:      "Per-user rule-engine outcomes for dispatched contents",
			},
			[]string{"user", "outcome"}, // outcome: matched|whitelisted|no_match|filtered|error
		),
		RuleMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_rules",
				Name:      "matches_total",
				Help:      "Rules matched against dispatched contents",
			},
			[]string{"user", "kind"}, // kind: whitelist|blacklist
		),
		OperationsExecutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_operations",
				Name:      "executed_total",
				Help:      "Moderator operations executed",
			},
			[]string{"type", "outcome"}, // outcome: success|failure|skipped
		),
		ConfirmEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_confirm",
				Name:      "enqueued_total",
				Help:      "Pending manual confirmations enqueued",
			},
			[]string{"user"},
		),
		ConfirmResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_confirm",
				Name:      "resolved_total",
				Help:      "Pending confirmations resolved by a human decision",
			},
			[]string{"user", "action"}, // action: execute|ignore
		),
		ConfirmExpiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_confirm",
				Name:      "expired_total",
				Help:      "Pending confirmations dropped by the TTL sweep",
			},
			[]string{"user"},
		),
	}
}
