package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InfraMetrics tracks low-level resources: database round trips and the
// in-process read caches in front of them.
//
// Naming: tieba_mod_infra_<subsystem>_<metric_name>_<unit>.
type InfraMetrics struct {
	DB    *DatabaseMetrics
	Cache *CacheMetrics
}

// NewInfraMetrics creates and registers all infrastructure metrics against reg.
func NewInfraMetrics(namespace string, reg prometheus.Registerer) *InfraMetrics {
	return &InfraMetrics{
		DB:    NewDatabaseMetrics(namespace, reg),
		Cache: NewCacheMetrics(namespace, reg),
	}
}

// DatabaseMetrics tracks storage-layer round trips.
type DatabaseMetrics struct {
	QueriesTotal         *prometheus.CounterVec // queries by operation and outcome
	QueryDurationSeconds *prometheus.HistogramVec
}

// NewDatabaseMetrics creates and registers database metrics against reg.
func NewDatabaseMetrics(namespace string, reg prometheus.Registerer) *DatabaseMetrics {
	factory := promauto.With(reg)

	return &DatabaseMetrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_db",
				Name:      "queries_total",
				Help:      "Storage operations by name and outcome",
			},
			[]string{"operation", "outcome"}, // outcome: success|error
		),
		QueryDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "infra_db",
				Name:      "query_duration_seconds",
				Help:      "Storage operation duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
	}
}

// CacheMetrics tracks in-process read caches (classifier read cache,
// user-info lookup cache).
type CacheMetrics struct {
	HitsTotal   *prometheus.CounterVec
	MissesTotal *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics against reg.
func NewCacheMetrics(namespace string, reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)

	return &CacheMetrics{
		HitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_cache",
				Name:      "hits_total",
				Help:      "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		MissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_cache",
				Name:      "misses_total",
				Help:      "Cache misses by cache name",
			},
			[]string{"cache"},
		),
	}
}
