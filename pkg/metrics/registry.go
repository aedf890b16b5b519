// Package metrics provides centralized Prometheus metrics for the
// moderation daemon.
//
// Metrics are organized in a three-level taxonomy:
//   - Business metrics: crawl output, rule matches, moderator operations,
//     pending confirmations
//   - Technical metrics: upstream retries, event-bus broadcast health
//   - Infrastructure metrics: database round trips, read-cache hit rates
//
// All metrics follow the naming convention:
// tieba_mod_<category>_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	reg := metrics.Default()
//	reg.Business().ContentsCrawledTotal.WithLabelValues("f1", "thread").Inc()
//	reg.Infra().Cache.HitsTotal.WithLabelValues("classifier").Inc()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace every metric in this package
// lives under.
const Namespace = "tieba_mod"

// MetricsRegistry is the central access point for all Prometheus metrics,
// organized by category.
type MetricsRegistry struct {
	business  *BusinessMetrics
	technical *TechnicalMetrics
	infra     *InfraMetrics
}

// NewMetricsRegistry creates a registry with every category initialized,
// registering all collectors against reg.
func NewMetricsRegistry(namespace string, reg prometheus.Registerer) *MetricsRegistry {
	return &MetricsRegistry{
		business:  NewBusinessMetrics(namespace, reg),
		technical: NewTechnicalMetrics(namespace, reg),
		infra:     NewInfraMetrics(namespace, reg),
	}
}

// Business returns the business-level metrics.
func (r *MetricsRegistry) Business() *BusinessMetrics { return r.business }

// Technical returns the technical-level metrics.
func (r *MetricsRegistry) Technical() *TechnicalMetrics { return r.technical }

// Infra returns the infrastructure-level metrics.
func (r *MetricsRegistry) Infra() *InfraMetrics { return r.infra }

var (
	defaultRegistry *MetricsRegistry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, registered against the
// global Prometheus default registerer. Collectors register exactly once
// regardless of how many callers ask.
func Default() *MetricsRegistry {
	defaultOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry(Namespace, prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}
