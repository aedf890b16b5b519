package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TechnicalMetrics tracks system internals: upstream retry behavior and
// event-bus broadcast health.
//
// Naming: tieba_mod_technical_<subsystem>_<metric_name>_<unit>.
type TechnicalMetrics struct {
	// Retry subsystem - upstream call retry/backoff metrics.
	Retry *RetryMetrics

	// EventBus subsystem.
	BusBroadcastsTotal     *prometheus.CounterVec // broadcasts by event name
	BusListenerErrorsTotal *prometheus.CounterVec // listener errors/panics by event name
	BusListenersActive     *prometheus.GaugeVec   // registered listeners by event name
}

// NewTechnicalMetrics creates and registers all technical metrics against reg.
func NewTechnicalMetrics(namespace string, reg prometheus.Registerer) *TechnicalMetrics {
	factory := promauto.With(reg)

	return &TechnicalMetrics{
		Retry: NewRetryMetrics(namespace, reg),
		BusBroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "technical_bus",
				Name:      "broadcasts_total",
				Help:      "Event-bus broadcasts by event",
			},
			[]string{"event"},
		),
		BusListenerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "technical_bus",
				Name:      "listener_errors_total",
				Help:      "Event-bus listener errors and recovered panics",
			},
			[]string{"event"},
		),
		BusListenersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "technical_bus",
				Name:      "listeners_active",
				Help:      "Currently registered event-bus listeners",
			},
			[]string{"event"},
		),
	}
}
