package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// routerMetrics holds the counters owned by a Router.
type routerMetrics struct {
	// attempts counts provider calls by role and outcome: "success",
	// "timeout", "auth", "content", "degenerate", "canceled" or "error".
	attempts *prometheus.CounterVec
	// fallbacks counts requests that moved on to the fallback provider.
	fallbacks prometheus.Counter
}

// newRouterMetrics creates the counters on reg. A nil reg leaves them
// unregistered.
func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	factory := promauto.With(reg)

	return &routerMetrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secai",
			Subsystem: "router",
			Name:      "attempts_total",
			Help:      "Provider attempts, partitioned by router role and outcome.",
		}, []string{"role", "outcome"}),

		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secai",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Requests that fell back to the secondary provider.",
		}),
	}
}
