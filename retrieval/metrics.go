package retrieval

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the retrieval engine.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ParentsUsed     prometheus.Histogram
}

// NewMetrics registers retrieval metrics once per process.
//
// Metrics:
//   - folio_retrieval_requests_total{outcome} - answered, no_knowledge, timeout, error
//   - folio_retrieval_duration_seconds
//   - folio_retrieval_parents - parent pages placed in each prompt
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "folio_retrieval_requests_total",
					Help: "Questions handled by the retrieval engine",
				},
				[]string{"outcome"},
			),
			RequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "folio_retrieval_duration_seconds",
				Help:    "End to end latency of a retrieval request",
				Buckets: prometheus.DefBuckets,
			}),
			ParentsUsed: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "folio_retrieval_parents",
				Help:    "Parent pages used as context per request",
				Buckets: prometheus.LinearBuckets(0, 1, 10),
			}),
		}
	})
	return globalMetrics
}
