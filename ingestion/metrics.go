package ingestion

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the dispatcher and workers.
type Metrics struct {
	NotificationsTotal *prometheus.CounterVec
	TasksPublished     prometheus.Counter
	PagesTotal         *prometheus.CounterVec
	PageDuration       prometheus.Histogram
	DocumentsCompleted prometheus.Counter
	DocumentsFailed    prometheus.Counter
}

// NewMetrics registers ingestion metrics once per process.
//
// Metrics:
//   - folio_notifications_total{outcome} - dispatched, duplicate, failed, rejected, retry
//   - folio_page_tasks_published_total
//   - folio_pages_total{outcome} - completed, skipped, failed, retry
//   - folio_page_duration_seconds
//   - folio_documents_completed_total
//   - folio_documents_failed_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			NotificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "folio_notifications_total",
					Help: "Upload notifications handled by the dispatcher",
				},
				[]string{"outcome"},
			),
			TasksPublished: promauto.NewCounter(prometheus.CounterOpts{
				Name: "folio_page_tasks_published_total",
				Help: "Page tasks published to the pages queue",
			}),
			PagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "folio_pages_total",
					Help: "Page tasks handled by workers",
				},
				[]string{"outcome"},
			),
			PageDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "folio_page_duration_seconds",
				Help:    "Time to extract, chunk, embed and store one page",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}),
			DocumentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "folio_documents_completed_total",
				Help: "Documents whose pages all completed",
			}),
			DocumentsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "folio_documents_failed_total",
				Help: "Documents that ended with at least one failed page",
			}),
		}
	})
	return globalMetrics
}
