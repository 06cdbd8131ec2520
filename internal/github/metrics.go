package github

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for hosting API calls.
type Metrics struct {
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the API metrics once per process.
//
// Metrics:
//   - pagesmith_github_api_calls_total{operation,status} - every attempt, including retries
//   - pagesmith_github_api_call_duration_seconds{operation} - attempt latency
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			CallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagesmith_github_api_calls_total",
					Help: "Total number of GitHub API call attempts",
				},
				[]string{"operation", "status"},
			),
			CallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pagesmith_github_api_call_duration_seconds",
					Help:    "Duration of GitHub API call attempts in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(operation, status).Inc()
	m.CallDuration.WithLabelValues(operation).Observe(d.Seconds())
}
