package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics. Feature-specific metrics
// live next to their feature (see internal/prompt/metrics).
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates and registers all platform metrics.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promptvault_http_requests_total",
			Help: "Total HTTP requests served, by route and status",
		}, []string{"route", "status"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptvault_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
