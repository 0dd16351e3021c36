package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	QuotaIncrements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_increments_total",
			Help: "Usage increments by whether the caller was still within quota.",
		},
		[]string{"allowed"},
	)
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit log entries that could not be persisted.",
		},
	)
	BulkLimitUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_limit_updates_total",
			Help: "Per-user outcomes of bulk daily limit updates.",
		},
		[]string{"outcome"},
	)
)

func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestCount, RequestDuration, QuotaIncrements, AuditWriteFailures, BulkLimitUpdates)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
