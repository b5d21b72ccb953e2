package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for Web API exchanges. It is safe for
// concurrent use.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrm_webapi_requests_total",
				Help: "Total number of Web API requests completed",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xrm_webapi_request_duration_seconds",
				Help:    "Duration of Web API requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrm_webapi_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrm_webapi_transport_errors_total",
				Help: "Total number of requests that produced no response",
			},
			[]string{"method"},
		),
	}
}

// RecordRequest records a completed exchange
func (m *Metrics) RecordRequest(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, status).Inc()
	m.requestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt
func (m *Metrics) RecordRetry(method string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(method).Inc()
}

// RecordError records an exchange that failed without a response
func (m *Metrics) RecordError(method string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(method).Inc()
}
