// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records into. Each instance owns
// its registry, so tests can build isolated sets without global registration
// conflicts.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec
	ItemsIngested    *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  prometheus.Counter

	registry *prometheus.Registry
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_pipeline_runs_total",
			Help: "Pipeline invocations by task and outcome (completed, skipped_gate, skipped_fresh, failed)",
		}, []string{"task", "status"}),
		ItemsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_pipeline_items_total",
			Help: "Content items stored per task",
		}, []string{"task"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketpulse_pipeline_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"task"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_http_requests_total",
			Help: "HTTP requests by method, route, and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketpulse_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "path"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		registry: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPipelineRun records one pipeline invocation.
func (m *Metrics) RecordPipelineRun(task, status string, items int, duration time.Duration) {
	m.PipelineRuns.WithLabelValues(task, status).Inc()
	if items > 0 {
		m.ItemsIngested.WithLabelValues(task).Add(float64(items))
	}
	m.PipelineDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited records one throttled request.
func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}
