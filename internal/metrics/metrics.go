package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for testpilot
type Metrics struct {
	// Upstream API metrics
	UpstreamRequests *prometheus.CounterVec

	// Generation metrics
	SummariesGenerated *prometheus.CounterVec
	TestsRendered      *prometheus.CounterVec

	// Workflow metrics
	WorkflowRuns     *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	FileWrites       *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			UpstreamRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_upstream_requests_total",
					Help: "Total number of upstream API requests",
				},
				[]string{"operation", "status"},
			),

			SummariesGenerated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_summaries_generated_total",
					Help: "Total number of test summaries produced by the analyzer",
				},
				[]string{"family"},
			),
			TestsRendered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_tests_rendered_total",
					Help: "Total number of rendered test files",
				},
				[]string{"kind"},
			),

			WorkflowRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_workflow_runs_total",
					Help: "Total number of pull request workflow runs",
				},
				[]string{"result"},
			),
			WorkflowDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "testpilot_workflow_duration_seconds",
					Help:    "Pull request workflow duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
				},
				[]string{"result"},
			),
			FileWrites: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_file_writes_total",
					Help: "Total number of generated file writes",
				},
				[]string{"result"},
			),

			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "testpilot_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "testpilot_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpstreamRequest records one upstream API call. status is the HTTP
// status, or 0 when the request never got a response.
func (m *Metrics) RecordUpstreamRequest(operation string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(operation, label).Inc()
}

// RecordSummaries records summaries produced for one analyzer family
func (m *Metrics) RecordSummaries(family string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SummariesGenerated.WithLabelValues(family).Add(float64(n))
}

// RecordRender records one rendered test
func (m *Metrics) RecordRender(kind string) {
	if m == nil {
		return
	}
	m.TestsRendered.WithLabelValues(kind).Inc()
}

// RecordWorkflow records a finished workflow run
func (m *Metrics) RecordWorkflow(result string, seconds float64) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(result).Inc()
	m.WorkflowDuration.WithLabelValues(result).Observe(seconds)
}

// RecordFileWrite records the outcome of one generated file write
func (m *Metrics) RecordFileWrite(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.FileWrites.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
