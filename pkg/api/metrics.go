package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

// Metrics holds the Prometheus collectors of one server instance.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Obfuscation metrics
	obfuscationsTotal *prometheus.CounterVec
	engineDuration    *prometheus.HistogramVec
	rejectionsTotal   *prometheus.CounterVec
	sourceBytes       *prometheus.HistogramVec

	// Artifact metrics
	artifactsActive prometheus.Gauge
	artifactsTotal  prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set registered on its own registry, so several
// servers can live in one process.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obfuscator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obfuscator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		obfuscationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obfuscator_engine_invocations_total",
				Help: "Total number of engine invocations by preset and outcome",
			},
			[]string{"preset", "outcome"},
		),

		engineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obfuscator_engine_duration_seconds",
				Help:    "Engine invocation latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"preset"},
		),

		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obfuscator_request_failures_total",
				Help: "Total number of failed requests by reason",
			},
			[]string{"reason"},
		),

		sourceBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obfuscator_source_bytes",
				Help:    "Size of accepted source submissions in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 8),
			},
			[]string{"source"},
		),

		artifactsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "obfuscator_artifacts_active",
				Help: "Number of temporary artifacts currently on disk",
			},
		),

		artifactsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "obfuscator_artifacts_created_total",
				Help: "Total number of temporary artifacts created",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.obfuscationsTotal,
		m.engineDuration,
		m.rejectionsTotal,
		m.sourceBytes,
		m.artifactsActive,
		m.artifactsTotal,
	)

	return m
}

// ObserveEngine records one engine invocation.
func (m *Metrics) ObserveEngine(p preset.Preset, outcome string, duration time.Duration) {
	m.obfuscationsTotal.WithLabelValues(string(p), outcome).Inc()
	m.engineDuration.WithLabelValues(string(p)).Observe(duration.Seconds())
}

// ArtifactAcquired records a temporary file being created.
func (m *Metrics) ArtifactAcquired() {
	m.artifactsTotal.Inc()
	m.artifactsActive.Inc()
}

// ArtifactReleased records a temporary file being removed.
func (m *Metrics) ArtifactReleased() {
	m.artifactsActive.Dec()
}

// RecordFailure records a failed request.
func (m *Metrics) RecordFailure(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordSource records the size of an accepted submission.
func (m *Metrics) RecordSource(source string, size int) {
	m.sourceBytes.WithLabelValues(source).Observe(float64(size))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(metricsPath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path, metricsPath), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// endpointName normalises the path so label cardinality stays fixed.
func endpointName(path, metricsPath string) string {
	switch path {
	case "/health":
		return "health"
	case "/presets":
		return "presets"
	case "/obfuscate":
		return "obfuscate"
	case "/obfuscate-text":
		return "obfuscate_text"
	case metricsPath:
		return "metrics"
	default:
		return "unknown"
	}
}
