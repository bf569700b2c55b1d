// Package metrics exposes this service's prometheus instrumentation:
// matrix-build progress, detection counts by severity, and localization
// score distribution, alongside the HTTP metrics already wired through
// pkg/api/middleware/metrics.go.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/watershedlabs/leaksense/pkg/api/middleware"
)

var _ middleware.MetricsRecorder = (*Registry)(nil)

// Registry holds every metric this service emits.
type Registry struct {
	MatrixBuildProgress  *prometheus.GaugeVec
	MatrixBuildsTotal    *prometheus.CounterVec
	MatrixEntriesTotal   *prometheus.GaugeVec
	SensorReadingsTotal  *prometheus.CounterVec
	DetectionsTotal      *prometheus.CounterVec
	LocalizationScore    prometheus.Histogram
	LocalizationFailures prometheus.Counter
	SimulationDuration   *prometheus.HistogramVec

	// HTTP metrics, satisfying pkg/api/middleware.MetricsRecorder.
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	HTTPResponseSizeBytes  *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry builds a fresh registry, used directly in tests to avoid
// colliding with the process-wide default.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.MatrixBuildProgress = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leaksense_matrix_build_progress_percent",
			Help: "Percent complete of the in-progress sensitivity matrix build, by network",
		},
		[]string{"network_id"},
	)
	r.MatrixBuildsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaksense_matrix_builds_total",
			Help: "Total number of sensitivity matrix builds, by network and outcome",
		},
		[]string{"network_id", "status"},
	)
	r.MatrixEntriesTotal = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leaksense_matrix_entries_total",
			Help: "Number of sensitivity matrix entries currently stored, by network",
		},
		[]string{"network_id"},
	)
	r.SensorReadingsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaksense_sensor_readings_total",
			Help: "Total number of sensor readings ingested, by network",
		},
		[]string{"network_id"},
	)
	r.DetectionsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaksense_detections_total",
			Help: "Total number of leak detections persisted, by network and severity",
		},
		[]string{"network_id", "severity"},
	)
	r.LocalizationScore = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leaksense_localization_score",
			Help:    "Winning candidate score for successful localizations",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	r.LocalizationFailures = promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Name: "leaksense_localization_failures_total",
			Help: "Total number of localization attempts that ended undetermined",
		},
	)
	r.SimulationDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaksense_simulation_duration_seconds",
			Help:    "Duration of a single baseline or with_leak simulator call",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"operation"},
	)

	r.HTTPRequestsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaksense_http_requests_total",
			Help: "Total number of HTTP requests, by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
	r.HTTPRequestDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaksense_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"method", "path", "status"},
	)
	r.HTTPRequestsInFlight = promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "leaksense_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	r.HTTPResponseSizeBytes = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaksense_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "path"},
	)

	return r
}

// PrometheusRegistry returns the underlying registry for HTTP exposition.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}
