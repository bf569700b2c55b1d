package metrics

import (
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
)

// RecordMatrixProgress updates the live progress gauge for a network's
// in-progress build.
func (r *Registry) RecordMatrixProgress(networkID string, percent int) {
	r.MatrixBuildProgress.WithLabelValues(networkID).Set(float64(percent))
}

// RecordMatrixBuildComplete records a finished build's outcome and final
// entry count.
func (r *Registry) RecordMatrixBuildComplete(networkID, status string, entryCount int) {
	r.MatrixBuildsTotal.WithLabelValues(networkID, status).Inc()
	r.MatrixEntriesTotal.WithLabelValues(networkID).Set(float64(entryCount))
	r.MatrixBuildProgress.WithLabelValues(networkID).Set(0)
}

// RecordReadingsIngested increments the ingested-reading counter.
func (r *Registry) RecordReadingsIngested(networkID string, count int) {
	r.SensorReadingsTotal.WithLabelValues(networkID).Add(float64(count))
}

// RecordDetection increments the detection counter for one persisted
// LeakDetection.
func (r *Registry) RecordDetection(networkID string, severity domain.Severity) {
	r.DetectionsTotal.WithLabelValues(networkID, string(severity)).Inc()
}

// RecordLocalizationSuccess observes a winning candidate's score.
func (r *Registry) RecordLocalizationSuccess(score float64) {
	r.LocalizationScore.Observe(score)
}

// RecordLocalizationFailure increments the undetermined-localization
// counter.
func (r *Registry) RecordLocalizationFailure() {
	r.LocalizationFailures.Inc()
}

// RecordSimulation observes one simulator call's duration.
func (r *Registry) RecordSimulation(operation string, duration time.Duration) {
	r.SimulationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest implements pkg/api/middleware.MetricsRecorder.
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize implements pkg/api/middleware.MetricsRecorder.
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

// IncHTTPRequestsInFlight implements pkg/api/middleware.MetricsRecorder.
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight implements pkg/api/middleware.MetricsRecorder.
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}
