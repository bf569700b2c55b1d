// Package orchestrate implements §4.G: the one-shot analyze() entry point
// that stores readings, runs detection with default parameters, and
// localizes each resulting detection.
package orchestrate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

// ReadingInput is one incoming reading to store before analysis.
type ReadingInput struct {
	SensorID  string
	FlowValue float64
}

// DetectionReport is one detection's outcome in an AnalysisReport, with an
// optional localization (absent when localization failed or was skipped).
type DetectionReport struct {
	Detection    domain.LeakDetection
	Localization *localize.Result
}

// Summary aggregates an AnalysisReport's detections.
type Summary struct {
	Total             int
	Localized         int
	SeverityBreakdown map[domain.Severity]int
}

// AnalysisReport is the §4.G analyze() response.
type AnalysisReport struct {
	Timestamp      time.Time
	ReadingsStored int
	Detections     []DetectionReport
	Summary        Summary
}

// Orchestrator wires storage, detection, and localization into the §4.G
// one-shot analysis flow.
type Orchestrator struct {
	repo      repository.Repository
	detector  *detect.Detector
	localizer *localize.Localizer
	log       logging.Logger
}

// New creates an Orchestrator.
func New(repo repository.Repository, detector *detect.Detector, localizer *localize.Localizer, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Orchestrator{repo: repo, detector: detector, localizer: localizer, log: log}
}

// Analyze runs the §4.G pipeline for one network.
func (o *Orchestrator) Analyze(ctx context.Context, networkID string, timestamp time.Time, readings []ReadingInput) (*AnalysisReport, error) {
	if len(readings) == 0 {
		return nil, apperrors.InvalidInput("Orchestrator.Analyze", "readings must be non-empty")
	}
	if timestamp.IsZero() {
		return nil, apperrors.InvalidInput("Orchestrator.Analyze", "timestamp is required")
	}

	if err := o.checkSensorsExist(ctx, networkID, readings); err != nil {
		return nil, err
	}

	stored := make([]domain.Reading, 0, len(readings))
	for _, r := range readings {
		stored = append(stored, domain.Reading{
			ID:        uuid.New().String(),
			NetworkID: networkID,
			SensorID:  r.SensorID,
			FlowValue: r.FlowValue,
			Timestamp: timestamp,
			Source:    domain.ReadingSourceSensor,
		})
	}
	if err := o.repo.CreateReadings(ctx, stored); err != nil {
		return nil, err
	}

	detections, err := o.detector.Detect(ctx, detect.Params{
		NetworkID: networkID,
		Timestamp: timestamp,
		Threshold: detect.DefaultThreshold,
		Window:    detect.DefaultWindow,
	})
	if err != nil {
		return nil, err
	}

	reports := make([]DetectionReport, 0, len(detections))
	breakdown := make(map[domain.Severity]int)
	localizedCount := 0

	for i := range detections {
		det := detections[i]
		report := DetectionReport{Detection: det}

		result, err := o.localizer.Localize(ctx, &det, localize.DefaultBaselineWindow)
		if err != nil {
			o.log.Warn("per-detection localization failed, omitting localization block",
				logging.String("detection_id", det.ID), logging.Error(err))
		} else {
			report.Localization = result
			report.Detection = det
			localizedCount++
		}

		breakdown[report.Detection.Severity]++
		reports = append(reports, report)
	}

	return &AnalysisReport{
		Timestamp:      timestamp,
		ReadingsStored: len(stored),
		Detections:     reports,
		Summary: Summary{
			Total:             len(reports),
			Localized:         localizedCount,
			SeverityBreakdown: breakdown,
		},
	}, nil
}

func (o *Orchestrator) checkSensorsExist(ctx context.Context, networkID string, readings []ReadingInput) error {
	seen := make(map[string]bool)
	missing := make([]string, 0)
	for _, r := range readings {
		if seen[r.SensorID] {
			continue
		}
		seen[r.SensorID] = true
		sensor, err := o.repo.GetSensorByLabel(ctx, networkID, r.SensorID)
		if err != nil {
			return err
		}
		if sensor == nil {
			missing = append(missing, r.SensorID)
		}
	}
	if len(missing) > 0 {
		return apperrors.New(apperrors.KindNotFound).
			Op("Orchestrator.Analyze").
			Entity("sensor", missing[0]).
			Context("missing sensor ids: " + joinIDs(missing)).
			Err()
	}
	return nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
