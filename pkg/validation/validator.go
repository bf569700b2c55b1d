package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance.
	validate *validator.Validate

	MinTargetCount = 1
	MaxTargetCount = 1000
	DefaultTargetCount = 12

	MaxBatchSize = 1000
	MinBatchSize = 1

	sensorIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

func init() {
	validate = validator.New()
}

// AutoPlaceRequest represents a POST /sensors/auto-place request.
type AutoPlaceRequest struct {
	NetworkID   string `json:"networkId" validate:"required"`
	TargetCount int    `json:"targetCount" validate:"omitempty,min=1,max=1000"`
}

// ReadingRequest represents a single POST /readings request body.
type ReadingRequest struct {
	SensorID  string  `json:"sensorId" validate:"required"`
	FlowValue float64 `json:"flowValue" validate:"required"`
	Timestamp *string `json:"timestamp" validate:"omitempty"`
	Source    string  `json:"source" validate:"omitempty,max=50"`
}

// BatchReadingsRequest represents a POST /readings/batch request body.
type BatchReadingsRequest struct {
	Readings []ReadingRequest `json:"readings" validate:"required,min=1,max=1000,dive"`
}

// DetectRequest represents a POST /leaks/detect request body.
type DetectRequest struct {
	Timestamp   *string  `json:"timestamp" validate:"omitempty"`
	Threshold   *float64 `json:"threshold" validate:"omitempty,min=0"`
	TimeWindow  *int     `json:"timeWindow" validate:"omitempty,min=1"`
	NetworkID   *string  `json:"networkId" validate:"omitempty"`
	NodeID      *string  `json:"nodeId" validate:"omitempty"`
	PartitionID *string  `json:"partitionId" validate:"omitempty"`
}

// LocalizeRequest represents a POST /leaks/localize request body.
type LocalizeRequest struct {
	DetectionID        *string  `json:"detectionId" validate:"omitempty"`
	DetectionIDs       []string `json:"detectionIds" validate:"omitempty,min=1,dive,required"`
	BaselineTimeWindow *int     `json:"baselineTimeWindow" validate:"omitempty,min=1"`
}

// AnalyzeRequest represents a POST /leaks/analyze request body.
type AnalyzeRequest struct {
	Timestamp string           `json:"timestamp" validate:"required"`
	Readings  []ReadingRequest `json:"readings" validate:"required,min=1,max=1000,dive"`
}

// ValidateAutoPlaceRequest validates a sensor auto-placement request and
// fills in the default target count when omitted.
func ValidateAutoPlaceRequest(req *AutoPlaceRequest) error {
	if req == nil {
		return errors.New("auto-place request cannot be nil")
	}
	if req.TargetCount == 0 {
		req.TargetCount = DefaultTargetCount
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.TargetCount < MinTargetCount || req.TargetCount > MaxTargetCount {
		return fmt.Errorf("targetCount: must be between %d and %d, got %d", MinTargetCount, MaxTargetCount, req.TargetCount)
	}
	return nil
}

// ValidateReadingRequest validates a single reading request.
func ValidateReadingRequest(req *ReadingRequest) error {
	if req == nil {
		return errors.New("reading request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if !sensorIDPattern.MatchString(req.SensorID) {
		return fmt.Errorf("sensorId: '%s' contains invalid characters", req.SensorID)
	}
	return nil
}

// ValidateBatchReadingsRequest validates a batch of readings.
func ValidateBatchReadingsRequest(req *BatchReadingsRequest) error {
	if req == nil {
		return errors.New("batch readings request cannot be nil")
	}
	if err := ValidateBatchSize(len(req.Readings)); err != nil {
		return err
	}
	for i := range req.Readings {
		if err := ValidateReadingRequest(&req.Readings[i]); err != nil {
			return fmt.Errorf("readings[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateDetectRequest validates a detection request. Threshold and
// timeWindow, if provided, must be non-negative / positive respectively.
func ValidateDetectRequest(req *DetectRequest) error {
	if req == nil {
		return errors.New("detect request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.Threshold != nil && *req.Threshold < 0 {
		return fmt.Errorf("threshold: must not be negative, got %v", *req.Threshold)
	}
	if req.TimeWindow != nil && *req.TimeWindow <= 0 {
		return fmt.Errorf("timeWindow: must be positive, got %v", *req.TimeWindow)
	}
	return nil
}

// ValidateLocalizeRequest validates a localization request: at least one of
// detectionId / detectionIds must be supplied.
func ValidateLocalizeRequest(req *LocalizeRequest) error {
	if req == nil {
		return errors.New("localize request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.DetectionID == nil && len(req.DetectionIDs) == 0 {
		return errors.New("detectionId or detectionIds is required")
	}
	if req.BaselineTimeWindow != nil && *req.BaselineTimeWindow <= 0 {
		return fmt.Errorf("baselineTimeWindow: must be positive, got %v", *req.BaselineTimeWindow)
	}
	return nil
}

// ValidateAnalyzeRequest validates a one-shot analyze request.
func ValidateAnalyzeRequest(req *AnalyzeRequest) error {
	if req == nil {
		return errors.New("analyze request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	for i := range req.Readings {
		if err := ValidateReadingRequest(&req.Readings[i]); err != nil {
			return fmt.Errorf("readings[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateBatchSize validates the size of a batch request.
func ValidateBatchSize(size int) error {
	if size < MinBatchSize {
		return fmt.Errorf("batch size must be at least %d, got %d", MinBatchSize, size)
	}
	if size > MaxBatchSize {
		return fmt.Errorf("batch size must not exceed %d, got %d", MaxBatchSize, size)
	}
	return nil
}

// formatValidationError converts validator errors to a user-friendly format.
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "dive":
			return fmt.Errorf("%s: invalid element in array", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
