package domain

import (
	"time"

	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// Localize transitions a detection from DETECTED to LOCALIZED, recording the
// winning candidate and its score. Localization is allowed only from
// DETECTED per §3's lifecycle diagram.
func (d *LeakDetection) Localize(nodeID string, score float64, at time.Time) error {
	if d.Status != StatusDetected {
		return apperrors.New(apperrors.KindInvariantViolation).
			Op("LeakDetection.Localize").
			Context("localization is only allowed from DETECTED, current status " + string(d.Status)).
			Err()
	}
	d.LocalizedNodeID = &nodeID
	d.LocalizationScore = &score
	d.LocalizedAt = &at
	d.Status = StatusLocalized
	return nil
}

// Confirm transitions a detection from DETECTED to CONFIRMED.
func (d *LeakDetection) Confirm() error {
	if d.Status != StatusDetected {
		return apperrors.New(apperrors.KindInvariantViolation).
			Op("LeakDetection.Confirm").
			Context("confirmation is only allowed from DETECTED, current status " + string(d.Status)).
			Err()
	}
	d.Status = StatusConfirmed
	return nil
}

// Resolve transitions a detection to RESOLVED from any status.
func (d *LeakDetection) Resolve() {
	d.Status = StatusResolved
}

// Reject transitions a detection to FALSE_POSITIVE from any status.
func (d *LeakDetection) Reject() {
	d.Status = StatusFalsePositive
}
