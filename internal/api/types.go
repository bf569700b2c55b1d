package api

import (
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/matrix"
)

// ImportReport is the §6 POST /network/import/epanet response.
type ImportReport struct {
	Status         string `json:"status"`
	NetworkID      string `json:"networkId"`
	NodesImported  int    `json:"nodesImported"`
	LinksImported  int    `json:"linksImported"`
	DMAsCreated    int    `json:"dmAsCreated"`
}

// MatrixStats is the §6/§8 matrixStats block, named totalEntries to match
// the testable-properties wording in §8.
type MatrixStats struct {
	CandidateCount int `json:"candidateCount"`
	SensorCount    int `json:"sensorCount"`
	TotalEntries   int `json:"totalEntries"`
}

// MatrixStatusResponse is the shared §6 generate()/status() response shape.
type MatrixStatusResponse struct {
	State      string       `json:"state"`
	Progress   *int         `json:"progress,omitempty"`
	MatrixStats *MatrixStats `json:"matrixStats,omitempty"`
	ErrMessage string       `json:"error,omitempty"`
}

func matrixStatusResponse(s matrix.Status) MatrixStatusResponse {
	resp := MatrixStatusResponse{State: string(s.State), Progress: s.Progress, ErrMessage: s.ErrMessage}
	if s.Stats != nil {
		resp.MatrixStats = &MatrixStats{
			CandidateCount: s.Stats.CandidateCount,
			SensorCount:    s.Stats.SensorCount,
			TotalEntries:   s.Stats.EntryCount,
		}
	}
	return resp
}

// PlacementReport is the §6 POST /sensors/auto-place response.
type PlacementReport struct {
	NetworkID string           `json:"networkId"`
	Count     int              `json:"count"`
	Sensors   []SensorResponse `json:"sensors"`
}

// SensorResponse is the wire shape of a placed or looked-up sensor.
type SensorResponse struct {
	SensorID   string `json:"sensorId"`
	SensorType string `json:"sensorType"`
	NodeID     string `json:"nodeId"`
	IsActive   bool   `json:"isActive"`
}

func sensorResponse(s domain.Sensor) SensorResponse {
	return SensorResponse{
		SensorID:   s.SensorID,
		SensorType: string(s.SensorType),
		NodeID:     s.NodeID,
		IsActive:   s.IsActive,
	}
}

// ReadingResponse is the wire shape of one stored reading.
type ReadingResponse struct {
	ID        string    `json:"id"`
	NetworkID string    `json:"networkId"`
	SensorID  string    `json:"sensorId"`
	FlowValue float64   `json:"flowValue"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func readingResponse(r domain.Reading) ReadingResponse {
	return ReadingResponse{
		ID:        r.ID,
		NetworkID: r.NetworkID,
		SensorID:  r.SensorID,
		FlowValue: r.FlowValue,
		Timestamp: r.Timestamp,
		Source:    string(r.Source),
	}
}

// BatchReadingsResponse is the §6 POST /readings/batch response.
type BatchReadingsResponse struct {
	Count    int               `json:"count"`
	Readings []ReadingResponse `json:"readings"`
}

// DetectionResponse is the wire shape of one LeakDetection.
type DetectionResponse struct {
	ID                string   `json:"id"`
	NetworkID         string   `json:"networkId"`
	NodeID            string   `json:"nodeId"`
	PartitionID       *string  `json:"partitionId,omitempty"`
	FlowImbalance     float64  `json:"flowImbalance"`
	Severity          string   `json:"severity"`
	Status            string   `json:"status"`
	DetectedAt        time.Time `json:"detectedAt"`
	LocalizedNodeID   *string  `json:"localizedNodeId,omitempty"`
	LocalizationScore *float64 `json:"localizationScore,omitempty"`
}

func detectionResponse(d domain.LeakDetection) DetectionResponse {
	return DetectionResponse{
		ID:                d.ID,
		NetworkID:         d.NetworkID,
		NodeID:            d.NodeID,
		PartitionID:       d.PartitionID,
		FlowImbalance:     d.FlowImbalance,
		Severity:          string(d.Severity),
		Status:            string(d.Status),
		DetectedAt:        d.DetectedAt,
		LocalizedNodeID:   d.LocalizedNodeID,
		LocalizationScore: d.LocalizationScore,
	}
}

// LocalizationResponse is the §6 POST /leaks/localize response shape for
// one detection.
type LocalizationResponse struct {
	DetectionID   string              `json:"detectionId"`
	WinnerNodeID  string              `json:"localizedNodeId"`
	Score         float64             `json:"localizationScore"`
	TopCandidates []localize.Candidate `json:"topCandidates"`
}

// AnalysisResponse is the §6 POST /leaks/analyze response shape.
type AnalysisResponse struct {
	Timestamp      time.Time                  `json:"timestamp"`
	ReadingsStored int                        `json:"readingsStored"`
	Detections     []AnalysisDetectionEntry    `json:"detections"`
	Summary        AnalysisSummary            `json:"summary"`
}

// AnalysisDetectionEntry is one detection in an AnalysisResponse, with an
// optional localization block omitted when localization failed.
type AnalysisDetectionEntry struct {
	Detection    DetectionResponse      `json:"detection"`
	Localization *LocalizationResponse  `json:"localization,omitempty"`
}

// AnalysisSummary mirrors orchestrate.Summary with JSON-friendly keys.
type AnalysisSummary struct {
	Total             int            `json:"total"`
	Localized         int            `json:"localized"`
	SeverityBreakdown map[string]int `json:"severityBreakdown"`
}
