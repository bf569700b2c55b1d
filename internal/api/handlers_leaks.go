package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/orchestrate"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/audit"
	"github.com/watershedlabs/leaksense/pkg/validation"
)

// handleDetect implements POST /api/leaks/detect.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req validation.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.Detect", "malformed JSON body"))
		return
	}
	if err := validation.ValidateDetectRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.Detect").Cause(err).Err())
		return
	}

	networkID := ""
	if req.NetworkID != nil {
		networkID = *req.NetworkID
	}
	if networkID == "" {
		networkID = r.URL.Query().Get("networkId")
	}
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.Detect", "networkId is required"))
		return
	}

	params := detect.Params{
		NetworkID:   networkID,
		Timestamp:   time.Now().UTC(),
		PartitionID: req.PartitionID,
	}
	if req.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339, *req.Timestamp)
		if err != nil {
			writeError(w, r, apperrors.InvalidInput("API.Detect", "timestamp must be RFC3339"))
			return
		}
		params.Timestamp = ts
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if req.TimeWindow != nil {
		params.Window = time.Duration(*req.TimeWindow) * time.Second
	}
	if req.NodeID != nil {
		node, err := s.repo.GetNodeByLabel(r.Context(), networkID, *req.NodeID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if node == nil {
			writeError(w, r, apperrors.NotFound("API.Detect", "node", *req.NodeID))
			return
		}
		params.NodeID = &node.ID
	}

	detections, err := s.detector.Detect(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]DetectionResponse, len(detections))
	for i, d := range detections {
		resp[i] = detectionResponse(d)
		s.audit.Log(audit.NewEvent(networkID, audit.ActionCreate, audit.ResourceLeakDetection, d.ID, audit.StatusSuccess))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLocalize implements POST /api/leaks/localize.
func (s *Server) handleLocalize(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.Localize", "networkId query parameter is required"))
		return
	}

	var req validation.LocalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.Localize", "malformed JSON body"))
		return
	}
	if err := validation.ValidateLocalizeRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.Localize").Cause(err).Err())
		return
	}

	ids := req.DetectionIDs
	if req.DetectionID != nil {
		ids = []string{*req.DetectionID}
	}

	baseline := localize.DefaultBaselineWindow
	if req.BaselineTimeWindow != nil {
		baseline = time.Duration(*req.BaselineTimeWindow) * time.Second
	}

	detections, err := s.repo.GetLeakDetections(r.Context(), networkID, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]LocalizationResponse, 0, len(detections))
	for i := range detections {
		det := detections[i]
		result, err := s.localizer.Localize(r.Context(), &det, baseline)
		if err != nil {
			s.audit.Log(audit.NewFailedEvent(networkID, audit.ActionTransition, audit.ResourceLeakDetection, det.ID, err.Error()))
			writeError(w, r, err)
			return
		}
		s.audit.Log(audit.LifecycleTransitionEvent(networkID, det.ID, string(domain.StatusDetected), string(domain.StatusLocalized)))
		resp = append(resp, LocalizationResponse{
			DetectionID:   det.ID,
			WinnerNodeID:  result.WinnerNodeID,
			Score:         result.Score,
			TopCandidates: result.TopCandidates,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleAnalyze implements POST /api/leaks/analyze.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.Analyze", "networkId query parameter is required"))
		return
	}

	var req validation.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.Analyze", "malformed JSON body"))
		return
	}
	if err := validation.ValidateAnalyzeRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.Analyze").Cause(err).Err())
		return
	}

	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeError(w, r, apperrors.InvalidInput("API.Analyze", "timestamp must be RFC3339"))
		return
	}

	readings := make([]orchestrate.ReadingInput, len(req.Readings))
	for i, rr := range req.Readings {
		readings[i] = orchestrate.ReadingInput{SensorID: rr.SensorID, FlowValue: rr.FlowValue}
	}

	report, err := s.orchestrator.Analyze(r.Context(), networkID, ts, readings)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, analysisResponse(report))
}

func analysisResponse(report *orchestrate.AnalysisReport) AnalysisResponse {
	entries := make([]AnalysisDetectionEntry, len(report.Detections))
	for i, d := range report.Detections {
		entry := AnalysisDetectionEntry{Detection: detectionResponse(d.Detection)}
		if d.Localization != nil {
			entry.Localization = &LocalizationResponse{
				DetectionID:   d.Detection.ID,
				WinnerNodeID:  d.Localization.WinnerNodeID,
				Score:         d.Localization.Score,
				TopCandidates: d.Localization.TopCandidates,
			}
		}
		entries[i] = entry
	}

	breakdown := make(map[string]int, len(report.Summary.SeverityBreakdown))
	for sev, count := range report.Summary.SeverityBreakdown {
		breakdown[string(sev)] = count
	}

	return AnalysisResponse{
		Timestamp:      report.Timestamp,
		ReadingsStored: report.ReadingsStored,
		Detections:     entries,
		Summary: AnalysisSummary{
			Total:             report.Summary.Total,
			Localized:         report.Summary.Localized,
			SeverityBreakdown: breakdown,
		},
	}
}
