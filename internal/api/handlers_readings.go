package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/validation"
)

// handleCreateReading implements POST /api/readings.
func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.CreateReading", "networkId query parameter is required"))
		return
	}

	var req validation.ReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.CreateReading", "malformed JSON body"))
		return
	}
	if err := validation.ValidateReadingRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.CreateReading").Cause(err).Err())
		return
	}

	ts, err := parseReadingTimestamp(req.Timestamp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reading := domain.Reading{
		ID:        uuid.New().String(),
		NetworkID: networkID,
		SensorID:  req.SensorID,
		FlowValue: req.FlowValue,
		Timestamp: ts,
		Source:    readingSource(req.Source),
	}

	if err := s.repo.CreateReadings(r.Context(), []domain.Reading{reading}); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, readingResponse(reading))
}

// handleBatchReadings implements POST /api/readings/batch.
func (s *Server) handleBatchReadings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.BatchReadings", "networkId query parameter is required"))
		return
	}

	var req validation.BatchReadingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.BatchReadings", "malformed JSON body"))
		return
	}
	if err := validation.ValidateBatchReadingsRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.BatchReadings").Cause(err).Err())
		return
	}

	readings := make([]domain.Reading, len(req.Readings))
	for i, rr := range req.Readings {
		ts, err := parseReadingTimestamp(rr.Timestamp)
		if err != nil {
			writeError(w, r, err)
			return
		}
		readings[i] = domain.Reading{
			ID:        uuid.New().String(),
			NetworkID: networkID,
			SensorID:  rr.SensorID,
			FlowValue: rr.FlowValue,
			Timestamp: ts,
			Source:    readingSource(rr.Source),
		}
	}

	if err := s.repo.CreateReadings(r.Context(), readings); err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]ReadingResponse, len(readings))
	for i, rd := range readings {
		resp[i] = readingResponse(rd)
	}
	respondJSON(w, http.StatusCreated, BatchReadingsResponse{Count: len(resp), Readings: resp})
}

func parseReadingTimestamp(raw *string) (time.Time, error) {
	if raw == nil || *raw == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return time.Time{}, apperrors.InvalidInput("API.ParseTimestamp", "timestamp must be RFC3339")
	}
	return ts, nil
}

func readingSource(raw string) domain.ReadingSource {
	if raw == string(domain.ReadingSourceManual) {
		return domain.ReadingSourceManual
	}
	return domain.ReadingSourceSensor
}
