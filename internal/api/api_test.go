package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/matrix"
	"github.com/watershedlabs/leaksense/internal/orchestrate"
	"github.com/watershedlabs/leaksense/internal/repository/memory"
	"github.com/watershedlabs/leaksense/internal/simulator"
	"github.com/watershedlabs/leaksense/internal/storage/blob"
	"github.com/watershedlabs/leaksense/internal/topology"
	"github.com/watershedlabs/leaksense/pkg/pubsub"
)

func strp(s string) *string { return &s }

// newTestServer wires a Server over an in-memory repository and a
// temp-dir-backed local blob store, matching cmd/server's wiring order.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	blobStore, err := blob.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	sim := simulator.New()
	bus := pubsub.NewPubSub()
	t.Cleanup(bus.Shutdown)
	coordinator := matrix.NewCoordinator()
	matrixEngine := matrix.New(store, sim, coordinator, blobStore.PathFor, bus, nil)

	topologySvc := topology.NewService(store, nil)
	detector := detect.New(store, nil)
	localizer := localize.New(store)
	orchestrator := orchestrate.New(store, detector, localizer, nil)

	return NewServer(Deps{
		Repo:         store,
		Topology:     topologySvc,
		MatrixEngine: matrixEngine,
		Detector:     detector,
		Localizer:    localizer,
		Orchestrator: orchestrator,
		Blob:         blobStore,
	})
}

func seedChain(t *testing.T, s *Server, networkID string) {
	t.Helper()
	nodes := []domain.Node{
		{ID: "n-main", NetworkID: networkID, NodeID: "M", NodeType: domain.NodeTypeMainline},
		{ID: "n-branch", NetworkID: networkID, NodeID: "B", NodeType: domain.NodeTypeBranch, ParentID: strp("n-main")},
		{ID: "n-h1", NetworkID: networkID, NodeID: "H1", NodeType: domain.NodeTypeHousehold, ParentID: strp("n-branch")},
	}
	if err := s.repo.UpsertNodes(context.Background(), nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	sensor := domain.Sensor{ID: "s-main", NetworkID: networkID, SensorID: "MAIN_01", SensorType: domain.SensorTypeMainlineFlow, NodeID: "n-main", IsActive: true}
	if err := s.repo.CreateSensor(context.Background(), &sensor); err != nil {
		t.Fatalf("seed sensor: %v", err)
	}
}

func doRequest(t *testing.T, handler http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleAutoPlace_PlacesSensorsOnImportedTopology(t *testing.T) {
	s := newTestServer(t)
	nodes := []domain.Node{
		{ID: "n-main", NetworkID: "net-1", NodeID: "M", NodeType: domain.NodeTypeMainline},
		{ID: "n-branch", NetworkID: "net-1", NodeID: "B", NodeType: domain.NodeTypeBranch, ParentID: strp("n-main")},
	}
	if err := s.repo.UpsertNodes(context.Background(), nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}

	rec := doRequest(t, s.handleAutoPlace, http.MethodPost, "/api/sensors/auto-place", map[string]any{
		"networkId":   "net-1",
		"targetCount": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var report PlacementReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Count != 2 {
		t.Fatalf("expected 2 sensors placed, got %d", report.Count)
	}
}

func TestHandleAutoPlace_MissingNetworkIDFailsValidation(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleAutoPlace, http.MethodPost, "/api/sensors/auto-place", map[string]any{
		"targetCount": 5,
	})
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestHandleAutoPlace_WrongMethodFails405(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleAutoPlace, http.MethodGet, "/api/sensors/auto-place", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleCreateReading_RequiresNetworkIDQueryParam(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleCreateReading, http.MethodPost, "/api/readings", map[string]any{
		"sensorId":  "MAIN_01",
		"flowValue": 12.5,
	})
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestHandleCreateReading_StoresReading(t *testing.T) {
	s := newTestServer(t)
	seedChain(t, s, "net-1")

	rec := doRequest(t, s.handleCreateReading, http.MethodPost, "/api/readings?networkId=net-1", map[string]any{
		"sensorId":  "MAIN_01",
		"flowValue": 42.5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReadingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SensorID != "MAIN_01" || resp.FlowValue != 42.5 {
		t.Fatalf("unexpected reading response: %+v", resp)
	}
}

func TestHandleBatchReadings_StoresAll(t *testing.T) {
	s := newTestServer(t)
	seedChain(t, s, "net-1")

	rec := doRequest(t, s.handleBatchReadings, http.MethodPost, "/api/readings/batch?networkId=net-1", map[string]any{
		"readings": []map[string]any{
			{"sensorId": "MAIN_01", "flowValue": 10.0},
			{"sensorId": "MAIN_01", "flowValue": 11.0},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BatchReadingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 readings stored, got %d", resp.Count)
	}
}

func TestHandleDetect_NoImbalanceReturnsNoDetections(t *testing.T) {
	s := newTestServer(t)
	seedChain(t, s, "net-1")

	rec := doRequest(t, s.handleDetect, http.MethodPost, "/api/leaks/detect", map[string]any{
		"networkId": "net-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detections []DetectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &detections); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected no detections with no readings present, got %d", len(detections))
	}
}

func TestHandleDetect_MissingNetworkIDFailsValidation(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleDetect, http.MethodPost, "/api/leaks/detect", map[string]any{})
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestHandleAnalyze_UnknownSensorFailsNotFound(t *testing.T) {
	s := newTestServer(t)
	seedChain(t, s, "net-1")

	rec := doRequest(t, s.handleAnalyze, http.MethodPost, "/api/leaks/analyze?networkId=net-1", map[string]any{
		"timestamp": "2026-01-01T12:00:00Z",
		"readings": []map[string]any{
			{"sensorId": "GHOST", "flowValue": 5.0},
		},
	})
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestHandleAnalyze_HappyPathReturnsSummary(t *testing.T) {
	s := newTestServer(t)
	seedChain(t, s, "net-1")

	rec := doRequest(t, s.handleAnalyze, http.MethodPost, "/api/leaks/analyze?networkId=net-1", map[string]any{
		"timestamp": "2026-01-01T12:00:00Z",
		"readings": []map[string]any{
			{"sensorId": "MAIN_01", "flowValue": 5.0},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ReadingsStored != 1 {
		t.Fatalf("expected 1 reading stored, got %d", resp.ReadingsStored)
	}
}

func TestHandleMatrixStatus_UnknownNetworkReturnsIdleState(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleMatrixStatus, http.MethodGet, "/api/network/sensitivity-matrix/status?networkId=net-unknown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMatrixStatus_MissingNetworkIDFails400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.handleMatrixStatus, http.MethodGet, "/api/network/sensitivity-matrix/status", nil)
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestRoutes_UnregisteredPathReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered route, got %d", rec.Code)
	}
}

func TestRoutes_SetsSecurityHeaders(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/network/sensitivity-matrix/status?networkId=net-1", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Header().Get("X-Content-Type-Options") == "" {
		t.Errorf("expected security headers middleware to set X-Content-Type-Options")
	}
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.StatusCode != wantStatus {
		t.Errorf("envelope statusCode = %d, want %d", envelope.StatusCode, wantStatus)
	}
	if envelope.Message == "" {
		t.Errorf("expected a non-empty error message")
	}
}
