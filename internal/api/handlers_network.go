package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/epanet"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/audit"
	"github.com/watershedlabs/leaksense/pkg/logging"
	"github.com/watershedlabs/leaksense/pkg/validation"
)

// handleImportEPANET implements POST /api/network/import/epanet: the body
// is a multipart form whose "file" field holds the .inp file. A fresh network is created, the file is stored, its
// nodes and links are parsed and persisted, and one DMA per MAINLINE node
// is created.
func (s *Server) handleImportEPANET(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseMultipartForm(epanet.MaxFileBytes); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.ImportEPANET", "failed to parse multipart upload"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperrors.InvalidInput("API.ImportEPANET", "no .inp file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, apperrors.InvalidInput("API.ImportEPANET", "could not read uploaded file"))
		return
	}

	parsed, err := epanet.Parse(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	networkID := uuid.New().String()
	network := &domain.Network{ID: networkID, Name: r.URL.Query().Get("name"), CreatedAt: time.Now().UTC()}
	if network.Name == "" {
		network.Name = networkID
	}
	if err := s.repo.CreateNetwork(r.Context(), network); err != nil {
		s.audit.Log(audit.NewFailedEvent(networkID, audit.ActionImport, audit.ResourceNetwork, networkID, err.Error()))
		writeError(w, r, err)
		return
	}

	if _, err := s.blob.Put(r.Context(), networkID, data); err != nil {
		writeError(w, r, err)
		return
	}

	nodes, linkCount := convertEPANETNodes(networkID, parsed)
	if err := s.repo.UpsertNodes(r.Context(), nodes); err != nil {
		writeError(w, r, err)
		return
	}

	dmas, err := s.topology.CreateDMAsForMainlines(r.Context(), networkID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.audit.Log(audit.NewEvent(networkID, audit.ActionImport, audit.ResourceNetwork, networkID, audit.StatusSuccess))
	s.log.Info("network imported",
		logging.String("network_id", networkID),
		logging.Int("nodes", len(nodes)),
		logging.Int("dmas", len(dmas)))

	respondJSON(w, http.StatusCreated, ImportReport{
		Status:        "imported",
		NetworkID:     networkID,
		NodesImported: len(nodes),
		LinksImported: linkCount,
		DMAsCreated:   len(dmas),
	})
}

// convertEPANETNodes assigns new domain UUIDs to parsed EPANET nodes and
// resolves each node's ParentID from the EPANET-id space into the new
// domain-id space.
func convertEPANETNodes(networkID string, parsed *epanet.Result) ([]domain.Node, int) {
	idByEpanet := make(map[string]string, len(parsed.Nodes))
	nodes := make([]domain.Node, len(parsed.Nodes))
	for i, n := range parsed.Nodes {
		id := uuid.New().String()
		idByEpanet[n.ID] = id
		epanetID := n.ID
		nodes[i] = domain.Node{
			ID:           id,
			NetworkID:    networkID,
			NodeID:       n.ID,
			NodeType:     n.Role,
			EPANETNodeID: &epanetID,
		}
	}
	for i, n := range parsed.Nodes {
		if n.ParentID == nil {
			continue
		}
		if parentID, ok := idByEpanet[*n.ParentID]; ok {
			nodes[i].ParentID = &parentID
		}
	}
	return nodes, len(parsed.Links)
}

// handleGenerateMatrix implements POST /api/network/sensitivity-matrix/generate.
func (s *Server) handleGenerateMatrix(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.GenerateMatrix", "networkId query parameter is required"))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	status, err := s.matrixEngine.Generate(r.Context(), networkID, force)
	if err != nil {
		s.audit.Log(audit.NewFailedEvent(networkID, audit.ActionBuild, audit.ResourceSensitivity, networkID, err.Error()))
		writeError(w, r, err)
		return
	}
	s.audit.Log(audit.NewEvent(networkID, audit.ActionBuild, audit.ResourceSensitivity, networkID, audit.StatusSuccess))
	respondJSON(w, http.StatusAccepted, matrixStatusResponse(status))
}

// handleMatrixStatus implements GET /api/network/sensitivity-matrix/status.
func (s *Server) handleMatrixStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	networkID := r.URL.Query().Get("networkId")
	if networkID == "" {
		writeError(w, r, apperrors.InvalidInput("API.MatrixStatus", "networkId query parameter is required"))
		return
	}
	status := s.matrixEngine.Status(networkID)
	respondJSON(w, http.StatusOK, matrixStatusResponse(status))
}

// handleAutoPlace implements POST /api/sensors/auto-place.
func (s *Server) handleAutoPlace(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req validation.AutoPlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.InvalidInput("API.AutoPlace", "malformed JSON body"))
		return
	}
	if err := validation.ValidateAutoPlaceRequest(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.KindInvalidInput).Op("API.AutoPlace").Cause(err).Err())
		return
	}

	placed, err := s.topology.AutoPlace(r.Context(), req.NetworkID, req.TargetCount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sensors := make([]SensorResponse, len(placed))
	for i, p := range placed {
		sensors[i] = sensorResponse(p)
	}
	s.audit.Log(audit.NewEvent(req.NetworkID, audit.ActionCreate, audit.ResourceSensor, "", audit.StatusSuccess))
	respondJSON(w, http.StatusCreated, PlacementReport{
		NetworkID: req.NetworkID,
		Count:     len(placed),
		Sensors:   sensors,
	})
}
