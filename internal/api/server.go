// Package api implements §6's external HTTP interface: request decoding
// and validation, dispatch into the domain components, and response/error
// envelope encoding. None of the domain logic lives here.
package api

import (
	"net/http"

	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/epanet"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/matrix"
	"github.com/watershedlabs/leaksense/internal/orchestrate"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/internal/storage/blob"
	"github.com/watershedlabs/leaksense/internal/topology"
	apimiddleware "github.com/watershedlabs/leaksense/pkg/api/middleware"
	"github.com/watershedlabs/leaksense/pkg/audit"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

// auditBufferSize bounds the in-memory ring buffer backing /api/audit/events.
const auditBufferSize = 4096

// Deps bundles every component a Server dispatches into.
type Deps struct {
	Repo         repository.Repository
	Topology     *topology.Service
	MatrixEngine *matrix.Engine
	Detector     *detect.Detector
	Localizer    *localize.Localizer
	Orchestrator *orchestrate.Orchestrator
	Blob         blob.Store
	Metrics      apimiddleware.MetricsRecorder
	Log          logging.Logger
}

// Server holds the dependencies needed to serve §6's routes.
type Server struct {
	repo         repository.Repository
	topology     *topology.Service
	matrixEngine *matrix.Engine
	detector     *detect.Detector
	localizer    *localize.Localizer
	orchestrator *orchestrate.Orchestrator
	blob         blob.Store
	metrics      apimiddleware.MetricsRecorder
	audit        *audit.AuditLogger
	log          logging.Logger
}

// NewServer creates a Server over d.
func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Server{
		repo:         d.Repo,
		topology:     d.Topology,
		matrixEngine: d.MatrixEngine,
		detector:     d.Detector,
		localizer:    d.Localizer,
		orchestrator: d.Orchestrator,
		blob:         d.Blob,
		metrics:      d.Metrics,
		audit:        audit.NewAuditLogger(auditBufferSize),
		log:          log,
	}
}

// Routes registers every §6 route on a fresh mux and wraps it in this
// service's middleware chain. The returned handler is what the process's
// listener should serve.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/network/import/epanet", s.handleImportEPANET)
	mux.HandleFunc("/api/network/sensitivity-matrix/generate", s.handleGenerateMatrix)
	mux.HandleFunc("/api/network/sensitivity-matrix/status", s.handleMatrixStatus)
	mux.HandleFunc("/api/sensors/auto-place", s.handleAutoPlace)
	mux.HandleFunc("/api/readings", s.handleCreateReading)
	mux.HandleFunc("/api/readings/batch", s.handleBatchReadings)
	mux.HandleFunc("/api/leaks/detect", s.handleDetect)
	mux.HandleFunc("/api/leaks/localize", s.handleLocalize)
	mux.HandleFunc("/api/leaks/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/audit/events", s.handleAuditEvents)

	var handler http.Handler = mux
	handler = apimiddleware.BodySizeLimit(epanet.MaxFileBytes)(handler)
	if s.metrics != nil {
		handler = apimiddleware.Metrics(s.metrics)(handler)
	}
	handler = apimiddleware.SecurityHeaders(&apimiddleware.SecurityHeadersConfig{})(handler)
	handler = apimiddleware.CORS(apimiddleware.DefaultCORSConfig())(handler)
	handler = apimiddleware.Logging(apimiddleware.GetRequestID)(handler)
	handler = apimiddleware.RequestID()(handler)
	handler = apimiddleware.PanicRecovery()(handler)

	return handler
}
