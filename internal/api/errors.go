package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

// ErrorResponse is the §6/§7 standard error envelope.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.ErrorLog("failed to encode response body", logging.Error(err))
	}
}

// writeError maps err onto the §6/§7 error envelope via apperrors'
// kind-to-status table and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusCode(err)
	resp := ErrorResponse{
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		Message:    err.Error(),
	}
	if kind := apperrors.KindOf(err); kind != "" {
		resp.Error = string(kind)
	}
	respondJSON(w, status, resp)
}

// requireMethod writes a 405 and returns false if r was not made with
// method. Routes in this package are single-method, matching §6's table.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		respondJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			StatusCode: http.StatusMethodNotAllowed,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Path:       r.URL.Path,
			Message:    "method " + r.Method + " not allowed",
		})
		return false
	}
	return true
}
