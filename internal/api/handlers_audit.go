package api

import (
	"net/http"

	"github.com/watershedlabs/leaksense/pkg/audit"
)

// handleAuditEvents implements GET /api/audit/events, returning the 100 most
// recent audit events recorded for a network, oldest first.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	filter := &audit.Filter{NetworkID: r.URL.Query().Get("networkId")}
	if action := r.URL.Query().Get("action"); action != "" {
		filter.Action = audit.Action(action)
	}

	limit := 100
	events := s.audit.GetEvents(filter)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	respondJSON(w, http.StatusOK, events)
}
