package api

import (
	"net/http"

	"github.com/joaquinllenado/recurve-ai/internal/scout"
)

type scoutTriggerRequest struct {
	Status     string `json:"status"`
	Competitor string `json:"competitor"`
	Source     string `json:"source,omitempty"`
}

// handleScoutTrigger submits a status report by hand
// POST /api/scout/trigger
func (s *Server) handleScoutTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req scoutTriggerRequest
	if err := s.parseJSON(w, r, &req, false); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	reaction, err := s.agent.HandleSignal(r.Context(), scout.Signal{
		Status:     req.Status,
		Competitor: req.Competitor,
		Source:     req.Source,
	})
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reaction)
}

// handleScoutState returns the last known state per competitor
// GET /api/scout/state
func (s *Server) handleScoutState(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	states, err := s.agent.ScoutState(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"competitors": states,
	})
}
