package api

import (
	"net/http"
)

// handleLogsRecent returns recent log entries
// GET /api/logs?limit=100&level=warn&source=validation
func (s *Server) handleLogsRecent(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}

	limit := queryInt(r, "limit", 100)
	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")

	logs := s.agent.Logs().GetRecent(limit, level, source)

	response := map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	}

	s.respondJSON(w, http.StatusOK, response)
}
