package api

import (
	"net/http"
	"strconv"
)

// handleLogsRecent returns recent log entries from the in-memory buffer
func (s *Server) handleLogsRecent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	logs := s.logs.GetRecent(limit, r.URL.Query().Get("level"))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
