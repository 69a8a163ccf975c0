package api

import (
	"fmt"
	"net/http"
)

// repoParam joins the owner and name path segments.
func repoParam(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("name")
}

// handleListRepositories handles GET /repos
func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.client(r).ListRepositories(r.Context())
	if err != nil {
		s.respondFailure(w, r, err, "Failed to fetch repositories")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"repositories": repos})
}

// handleListFiles handles GET /repos/{owner}/{name}/files
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.client(r).ListContents(r.Context(), repoParam(r), r.URL.Query().Get("path"))
	if err != nil {
		s.respondFailure(w, r, err, "Failed to fetch files")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

// handleGetFile handles GET /repos/{owner}/{name}/file
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondFailure(w, r, fmt.Errorf("%w: path is required", errBadRequest), "")
		return
	}
	file, err := s.client(r).GetFile(r.Context(), repoParam(r), path)
	if err != nil {
		s.respondFailure(w, r, err, "Failed to fetch file content")
		return
	}
	s.respondJSON(w, http.StatusOK, file)
}
