package api

import (
	"net/http"

	"github.com/jordanhubbard/testpilot/internal/auth"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/session"
	"github.com/jordanhubbard/testpilot/internal/workflow"
)

// handleCreatePull handles POST /pulls
func (s *Server) handleCreatePull(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	if !sess.Authenticated() {
		s.respondFailure(w, r, github.ErrNoCredential, "")
		return
	}

	var draft workflow.Draft
	if err := s.parseJSON(r, &draft); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	draft.Tests = session.Dedupe(draft.Tests)

	result, err := s.orchestrator.CreateTestPR(r.Context(), s.client(r), draft)
	if err != nil {
		s.respondFailure(w, r, err, "Failed to create pull request")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"pullRequest": result})
}
