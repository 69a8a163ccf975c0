package api

import (
	"errors"
	"net/http"

	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/session"
	"github.com/jordanhubbard/testpilot/internal/workflow"
)

// errBadRequest marks request bodies the handlers reject themselves.
var errBadRequest = errors.New("bad request")

// statusFor maps an internal error onto the three response classes the API
// exposes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, github.ErrNoCredential), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, workflow.ErrInvalidDraft),
		errors.Is(err, github.ErrNotAFile),
		errors.Is(err, github.ErrInvalidRepository),
		errors.Is(err, github.ErrFileTooLarge),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure writes err using statusFor. Upstream causes are logged and
// replaced with the generic message.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error, generic string) {
	status := statusFor(err)
	switch status {
	case http.StatusUnauthorized:
		s.respondError(w, status, "Not authenticated")
	case http.StatusBadRequest:
		s.respondError(w, status, err.Error())
	default:
		s.logger.Error(generic, "path", r.URL.Path, "error", err)
		var we *workflow.WriteError
		if errors.As(err, &we) {
			s.respondJSON(w, status, map[string]interface{}{
				"error":  generic,
				"branch": we.Branch,
				"files":  we.Outcomes,
			})
			return
		}
		s.respondError(w, status, generic)
	}
}
