package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoCredential is returned before any network I/O when the session
	// holds no token.
	ErrNoCredential = errors.New("no github credential available")

	// ErrNotAFile is returned when a contents path resolves to a directory.
	ErrNotAFile = errors.New("path is not a file")

	// ErrInvalidRepository is returned for a repository not in owner/name form.
	ErrInvalidRepository = errors.New("invalid repository")

	// ErrFileTooLarge is returned when the contents API omits a file's body.
	ErrFileTooLarge = errors.New("file too large to read through the contents api")
)

// UpstreamError is a non-success response from the GitHub API.
type UpstreamError struct {
	Status   int
	Message  string
	Endpoint string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github api error: %d on %s", e.Status, e.Endpoint)
	}
	return fmt.Sprintf("github api error: %d on %s: %s", e.Status, e.Endpoint, e.Message)
}

// IsStatus reports whether err is an UpstreamError with the given status.
func IsStatus(err error, status int) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == status
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// isAlreadyExists matches the API's reply to creating a ref that exists.
func isAlreadyExists(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return strings.Contains(strings.ToLower(ue.Message), "already exists")
}
