package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
	"github.com/jordanhubbard/testpilot/internal/auth"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/render"
	"github.com/jordanhubbard/testpilot/internal/session"
)

type summariesRequest struct {
	Files      []analyzer.File `json:"files"`
	Repository string          `json:"repository"`
}

type codeRequest struct {
	Summary    analyzer.TestSummary `json:"summary"`
	Repository string               `json:"repository"`
}

// handleSummaries handles POST /tests/summaries
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	if !sess.Authenticated() {
		s.respondFailure(w, r, github.ErrNoCredential, "")
		return
	}

	var req summariesRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		s.respondError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if !strings.Contains(req.Repository, "/") {
		s.respondError(w, http.StatusBadRequest, "repository must be owner/name")
		return
	}

	client := s.client(r)
	sources := make([]analyzer.File, len(req.Files))
	g, ctx := errgroup.WithContext(r.Context())
	if n := s.config.Workflow.MaxConcurrentReads; n > 0 {
		g.SetLimit(n)
	}
	for i, f := range req.Files {
		g.Go(func() error {
			content, err := client.GetFile(ctx, req.Repository, f.Path)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", f.Path, err)
			}
			sources[i] = analyzer.File{Path: f.Path, Name: f.Name, Content: content.Content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.respondFailure(w, r, err, "Failed to analyze files")
		return
	}

	summaries := []analyzer.TestSummary{}
	for _, f := range sources {
		found := analyzer.Analyze(f)
		if len(found) > 0 {
			s.metrics.RecordSummaries(string(analyzer.FamilyFor(path.Ext(fileName(f)))), len(found))
		}
		summaries = append(summaries, found...)
	}
	summaries = analyzer.Dedupe(summaries)

	if err := s.store.PutSummaries(r.Context(), sess.ID, summaries); err != nil {
		s.logger.Warn("Failed to record summaries", "session", sess.ID, "error", err)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"summaries":  summaries,
		"totalFiles": len(req.Files),
	})
}

func fileName(f analyzer.File) string {
	if f.Name != "" {
		return f.Name
	}
	return path.Base(f.Path)
}

// handleTestCode handles POST /tests/code
func (s *Server) handleTestCode(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	if !sess.Authenticated() {
		s.respondFailure(w, r, github.ErrNoCredential, "")
		return
	}

	var req codeRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Summary.ID == "" || req.Summary.File == "" || req.Repository == "" {
		s.respondError(w, http.StatusBadRequest, "summary and repository are required")
		return
	}

	source, err := s.client(r).GetFile(r.Context(), req.Repository, req.Summary.File)
	if err != nil {
		s.respondFailure(w, r, err, "Failed to generate test code")
		return
	}

	out, err := render.Render(req.Summary, source.Content)
	if err != nil {
		s.respondFailure(w, r, err, "Failed to generate test code")
		return
	}
	s.metrics.RecordRender(out.Kind)

	generated := session.GeneratedTest{Summary: req.Summary, Code: out.Code, FileName: out.FileName}
	if err := s.store.PutGenerated(r.Context(), sess.ID, generated); err != nil {
		s.logger.Warn("Failed to record generated test", "session", sess.ID, "error", err)
	}

	s.respondJSON(w, http.StatusOK, out)
}

// handleGenerated handles GET /tests/generated
func (s *Server) handleGenerated(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	if !sess.Authenticated() {
		s.respondFailure(w, r, github.ErrNoCredential, "")
		return
	}
	ws, err := s.store.Workspace(r.Context(), sess.ID)
	if err != nil {
		s.respondFailure(w, r, err, "Failed to load workspace")
		return
	}
	s.respondJSON(w, http.StatusOK, ws)
}
