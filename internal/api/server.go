package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/jordanhubbard/testpilot/internal/auth"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/logging"
	"github.com/jordanhubbard/testpilot/internal/metrics"
	"github.com/jordanhubbard/testpilot/internal/session"
	"github.com/jordanhubbard/testpilot/internal/workflow"
	"github.com/jordanhubbard/testpilot/pkg/config"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options wires the collaborators of Server.
type Options struct {
	Config       *config.Config
	Tokens       *auth.TokenStore
	Auth         *auth.Handlers
	Upstream     github.ClientConfig
	Store        session.Store
	Orchestrator *workflow.Orchestrator
	Metrics      *metrics.Metrics
	Logs         *logging.Manager
	Logger       *slog.Logger
	Checks       map[string]HealthCheck
	Version      string
}

// Server represents the HTTP API server
type Server struct {
	config       *config.Config
	tokens       *auth.TokenStore
	auth         *auth.Handlers
	upstream     github.ClientConfig
	store        session.Store
	orchestrator *workflow.Orchestrator
	metrics      *metrics.Metrics
	logs         *logging.Manager
	logger       *slog.Logger
	checks       map[string]HealthCheck
	version      string
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		config:       opts.Config,
		tokens:       opts.Tokens,
		auth:         opts.Auth,
		upstream:     opts.Upstream,
		store:        opts.Store,
		orchestrator: opts.Orchestrator,
		metrics:      opts.Metrics,
		logs:         opts.Logs,
		logger:       opts.Logger,
		checks:       opts.Checks,
		version:      opts.Version,
	}
	if s.config == nil {
		s.config = config.DefaultConfig()
	}
	if s.tokens == nil {
		s.tokens = auth.NewTokenStore(auth.TokenStoreOptions{})
	}
	if s.store == nil {
		s.store = session.NewMemoryStore(s.config.Session.MaxAge)
	}
	if s.orchestrator == nil {
		s.orchestrator = workflow.New(workflow.Options{})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleHealthLive)
	mux.HandleFunc("GET /health/ready", s.handleHealthReady)
	mux.Handle("GET /metrics", metrics.Handler())
	if s.logs != nil {
		mux.HandleFunc("GET /logs/recent", s.handleLogsRecent)
	}

	// OAuth
	if s.auth != nil {
		s.auth.Register(mux)
	}

	// Repositories
	mux.HandleFunc("GET /repos", s.handleListRepositories)
	mux.HandleFunc("GET /repos/{owner}/{name}/files", s.handleListFiles)
	mux.HandleFunc("GET /repos/{owner}/{name}/file", s.handleGetFile)

	// Test generation
	mux.HandleFunc("POST /tests/summaries", s.handleSummaries)
	mux.HandleFunc("POST /tests/code", s.handleTestCode)
	mux.HandleFunc("GET /tests/generated", s.handleGenerated)

	// Pull requests
	mux.HandleFunc("POST /pulls", s.handleCreatePull)

	// Apply middleware. Logging wraps the mux directly so it sees the
	// matched pattern.
	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.tokens.Middleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.recoverMiddleware(handler)

	return handler
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// loggingMiddleware logs each request and records its metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// recoverMiddleware turns a panic into a 500
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("Handler panic", "panic", v, "path", r.URL.Path, "stack", string(debug.Stack()))
				s.respondError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowedOrigin := range s.config.Security.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				// Cookies are only sent cross-origin to an explicit origin
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

// client returns an upstream client bound to the caller's credential.
func (s *Server) client(r *http.Request) *github.Client {
	return github.NewClient(s.upstream, auth.SessionFrom(r.Context()).Token)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to encode response", "error", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 8<<20))
	return dec.Decode(v)
}
