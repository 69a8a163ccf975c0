package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// DepHealth represents the health of a dependency.
type DepHealth struct {
	Status  string `json:"status"` // "healthy" or "unhealthy"
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

var startTime = time.Now()

// handleHealthLive handles GET /health/live. It never touches dependencies.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHealthReady handles GET /health/ready - readiness probe.
// Returns 503 when any registered check fails.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := s.checkDependencies(ctx)
	ready := true
	for _, dep := range deps {
		if dep.Status != "healthy" {
			ready = false
			break
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]interface{}{
		"ready":        ready,
		"timestamp":    time.Now().Format(time.RFC3339),
		"dependencies": deps,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	deps := s.checkDependencies(ctx)
	overall := "healthy"
	for _, dep := range deps {
		if dep.Status != "healthy" {
			overall = "degraded"
			break
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         overall,
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"version":        s.version,
		"dependencies":   deps,
	})
}

// checkDependencies runs every registered check in name order.
func (s *Server) checkDependencies(ctx context.Context) map[string]DepHealth {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string]DepHealth, len(names))
	for _, name := range names {
		start := time.Now()
		err := s.checks[name](ctx)
		dep := DepHealth{Status: "healthy", Latency: time.Since(start).Milliseconds()}
		if err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		}
		deps[name] = dep
	}
	return deps
}
