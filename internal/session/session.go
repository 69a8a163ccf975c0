// Package session keeps the per-session workspace: the summaries produced so
// far and at most one generated test per summary ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
)

// GeneratedTest pairs a summary with its rendered source and output file name.
type GeneratedTest struct {
	Summary  analyzer.TestSummary `json:"summary" validate:"required"`
	Code     string               `json:"code" validate:"required"`
	FileName string               `json:"fileName" validate:"required"`
}

// Workspace is a snapshot of one session's state, in insertion order.
type Workspace struct {
	Summaries []analyzer.TestSummary `json:"summaries"`
	Generated []GeneratedTest        `json:"generated"`
}

// Store holds workspaces keyed by session ID. Writes are last-write-wins per
// summary ID; a replaced entry keeps its first position.
type Store interface {
	PutSummaries(ctx context.Context, sessionID string, summaries []analyzer.TestSummary) error
	PutGenerated(ctx context.Context, sessionID string, test GeneratedTest) error
	Workspace(ctx context.Context, sessionID string) (*Workspace, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// ErrNoSession is returned for operations without a session ID.
var ErrNoSession = errors.New("no session")

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	RedisURL string
	TTL      time.Duration
}

// New builds the configured store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// Dedupe keeps the last entry for each summary ID, ordered by the position of
// that ID's first appearance.
func Dedupe(tests []GeneratedTest) []GeneratedTest {
	index := make(map[string]int, len(tests))
	out := make([]GeneratedTest, 0, len(tests))
	for _, t := range tests {
		if i, ok := index[t.Summary.ID]; ok {
			out[i] = t
			continue
		}
		index[t.Summary.ID] = len(out)
		out = append(out, t)
	}
	return out
}
