package session

import (
	"context"
	"sync"
	"time"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
)

type workspaceEntry struct {
	summaries    []analyzer.TestSummary
	summaryIndex map[string]int
	generated    []GeneratedTest
	genIndex     map[string]int
	expiresAt    time.Time
}

// MemoryStore is an in-process Store. Entries expire ttl after their last
// write. An expired entry is dropped when its session is next read, and
// writes sweep every expired entry at most once per ttl so abandoned
// sessions do not accumulate.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*workspaceEntry
	ttl     time.Duration
	now     func() time.Time
	swept   time.Time
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*workspaceEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) entry(sessionID string, create bool) *workspaceEntry {
	now := m.now()
	if create {
		m.sweep(now)
	}
	e, ok := m.entries[sessionID]
	if ok && m.ttl > 0 && now.After(e.expiresAt) {
		delete(m.entries, sessionID)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		e = &workspaceEntry{
			summaryIndex: make(map[string]int),
			genIndex:     make(map[string]int),
		}
		m.entries[sessionID] = e
	}
	if create && m.ttl > 0 {
		e.expiresAt = now.Add(m.ttl)
	}
	return e
}

// sweep drops expired entries. Callers hold mu.
func (m *MemoryStore) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.swept) < m.ttl {
		return
	}
	m.swept = now
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}

func (m *MemoryStore) PutSummaries(_ context.Context, sessionID string, summaries []analyzer.TestSummary) error {
	if sessionID == "" {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(sessionID, true)
	for _, s := range summaries {
		if i, ok := e.summaryIndex[s.ID]; ok {
			e.summaries[i] = s
			continue
		}
		e.summaryIndex[s.ID] = len(e.summaries)
		e.summaries = append(e.summaries, s)
	}
	return nil
}

func (m *MemoryStore) PutGenerated(_ context.Context, sessionID string, test GeneratedTest) error {
	if sessionID == "" {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(sessionID, true)
	if i, ok := e.genIndex[test.Summary.ID]; ok {
		e.generated[i] = test
		return nil
	}
	e.genIndex[test.Summary.ID] = len(e.generated)
	e.generated = append(e.generated, test)
	return nil
}

func (m *MemoryStore) Workspace(_ context.Context, sessionID string) (*Workspace, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ws := &Workspace{Summaries: []analyzer.TestSummary{}, Generated: []GeneratedTest{}}
	if e := m.entry(sessionID, false); e != nil {
		ws.Summaries = append(ws.Summaries, e.summaries...)
		ws.Generated = append(ws.Generated, e.generated...)
	}
	return ws, nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
