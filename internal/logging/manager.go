package logging

import (
	"container/ring"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// MaxBufferSize is the maximum number of log entries to keep in memory
	MaxBufferSize = 1000

	// LogLevelDebug represents debug-level logs
	LogLevelDebug = "debug"
	// LogLevelInfo represents info-level logs
	LogLevelInfo = "info"
	// LogLevelWarn represents warning-level logs
	LogLevelWarn = "warn"
	// LogLevelError represents error-level logs
	LogLevelError = "error"
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Manager owns the process logger and a ring of recent entries.
type Manager struct {
	mu     sync.RWMutex
	buffer *ring.Ring
	logger *slog.Logger
}

// NewManager builds a slog logger writing to out in the given format
// ("json" or "text") at the given level, teeing every record into the
// in-memory ring.
func NewManager(out io.Writer, level, format string) *Manager {
	m := &Manager{buffer: ring.New(MaxBufferSize)}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var base slog.Handler
	if strings.EqualFold(format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	m.logger = slog.New(&teeHandler{Handler: base, m: m})
	return m
}

// Logger returns the structured logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn, "warning":
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetRecent returns up to limit of the most recent entries, newest first,
// optionally filtered by level.
func (m *Manager) GetRecent(limit int, levelFilter string) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []LogEntry
	r := m.buffer.Prev()
	for i := 0; i < MaxBufferSize; i++ {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entry, ok := r.Value.(LogEntry)
		if !ok {
			break
		}
		if levelFilter == "" || entry.Level == levelFilter {
			entries = append(entries, entry)
		}
		r = r.Prev()
	}
	return entries
}

func (m *Manager) record(entry LogEntry) {
	m.mu.Lock()
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	m.mu.Unlock()
}

// teeHandler forwards to the wrapped handler and keeps a copy in the ring.
type teeHandler struct {
	slog.Handler
	m     *Manager
	attrs []slog.Attr
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.m.record(LogEntry{
		Timestamp: r.Time,
		Level:     strings.ToLower(r.Level.String()),
		Message:   r.Message,
		Attrs:     attrs,
	})
	return h.Handler.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &teeHandler{Handler: h.Handler.WithAttrs(attrs), m: h.m, attrs: merged}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{Handler: h.Handler.WithGroup(name), m: h.m, attrs: h.attrs}
}
