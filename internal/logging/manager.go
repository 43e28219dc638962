package logging

import (
	"container/ring"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// MaxBufferSize is the maximum number of log entries to keep in memory
	MaxBufferSize = 10000

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry represents a single log entry
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Manager keeps the most recent log entries in memory for the API.
type Manager struct {
	mu     sync.RWMutex
	buffer *ring.Ring
	size   int
	seq    uint64
}

// NewManager creates a new logging manager holding up to size entries.
func NewManager(size int) *Manager {
	if size <= 0 || size > MaxBufferSize {
		size = MaxBufferSize
	}
	return &Manager{buffer: ring.New(size), size: size}
}

// Hook returns a zap hook that copies every written entry into the buffer.
func (m *Manager) Hook() func(zapcore.Entry) error {
	return func(e zapcore.Entry) error {
		m.Log(e.Level.String(), e.LoggerName, e.Message)
		return nil
	}
}

// Log adds a log entry to the buffer.
func (m *Manager) Log(level, source, message string) {
	m.mu.Lock()
	m.seq++
	m.buffer.Value = LogEntry{
		ID:        fmt.Sprintf("log-%d", m.seq),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	m.buffer = m.buffer.Next()
	m.mu.Unlock()
}

// GetRecent returns up to limit entries, newest first, optionally filtered
// by level and source.
func (m *Manager) GetRecent(limit int, levelFilter, sourceFilter string) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.size {
		limit = 100
	}

	logs := make([]LogEntry, 0, limit)
	// m.buffer points at the next slot to write; walk backwards from the
	// newest entry.
	r := m.buffer.Prev()
	for i := 0; i < m.size && len(logs) < limit; i++ {
		if entry, ok := r.Value.(LogEntry); ok {
			if (levelFilter == "" || strings.EqualFold(entry.Level, levelFilter)) &&
				(sourceFilter == "" || entry.Source == sourceFilter) {
				logs = append(logs, entry)
			}
		}
		r = r.Prev()
	}
	return logs
}

// New builds the process logger. format is "json" (default) or "console".
// When manager is non-nil every entry is mirrored into it.
func New(level, format string, manager *Manager) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		config = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	var opts []zap.Option
	if manager != nil {
		opts = append(opts, zap.Hooks(manager.Hook()))
	}
	logger, err := config.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
