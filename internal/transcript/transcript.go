// Package transcript writes an NDJSON record of every interview exchange.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventQuestion = "question"
	EventAnswer   = "answer"
	EventDecision = "decision"
	EventClaim    = "claim"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line of a transcript.
type Event struct {
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"ts"`
	UserID         string    `json:"user_id"`
	ProjectID      string    `json:"project_id"`
	Type           string    `json:"type"`
	Turn           int       `json:"turn"`
	Content        string    `json:"content,omitempty"`
	Decision       string    `json:"decision,omitempty"`
	KnowledgeScore *int      `json:"knowledge_score,omitempty"`
	VibeScore      *int      `json:"vibe_score,omitempty"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Logger appends events asynchronously. When the queue is full events are
// dropped rather than blocking the interview. A nil Logger is a no-op.
type Logger struct {
	cfg     Config
	logger  *slog.Logger
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New starts the writer goroutine. A disabled config returns nil, nil.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
	}

	l := &Logger{cfg: cfg, logger: logger, queue: make(chan Event, cfg.QueueSize)}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues e, filling in its ID and timestamp when empty.
func (l *Logger) Log(e Event) {
	if l == nil {
		return
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped reports how many events were discarded.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes queued events and stops the writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

// Path returns the per-user, per-project transcript file.
func (l *Logger) Path(userID, projectID string) string {
	return filepath.Join(l.cfg.Dir, safeName(userID), safeName(projectID)+".ndjson")
}

func (l *Logger) run() {
	defer l.wg.Done()
	for e := range l.queue {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Error("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.Path(e.UserID, e.ProjectID), line); err != nil {
			l.logger.Error("Failed to write transcript", "user_id", e.UserID, "project_id", e.ProjectID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Error("Failed to write global transcript", "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func safeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
