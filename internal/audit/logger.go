package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MPZ-00/m5squared/internal/auth"
	"github.com/MPZ-00/m5squared/internal/config"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Outcome   string    `json:"outcome"`
	LatencyMs int64     `json:"latencyMs"`
}

// Logger writes audit entries to a rotating JSONL file.
type Logger struct {
	mu     sync.Mutex
	writer io.WriteCloser
	path   string
}

// NewLogger opens (creating the directory if needed) a rotating audit
// log in cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	path := filepath.Join(cfg.Dir, "audit.jsonl")
	return &Logger{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		path: path,
	}, nil
}

// LogAction records one action. The user is taken from the request
// context when the auth middleware has populated it.
func (l *Logger) LogAction(ctx context.Context, action, detail, outcome string, latency time.Duration) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		User:      auth.SubjectFromContext(ctx),
		Action:    action,
		Detail:    detail,
		Outcome:   outcome,
		LatencyMs: latency.Milliseconds(),
	}
	l.writeEntry(entry)
}

func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write audit entry: %v\n", err)
	}
}

// FilePath returns the audit log file path.
func (l *Logger) FilePath() string {
	return l.path
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
