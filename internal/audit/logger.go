// Package audit writes an append-only JSONL record of analyzer actions.
//
// Every scan and serve-mode action lands as one JSON line with a normalized
// outcome code, so a field session can be reconstructed afterwards with
// standard line tools.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/plan"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Outcome   string         `json:"outcome"`
	Code      string         `json:"code"`
	LatencyMS int64          `json:"latencyMs"`
}

// Logger appends audit entries to a JSONL file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
}

// NewLogger opens (or creates) the audit log under dir.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log directory: %w", err)
	}

	filePath := filepath.Join(dir, "audit.jsonl")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}

	return &Logger{filePath: filePath, file: file}, nil
}

// LogAction records one action with its outcome. A nil err is SUCCESS;
// otherwise the code is derived from the normalized device error.
func (l *Logger) LogAction(action string, params map[string]any, err error, latency time.Duration) {
	outcome := "SUCCESS"
	if err != nil {
		outcome = "ERROR"
	}
	l.write(Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		Code:      CodeFromError(err),
		LatencyMS: latency.Milliseconds(),
	})
}

// CodeFromError maps an error to its audit code.
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, device.ErrInvalidRange),
		errors.Is(err, plan.ErrFrequencyOrder),
		errors.Is(err, plan.ErrInvalidFrequency),
		errors.Is(err, plan.ErrInvalidResolution),
		errors.Is(err, plan.ErrNoRanges):
		return "INVALID_RANGE"
	case errors.Is(err, device.ErrBusy):
		return "BUSY"
	case errors.Is(err, device.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}

func (l *Logger) write(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal entry: %v\n", err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write entry: %v\n", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "audit: sync log: %v\n", err)
	}
}

// FilePath returns the audit log location.
func (l *Logger) FilePath() string { return l.filePath }

// Rotate renames the current log with a timestamp suffix and starts a new
// one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("audit: close current log: %w", err)
		}
		l.file = nil
	}

	rotated := fmt.Sprintf("%s.%s", l.filePath, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.filePath, rotated); err != nil {
		return fmt.Errorf("audit: rotate log: %w", err)
	}

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: reopen log: %w", err)
	}
	l.file = file
	return nil
}

// Close flushes and closes the log.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
