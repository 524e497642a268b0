// Package audit records bootstrap runs as JSON lines.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcomes recorded in Entry.Outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one bootstrap run.
type Entry struct {
	Timestamp string   `json:"timestamp"`
	Runtime   string   `json:"runtime"`
	Target    string   `json:"target"`
	Args      []string `json:"args,omitempty"`
	Outcome   string   `json:"outcome"`
	Kind      string   `json:"kind,omitempty"`
	ExitCode  int      `json:"exit_code"`
	Duration  float64  `json:"duration_ms,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Logger appends entries to a file.
type Logger struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewLogger opens path for appending. An empty path disables logging.
func NewLogger(path string) (*Logger, error) {
	if path == "" {
		return &Logger{writer: nopWriteCloser{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{writer: file}, nil
}

// Log writes one entry, stamping it if needed.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close closes the log file. Later calls to Log are no-ops.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}
	err := l.writer.Close()
	l.writer = nil
	return err
}

// ReadLog reads every entry in path, skipping malformed lines. A missing file
// has no entries.
func ReadLog(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
