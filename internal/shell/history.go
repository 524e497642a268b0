package shell

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// History is the shell's command history, persisted one line per command.
type History struct {
	mu      sync.Mutex
	entries []string
	file    *os.File
}

// OpenHistory loads the history at path and opens it for appending. An empty
// path keeps history in memory only.
func OpenHistory(path string) (*History, error) {
	h := &History{}
	if path == "" {
		return h, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			h.entries = append(h.entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read history file: %w", err)
	}

	h.file = file
	return h, nil
}

// Add records a command line.
func (h *History) Add(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, line)
	if h.file == nil {
		return nil
	}
	if _, err := h.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Entries returns a copy of every recorded line, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}

// Close closes the history file.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}
