// Package audit provides append-only structured logging for key extraction.
//
// Every keychain operation performed during a run (open, unlock, search,
// export, write) is recorded as newline-delimited JSON, including failures.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionStoreOpen   Action = "store_open"
	ActionStoreUnlock Action = "store_unlock"
	ActionStoreLock   Action = "store_lock"
	ActionKeySearch   Action = "key_search"
	ActionKeyExport   Action = "key_export"
	ActionKeyWrite    Action = "key_write"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Store     string    `json:"store"`
	Output    string    `json:"output,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Count     int       `json:"count,omitempty"`  // candidates found by a search
	Bytes     int       `json:"bytes,omitempty"`  // exported or written length
	SHA256    string    `json:"sha256,omitempty"` // digest of written data
	Code      int32     `json:"code,omitempty"`   // native status code
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file. A nil *Logger
// discards entries.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
