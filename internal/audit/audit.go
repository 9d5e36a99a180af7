// Package audit provides append-only structured logging for credential
// operations.
//
// Every keystore access and every session transition is recorded to an
// audit log at ~/.lockbox/audit.log as newline-delimited JSON. Entries
// carry entry names and outcomes only, never secret material.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionEntryRead   Action = "entry_read"
	ActionEntryWrite  Action = "entry_write"
	ActionEntryCreate Action = "entry_create"

	ActionSessionSet    Action = "session_set"
	ActionSessionUnlock Action = "session_unlock"
	ActionSessionLock   Action = "session_lock"

	ActionBiometricDenied Action = "biometric_denied"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Actor     string    `json:"actor,omitempty"`   // "cli", "daemon", "api"
	Trigger   string    `json:"trigger,omitempty"` // "background", "exit", "manual"
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the API request ID, so entries
// recorded while serving the request can be correlated with it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Recorder accepts audit entries. *Logger implements it; Discard drops them.
type Recorder interface {
	Log(entry Entry) error
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Log(Entry) error { return nil }

// Logger writes audit entries to an append-only file.
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

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
