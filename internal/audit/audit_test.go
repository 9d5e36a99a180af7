package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	ts := time.Date(2026, 2, 19, 10, 30, 0, 0, time.UTC)

	l.Log(Entry{
		Timestamp: ts,
		Action:    ActionEntryRead,
		Key:       "api_key_encrypted",
		Actor:     "daemon",
	})

	l.Log(Entry{
		Timestamp: ts.Add(time.Hour),
		Action:    ActionSessionLock,
		Actor:     "daemon",
		Trigger:   "background",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e1 Entry
	json.Unmarshal([]byte(lines[0]), &e1)
	if e1.Action != ActionEntryRead {
		t.Errorf("expected entry_read, got %v", e1.Action)
	}
	if e1.Key != "api_key_encrypted" {
		t.Errorf("expected api_key_encrypted, got %q", e1.Key)
	}

	var e2 Entry
	json.Unmarshal([]byte(lines[1]), &e2)
	if e2.Action != ActionSessionLock {
		t.Errorf("expected session_lock, got %v", e2.Action)
	}
	if e2.Trigger != "background" {
		t.Errorf("expected background, got %q", e2.Trigger)
	}
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	l1, _ := NewLogger(path)
	l1.Log(Entry{Action: ActionEntryWrite, Key: "first"})
	l1.Close()

	l2, _ := NewLogger(path)
	l2.Log(Entry{Action: ActionEntryRead, Key: "second"})
	l2.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLoggerDefaultTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	defer l.Close()

	before := time.Now().UTC()
	l.Log(Entry{Action: ActionSessionUnlock})
	after := time.Now().UTC()

	data, _ := os.ReadFile(path)
	var e Entry
	json.Unmarshal(data, &e)

	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", e.Timestamp, before, after)
	}
}

func TestLoggerFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	l.Close()

	info, _ := os.Stat(path)
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestDiscardAcceptsEntries(t *testing.T) {
	if err := Discard.Log(Entry{Action: ActionEntryRead}); err != nil {
		t.Errorf("Discard.Log: %v", err)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
	ctx = WithRequestID(ctx, "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("expected req-1, got %q", got)
	}
}
