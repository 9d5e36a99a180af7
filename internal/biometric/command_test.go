package biometric

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeHelper(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandGateExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   error
	}{
		{"success", "exit 0", nil},
		{"failed", "exit 1", ErrFailed},
		{"cancelled", "exit 2", ErrCancelled},
		{"unavailable", "exit 3", ErrUnavailable},
		{"unknown code", "exit 42", ErrFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewCommandGate(writeHelper(t, tt.script), time.Second)
			err := gate.Authenticate(context.Background(), "unlock api key")
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCommandGatePassesReason(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reason")
	gate := NewCommandGate(writeHelper(t, `printf '%s' "$1" > `+out), time.Second)

	if err := gate.Authenticate(context.Background(), "store api key"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "store api key" {
		t.Errorf("expected reason 'store api key', got %q", data)
	}
}

func TestCommandGateMissingHelper(t *testing.T) {
	gate := NewCommandGate(filepath.Join(t.TempDir(), "does-not-exist"), time.Second)

	err := gate.Authenticate(context.Background(), "unlock")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommandGateNotConfigured(t *testing.T) {
	gate := NewCommandGate("", 0)

	err := gate.Authenticate(context.Background(), "unlock")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommandGateTimeoutIsCancel(t *testing.T) {
	gate := NewCommandGate(writeHelper(t, "sleep 5"), 100*time.Millisecond)

	start := time.Now()
	err := gate.Authenticate(context.Background(), "unlock")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("prompt was not abandoned on timeout")
	}
}

func TestCommandGateContextCancel(t *testing.T) {
	gate := NewCommandGate(writeHelper(t, "sleep 5"), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if err := gate.Authenticate(ctx, "unlock"); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrCancelled) || !Retryable(ErrFailed) {
		t.Error("cancel and failure should be retryable")
	}
	if Retryable(ErrUnavailable) {
		t.Error("unavailable should not be retryable")
	}
}

func TestGateFunc(t *testing.T) {
	var got string
	gate := GateFunc(func(_ context.Context, reason string) error {
		got = reason
		return ErrCancelled
	})

	if err := gate.Authenticate(context.Background(), "why"); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if got != "why" {
		t.Errorf("expected reason passed through, got %q", got)
	}
}
