package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/benaskins/lockbox/internal/config"
	"github.com/benaskins/lockbox/internal/session"
)

// staticKeys lends a fixed key, or ErrMissingAPIKey when empty.
type staticKeys string

func (k staticKeys) WithAPIKey(fn func([]byte) error) error {
	if k == "" {
		return session.ErrMissingAPIKey
	}
	return fn([]byte(k))
}

func newTestClient(t *testing.T, srv *httptest.Server, keys KeySource) *Client {
	t.Helper()
	c, err := New(config.BackendConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, keys)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestHealthSendsBearerKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticKeys("sk-test-123"))
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("expected ok, got %q", status)
	}
	if gotAuth != "Bearer sk-test-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestMissingKeyIsNotANetworkFault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticKeys(""))
	_, err := c.Health(context.Background())
	if !errors.Is(err, session.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("missing key must not be reported as unreachable")
	}
	if hits.Load() != 0 {
		t.Error("request sent without a key")
	}
}

func TestRejectedKey(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := newTestClient(t, srv, staticKeys("sk-wrong"))
		_, err := c.Health(context.Background())
		if !errors.Is(err, ErrAPIKeyRejected) {
			t.Errorf("status %d: expected ErrAPIKeyRejected, got %v", code, err)
		}
		srv.Close()
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c := newTestClient(t, srv, staticKeys("sk-test-123"))
	srv.Close()

	_, err := c.Health(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if strings.Contains(err.Error(), "sk-test-123") {
		t.Error("error leaks the api key")
	}
}

func TestUnconfigured(t *testing.T) {
	c, err := New(config.BackendConfig{}, staticKeys("k"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Health(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.BackendConfig{BaseURL: "https://x.example", TimeoutSeconds: 0}, staticKeys("k")); err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestReconfigure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, _ := New(config.BackendConfig{}, staticKeys("k"))
	if err := c.Reconfigure(config.BackendConfig{BaseURL: srv.URL, TimeoutSeconds: 5}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if _, err := c.Health(context.Background()); err != nil {
		t.Errorf("Health after reconfigure: %v", err)
	}
}
