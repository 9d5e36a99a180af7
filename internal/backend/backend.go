// Package backend is the HTTP transport for calls authenticated with the
// API key. The key is read from the session only for the duration of
// building each request and is never logged or returned.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/benaskins/lockbox/internal/config"
)

const bearerPrefix = "Bearer "

var (
	// ErrAPIKeyRejected means the backend refused the key (401/403).
	ErrAPIKeyRejected = errors.New("api key rejected")
	// ErrUnreachable means the request never produced an HTTP response.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrNotConfigured means no backend base URL has been set.
	ErrNotConfigured = errors.New("backend not configured")
)

// KeySource lends the API key for the duration of fn.
type KeySource interface {
	WithAPIKey(fn func(key []byte) error) error
}

// Client sends authenticated requests to the backend.
type Client struct {
	keys   KeySource
	logger *slog.Logger

	mu   sync.RWMutex
	base *url.URL
	http *http.Client
}

// New creates a client. An empty base URL leaves the client unconfigured
// until Reconfigure is called.
func New(cfg config.BackendConfig, keys KeySource) (*Client, error) {
	c := &Client{
		keys:   keys,
		logger: slog.With("component", "backend"),
	}
	if cfg.BaseURL == "" {
		return c, nil
	}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure validates and applies new backend settings.
func (c *Client) Reconfigure(cfg config.BackendConfig) error {
	if err := cfg.Sanitize(); err != nil {
		return err
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = base
	c.http = &http.Client{Timeout: cfg.Timeout()}
	c.logger.Info("backend configured", "base_url", base.Redacted(), "timeout", cfg.Timeout())
	return nil
}

// Do sends an authenticated request to path under the base URL.
// Errors wrap session.ErrMissingAPIKey when the session is locked,
// ErrAPIKeyRejected on 401/403 and ErrUnreachable on transport failure.
// The caller must close the response body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	c.mu.RLock()
	base, hc := c.base, c.http
	c.mu.RUnlock()
	if base == nil {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, base.JoinPath(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	err = c.keys.WithAPIKey(func(key []byte) error {
		req.Header.Set("Authorization", bearerPrefix+string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend %s %s: %w", method, path, err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, errors.Unwrap(err))
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		c.logger.Warn("backend rejected api key", "path", path, "status", resp.StatusCode)
		return nil, ErrAPIKeyRejected
	}
	return resp, nil
}

// Health calls the backend health endpoint and returns its status field.
func (c *Client) Health(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend health: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding health response: %w", err)
	}
	return body.Status, nil
}
