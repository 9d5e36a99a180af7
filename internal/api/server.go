package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/benaskins/lockbox/internal/audit"
	"github.com/benaskins/lockbox/internal/backend"
	"github.com/benaskins/lockbox/internal/biometric"
	"github.com/benaskins/lockbox/internal/lifecycle"
	"github.com/benaskins/lockbox/internal/session"
	"github.com/benaskins/lockbox/internal/vault"
)

const (
	// RequestIDHeader carries the per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	defaultEventWait = 30 * time.Second
	maxBodyBytes     = 64 << 10
)

// Session is the session surface the API drives.
type Session interface {
	Set(ctx context.Context, key []byte) error
	Unlock(ctx context.Context) error
	Clear()
	Snapshot() session.Snapshot
}

// Coordinator is the lifecycle surface the API drives.
type Coordinator interface {
	Notify(ctx context.Context, ev lifecycle.Event) error
	Signals() <-chan lifecycle.Signal
}

// Backend checks the authenticated backend.
type Backend interface {
	Health(ctx context.Context) (string, error)
}

// Server serves the lockbox REST API over a Unix socket.
type Server struct {
	session     Session
	coordinator Coordinator
	backend     Backend
	unlocks     *rate.Limiter
	eventWait   time.Duration
	listener    net.Listener
	server      *http.Server
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithUnlockLimit limits unlock attempts to r per second with the given burst.
func WithUnlockLimit(r rate.Limit, burst int) Option {
	return func(s *Server) {
		s.unlocks = rate.NewLimiter(r, burst)
	}
}

// WithEventWait sets how long GET /v1/events waits before returning 204.
func WithEventWait(d time.Duration) Option {
	return func(s *Server) {
		s.eventWait = d
	}
}

// NewServer creates an API server for the given session and coordinator.
// b may be nil when no backend is configured.
func NewServer(sess Session, coord Coordinator, b Backend, opts ...Option) *Server {
	s := &Server{
		session:     sess,
		coordinator: coord,
		backend:     b,
		unlocks:     rate.NewLimiter(rate.Every(2*time.Second), 5),
		eventWait:   defaultEventWait,
		logger:      slog.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("PUT /v1/apikey", s.setAPIKey)
	mux.HandleFunc("POST /v1/unlock", s.unlock)
	mux.HandleFunc("POST /v1/lock", s.lock)
	mux.HandleFunc("POST /v1/lifecycle/{event}", s.lifecycleEvent)
	mux.HandleFunc("GET /v1/events", s.events)
	mux.HandleFunc("GET /v1/backend/health", s.backendHealth)

	s.server = &http.Server{
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address. The API is not
// authenticated, so only loopback addresses are accepted.
func (s *Server) ListenTCP(addr string) error {
	if err := loopbackOnly(addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// ErrNotLoopback is returned by ListenTCP for addresses reachable from
// other hosts.
var ErrNotLoopback = errors.New("api address must be loopback")

func loopbackOnly(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("api address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrNotLoopback, addr)
	}
	return nil
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	defer memguard.WipeBytes(body)

	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", errors.New("invalid request body"))
		return
	}

	// Set wipes the byte copy on every path.
	if err := s.session.Set(r.Context(), []byte(req.APIKey)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	if !s.unlocks.Allow() {
		s.writeError(w, r, http.StatusTooManyRequests, "rate_limited", errors.New("too many unlock attempts"))
		return
	}
	if err := s.session.Unlock(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) lifecycleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := lifecycle.ParseEvent(r.PathValue("event"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.coordinator.Notify(r.Context(), ev); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event": ev.String()})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	timer := time.NewTimer(s.eventWait)
	defer timer.Stop()

	select {
	case sig := <-s.coordinator.Signals():
		writeJSON(w, http.StatusOK, map[string]string{"signal": string(sig)})
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (s *Server) backendHealth(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		s.fail(w, r, backend.ErrNotConfigured)
		return
	}
	status, err := s.backend.Health(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorCode(err)
	s.writeError(w, r, status, code, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"code", code,
		"request_id", audit.RequestID(r.Context()),
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

// errorCode maps an error to its HTTP status and API code. Order matters:
// transport errors wrap session sentinels.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrMissingAPIKey):
		return http.StatusLocked, "missing_api_key"
	case errors.Is(err, session.ErrNotSet), errors.Is(err, vault.ErrNotFound):
		return http.StatusConflict, "not_set"
	case errors.Is(err, session.ErrInvalidAPIKey):
		return http.StatusBadRequest, "invalid_api_key"
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrInterrupted):
		return http.StatusServiceUnavailable, "interrupted"
	case errors.Is(err, biometric.ErrUnavailable):
		return http.StatusPreconditionFailed, "biometric_unavailable"
	case errors.Is(err, biometric.ErrCancelled):
		return http.StatusUnauthorized, "biometric_cancelled"
	case errors.Is(err, biometric.ErrFailed):
		return http.StatusUnauthorized, "biometric_failed"
	case errors.Is(err, vault.ErrKeyringUnavailable):
		return http.StatusServiceUnavailable, "keyring_unavailable"
	case errors.Is(err, vault.ErrCorrupt):
		return http.StatusInternalServerError, "corrupt"
	case errors.Is(err, vault.ErrAuthFailed):
		return http.StatusInternalServerError, "auth_failed"
	case errors.Is(err, backend.ErrAPIKeyRejected):
		return http.StatusBadGateway, "api_key_rejected"
	case errors.Is(err, backend.ErrUnreachable), errors.Is(err, backend.ErrNotConfigured):
		return http.StatusBadGateway, "backend_unreachable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "interrupted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
