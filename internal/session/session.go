// Package session owns the in-memory lock state of the API key.
//
// A Session is the single writer of the NotSet/Locked/Unlocked state and of
// the decrypted key, which lives in a memguard LockedBuffer while Unlocked
// and is destroyed (wiped) on every transition out of Unlocked. Any
// operation that exposes plaintext first passes the biometric gate.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/awnumar/memguard"

	"github.com/benaskins/lockbox/internal/audit"
	"github.com/benaskins/lockbox/internal/biometric"
	"github.com/benaskins/lockbox/internal/vault"
)

var (
	// ErrMissingAPIKey means the key is not available in memory. Transports
	// must treat it as "cannot authenticate", never as a network fault.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrNotSet means there is no stored key to unlock.
	ErrNotSet = errors.New("api key not set")
	// ErrInvalidAPIKey means the supplied key is empty or not valid UTF-8.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrClosed means the session was shut down.
	ErrClosed = errors.New("session closed")
	// ErrInterrupted means the session was locked while an unlock was
	// waiting on the prompt. Retrying is safe.
	ErrInterrupted = errors.New("unlock interrupted by lock")
)

// Prompt reasons shown by the platform dialog.
const (
	reasonSet    = "Store the API key"
	reasonUnlock = "Unlock the API key"
)

// Vault is the credential store the session seals into and opens from.
type Vault interface {
	Exists(ctx context.Context) (bool, error)
	Seal(ctx context.Context, plaintext []byte) (*vault.EncryptedPayload, error)
	OpenStored(ctx context.Context) (*memguard.LockedBuffer, error)
}

// Session is the guarded API key state machine.
type Session struct {
	vault  Vault
	gate   biometric.Gate
	audit  audit.Recorder
	now    func() time.Time
	logger *slog.Logger

	// opMu serializes Set and Unlock across their suspension points.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	key        *memguard.LockedBuffer
	unlockedAt time.Time
	closed     bool
	// lockEpoch is bumped by every clear. Set and Unlock only transition
	// to Unlocked if it is unchanged since before their prompt.
	lockEpoch uint64
}

// Option configures a Session.
type Option func(*Session)

// WithAudit records session transitions.
func WithAudit(rec audit.Recorder) Option {
	return func(s *Session) {
		s.audit = rec
	}
}

// WithClock replaces time.Now for unlock timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a session. The initial state is derived from whether a
// payload exists; it never prompts.
func New(ctx context.Context, v Vault, gate biometric.Gate, opts ...Option) (*Session, error) {
	s := &Session{
		vault:  v,
		gate:   gate,
		audit:  audit.Discard,
		now:    time.Now,
		logger: slog.With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}

	exists, err := v.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("determining initial state: %w", err)
	}
	if exists {
		s.state = Locked
	}
	s.logger.Info("session initialised", "state", s.state)
	return s, nil
}

// Set stores a new API key after a successful biometric assertion and
// leaves the session Unlocked with it. A denied prompt or failed seal leaves
// the previous payload and state untouched. key is wiped on every path.
// If the session is cleared while the prompt is open, the new payload is
// still stored but the session ends Locked.
func (s *Session) Set(ctx context.Context, key []byte) error {
	defer memguard.WipeBytes(key)

	if len(bytes.TrimSpace(key)) == 0 || !utf8.Valid(key) {
		return ErrInvalidAPIKey
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	epoch := s.epoch()

	if err := s.gate.Authenticate(ctx, reasonSet); err != nil {
		s.denied(ctx, err)
		return fmt.Errorf("set api key: %w", err)
	}

	buf := memguard.NewBufferFromBytes(key)
	if _, err := s.vault.Seal(ctx, buf.Bytes()); err != nil {
		buf.Destroy()
		s.logger.Warn("sealing api key failed", "error", err)
		return fmt.Errorf("set api key: %w", err)
	}
	buf.Freeze()

	err := s.transitionUnlocked(buf, epoch)
	switch {
	case errors.Is(err, ErrInterrupted):
		// The payload is stored; the lock that raced the prompt wins.
		s.record(audit.Entry{Action: audit.ActionSessionSet, RequestID: audit.RequestID(ctx)})
		s.logger.Info("api key stored, session stays locked")
		return nil
	case err != nil:
		return err
	}
	s.record(audit.Entry{Action: audit.ActionSessionSet, RequestID: audit.RequestID(ctx)})
	s.logger.Info("api key stored, session unlocked")
	return nil
}

// Unlock decrypts the stored key after a successful biometric assertion.
// It is a no-op when already Unlocked and fails with ErrNotSet when nothing
// was ever stored. A denied prompt leaves the session Locked and returns an
// error wrapping the biometric sentinel. A clear that lands while the
// prompt is open wins: the decrypted key is destroyed and ErrInterrupted
// is returned.
func (s *Session) Unlock(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	switch s.Status() {
	case NotSet:
		return ErrNotSet
	case Unlocked:
		return nil
	}
	epoch := s.epoch()

	if err := s.gate.Authenticate(ctx, reasonUnlock); err != nil {
		s.denied(ctx, err)
		return fmt.Errorf("unlock: %w", err)
	}

	buf, err := s.vault.OpenStored(ctx)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			s.mu.Lock()
			s.state = NotSet
			s.mu.Unlock()
			return ErrNotSet
		}
		s.logger.Warn("opening api key failed", "error", err)
		return fmt.Errorf("unlock: %w", err)
	}
	buf.Freeze()

	if err := s.transitionUnlocked(buf, epoch); err != nil {
		if errors.Is(err, ErrInterrupted) {
			s.logger.Info("unlock discarded, session locked during prompt")
		}
		return err
	}
	s.record(audit.Entry{Action: audit.ActionSessionUnlock, RequestID: audit.RequestID(ctx)})
	s.logger.Info("session unlocked")
	return nil
}

// ReadForRequest returns the cached key if Unlocked, else ErrMissingAPIKey.
// It is meant for the backend transport only and must never reach the UI.
func (s *Session) ReadForRequest() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Unlocked || s.key == nil {
		return "", ErrMissingAPIKey
	}
	return string(s.key.Bytes()), nil
}

// WithAPIKey calls fn with the cached key. The slice is only valid inside
// fn, must not be retained or modified, and fn must not call back into the
// session.
func (s *Session) WithAPIKey(fn func(key []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Unlocked || s.key == nil {
		return ErrMissingAPIKey
	}
	return fn(s.key.Bytes())
}

// Clear destroys the cached key and moves Unlocked to Locked. It is
// idempotent and a no-op in NotSet or Locked.
func (s *Session) Clear() {
	s.ClearFor("manual")
}

// ClearFor is Clear with the trigger recorded in the audit log. A Set or
// Unlock waiting on its prompt will not unlock once ClearFor has run.
func (s *Session) ClearFor(trigger string) {
	s.mu.Lock()
	s.lockEpoch++
	if s.state != Unlocked {
		s.mu.Unlock()
		return
	}
	s.key.Destroy()
	s.key = nil
	s.state = Locked
	s.unlockedAt = time.Time{}
	s.mu.Unlock()

	s.record(audit.Entry{Action: audit.ActionSessionLock, Trigger: trigger})
	s.logger.Info("session locked", "trigger", trigger)
}

// Close clears the session and refuses further Set and Unlock calls.
func (s *Session) Close() {
	s.ClearFor("exit")
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Status returns the current state without side effects.
func (s *Session) Status() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the current state and unlock time.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, UnlockedAt: s.unlockedAt}
}

// transitionUnlocked caches buf and moves to Unlocked, unless the session
// was closed or cleared after epoch was read. Either way buf is owned here.
func (s *Session) transitionUnlocked(buf *memguard.LockedBuffer, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		buf.Destroy()
		return ErrClosed
	}
	if s.lockEpoch != epoch {
		buf.Destroy()
		if s.state == NotSet {
			// A Set from NotSet has already persisted its payload.
			s.state = Locked
		}
		return ErrInterrupted
	}
	if s.key != nil {
		s.key.Destroy()
	}
	s.key = buf
	s.state = Unlocked
	s.unlockedAt = s.now()
	return nil
}

func (s *Session) epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockEpoch
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) denied(ctx context.Context, err error) {
	s.logger.Info("biometric assertion denied", "error", err, "retryable", biometric.Retryable(err))
	s.record(audit.Entry{Action: audit.ActionBiometricDenied, RequestID: audit.RequestID(ctx), Error: err.Error()})
}

func (s *Session) record(e audit.Entry) {
	if e.Actor == "" {
		e.Actor = "daemon"
	}
	if err := s.audit.Log(e); err != nil {
		s.logger.Warn("audit log write failed", "action", e.Action, "error", err)
	}
}
