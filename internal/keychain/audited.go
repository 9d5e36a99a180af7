package keychain

import (
	"errors"
	"fmt"

	"github.com/benaskins/lockbox/internal/audit"
)

// AuditedStore wraps a Store and records every access in the audit log.
// Only entry names are recorded, never values.
type AuditedStore struct {
	inner Store
	audit audit.Recorder
	actor string // "cli" or "daemon"
}

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, rec audit.Recorder, actor string) *AuditedStore {
	return &AuditedStore{
		inner: inner,
		audit: rec,
		actor: actor,
	}
}

func (s *AuditedStore) Get(key string) (string, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		// A missing entry is an expected answer, not an access.
		if !errors.Is(err, ErrNotFound) {
			s.record(audit.ActionEntryRead, key, err)
		}
		return "", fmt.Errorf("audited store get: %w", err)
	}

	s.record(audit.ActionEntryRead, key, nil)
	return val, nil
}

func (s *AuditedStore) Set(key, value string) error {
	if err := s.inner.Set(key, value); err != nil {
		s.record(audit.ActionEntryWrite, key, err)
		return fmt.Errorf("audited store set: %w", err)
	}

	s.record(audit.ActionEntryWrite, key, nil)
	return nil
}

func (s *AuditedStore) Create(key, value string) error {
	if err := s.inner.Create(key, value); err != nil {
		if !errors.Is(err, ErrExists) {
			s.record(audit.ActionEntryCreate, key, err)
		}
		return fmt.Errorf("audited store create: %w", err)
	}

	s.record(audit.ActionEntryCreate, key, nil)
	return nil
}

func (s *AuditedStore) record(action audit.Action, key string, err error) {
	e := audit.Entry{
		Action: action,
		Key:    key,
		Actor:  s.actor,
	}
	if err != nil {
		e.Error = err.Error()
	}
	// Audit failures never fail the keystore operation.
	s.audit.Log(e)
}
