//go:build !darwin

package keychain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// SystemStore stores entries in the platform keyring (Secret Service on
// Linux, Credential Manager on Windows).
type SystemStore struct {
	service string
	// The keyring API has no atomic add. Create is serialized in-process by
	// mu and across processes by an advisory lock on lockPath.
	mu       sync.Mutex
	lockPath string
}

// NewSystemStore creates a keyring-backed store for the given service.
// An empty service uses ServiceName.
func NewSystemStore(service string) *SystemStore {
	if service == "" {
		service = ServiceName
	}
	return &SystemStore{service: service, lockPath: DefaultLockPath()}
}

// Get retrieves an entry from the keyring.
func (s *SystemStore) Get(key string) (string, error) {
	val, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("keyring get %q: %w", key, err)
	}
	if val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// Set stores an entry, overwriting any previous value.
func (s *SystemStore) Set(key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("keyring set %q: %w", key, err)
	}
	return nil
}

// Create stores an entry only if it is absent. Writers in other lockbox
// processes are excluded by the lock file; the value is read back so a
// writer that bypassed the lock still yields ErrExists, not a lost update.
func (s *SystemStore) Create(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lockPath)
	if err != nil {
		return fmt.Errorf("keyring create %q: %w", key, err)
	}
	defer unlock()

	_, err = s.Get(key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrExists, key)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if err := s.Set(key, value); err != nil {
		return err
	}

	stored, err := s.Get(key)
	if err != nil {
		return err
	}
	if stored != value {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	return nil
}
