//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemStore stores entries in the macOS Keychain.
type SystemStore struct {
	service string
}

// NewSystemStore creates a Keychain-backed store for the given service.
// An empty service uses ServiceName.
func NewSystemStore(service string) *SystemStore {
	if service == "" {
		service = ServiceName
	}
	return &SystemStore{service: service}
}

// Get retrieves an entry from the Keychain.
func (s *SystemStore) Get(key string) (string, error) {
	data, err := gokeychain.GetGenericPassword(s.service, key, "", "")
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("keychain get %q: %w", key, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return string(data), nil
}

// Set stores an entry, updating it in place when it already exists so the
// old value survives a failed write.
func (s *SystemStore) Set(key, value string) error {
	query := gokeychain.NewItem()
	query.SetSecClass(gokeychain.SecClassGenericPassword)
	query.SetService(s.service)
	query.SetAccount(key)

	update := gokeychain.NewItem()
	update.SetData([]byte(value))

	err := gokeychain.UpdateItem(query, update)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("keychain update %q: %w", key, err)
	}

	err = s.Create(key, value)
	if errors.Is(err, ErrExists) {
		// Another writer added the item between our update and add.
		if err := gokeychain.UpdateItem(query, update); err != nil {
			return fmt.Errorf("keychain update %q: %w", key, err)
		}
		return nil
	}
	return err
}

// Create adds an entry. The Keychain rejects duplicates atomically, which
// makes this safe against concurrent writers in other processes.
func (s *SystemStore) Create(key, value string) error {
	item := gokeychain.NewGenericPassword(
		s.service,
		key,
		fmt.Sprintf("lockbox: %s", key),
		[]byte(value),
		"",
	)
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)

	if err := gokeychain.AddItem(item); err != nil {
		if errors.Is(err, gokeychain.ErrorDuplicateItem) {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("keychain add %q: %w", key, err)
	}
	return nil
}
