package keychain

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLockPath is the advisory lock file that serializes Create across
// lockbox processes: ~/.lockbox/keystore.lock.
func DefaultLockPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "lockbox-keystore.lock")
	}
	return filepath.Join(home, ".lockbox", "keystore.lock")
}

// lockFile takes an exclusive advisory lock on path, blocking until it is
// free. The returned func releases it.
func lockFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := lockFD(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() {
		unlockFD(f)
		f.Close()
	}, nil
}
