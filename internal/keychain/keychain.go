// Package keychain provides durable secret storage backed by the OS keystore.
//
// On macOS entries are stored as generic passwords with:
//   - Service: "com.lockbox" (configurable)
//   - Account: the entry name (e.g. "api_key_encrypted")
//   - Label: "lockbox: <name>" (for Keychain Access.app visibility)
//
// Entries are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
// Other platforms use the Secret Service (Linux) or Credential Manager
// (Windows) through go-keyring.
package keychain

import "errors"

// ServiceName is the default keystore service for all lockbox entries.
const ServiceName = "com.lockbox"

var (
	// ErrNotFound is returned when an entry does not exist in the store.
	ErrNotFound = errors.New("entry not found")

	// ErrExists is returned by Create when the entry is already present.
	ErrExists = errors.New("entry already exists")
)

// Store is an opaque durable string key/value store.
//
// Any error other than ErrNotFound or ErrExists means the backing store
// could not be reached.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	// Create stores value only if key is absent and returns ErrExists otherwise.
	Create(key, value string) error
}
