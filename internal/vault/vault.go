// Package vault seals and opens the API key payload under a device-local
// master key kept in the OS keystore.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/singleflight"

	"github.com/benaskins/lockbox/internal/aead"
	"github.com/benaskins/lockbox/internal/keychain"
)

const (
	// MasterKeyEntry holds the base64 master key.
	MasterKeyEntry = "master_key"
	// PayloadEntry holds the JSON-encoded EncryptedPayload.
	PayloadEntry = "api_key_encrypted"
	// PayloadVersion is the only payload format this package reads and writes.
	PayloadVersion = 1
)

var (
	// ErrNotFound means no payload has been stored yet.
	ErrNotFound = errors.New("api key not set")
	// ErrCorrupt means the stored payload or master key is malformed.
	ErrCorrupt = errors.New("stored api key is corrupt")
	// ErrAuthFailed means the payload did not authenticate under the master key.
	ErrAuthFailed = errors.New("stored api key failed authentication")
	// ErrKeyringUnavailable means the durable store could not be reached.
	ErrKeyringUnavailable = errors.New("keyring unavailable")
)

// EncryptedPayload is the persisted form of the sealed API key.
type EncryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (p *EncryptedPayload) decode() (nonce, sealed []byte, err error) {
	if p.Version != PayloadVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, p.Version)
	}
	nonce, err = base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil || len(nonce) != aead.NonceSize {
		return nil, nil, fmt.Errorf("%w: invalid nonce", ErrCorrupt)
	}
	sealed, err = base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil || len(sealed) < aead.Overhead {
		return nil, nil, fmt.Errorf("%w: invalid ciphertext", ErrCorrupt)
	}
	return nonce, sealed, nil
}

// Vault owns the master key and the sealed payload.
type Vault struct {
	store  keychain.Store
	keys   singleflight.Group
	logger *slog.Logger
}

// New creates a vault on top of the given keystore.
func New(store keychain.Store) *Vault {
	return &Vault{
		store:  store,
		logger: slog.With("component", "vault"),
	}
}

// EnsureMasterKey creates the master key if it does not exist yet.
// It never prompts and is safe to call concurrently from any number of
// goroutines or lockbox processes.
func (v *Vault) EnsureMasterKey(ctx context.Context) error {
	key, err := v.masterKey(ctx, true)
	if err != nil {
		return err
	}
	key.Destroy()
	return nil
}

// Seal encrypts plaintext under the master key and persists it, replacing
// any previous payload only once the new one is ready.
func (v *Vault) Seal(ctx context.Context, plaintext []byte) (*EncryptedPayload, error) {
	key, err := v.masterKey(ctx, true)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	nonce, sealed, err := aead.Encrypt(key.Bytes(), plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing api key: %w", err)
	}

	p := &EncryptedPayload{
		Version:    PayloadVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if err := v.store.Set(PayloadEntry, string(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyringUnavailable, err)
	}

	v.logger.Info("api key sealed", "version", p.Version)
	return p, nil
}

// Open decrypts p and returns the plaintext in a locked buffer. The caller
// must Destroy it.
func (v *Vault) Open(ctx context.Context, p *EncryptedPayload) (*memguard.LockedBuffer, error) {
	nonce, sealed, err := p.decode()
	if err != nil {
		return nil, err
	}

	key, err := v.masterKey(ctx, false)
	if err != nil {
		if errors.Is(err, keychain.ErrNotFound) {
			// A payload without its key can never be opened again.
			return nil, fmt.Errorf("%w: master key missing", ErrAuthFailed)
		}
		return nil, err
	}
	defer key.Destroy()

	plaintext, err := aead.Decrypt(key.Bytes(), nonce, sealed)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if !utf8.Valid(plaintext) {
		memguard.WipeBytes(plaintext)
		return nil, fmt.Errorf("%w: invalid utf-8", ErrCorrupt)
	}
	return memguard.NewBufferFromBytes(plaintext), nil
}

// Load reads the stored payload.
func (v *Vault) Load(ctx context.Context) (*EncryptedPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := v.store.Get(PayloadEntry)
	if err != nil {
		if errors.Is(err, keychain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrKeyringUnavailable, err)
	}

	var p EncryptedPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &p, nil
}

// OpenStored loads and opens the stored payload.
func (v *Vault) OpenStored(ctx context.Context) (*memguard.LockedBuffer, error) {
	p, err := v.Load(ctx)
	if err != nil {
		return nil, err
	}
	return v.Open(ctx, p)
}

// Exists reports whether a payload has been stored. Malformed payloads
// count as present; opening them reports the corruption.
func (v *Vault) Exists(ctx context.Context) (bool, error) {
	_, err := v.Load(ctx)
	switch {
	case err == nil, errors.Is(err, ErrCorrupt):
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// masterKey returns the decoded master key in a locked buffer. With create
// set, a missing key is generated and stored with create-if-absent; losing
// that race to another writer adopts the winner's key.
func (v *Vault) masterKey(ctx context.Context, create bool) (*memguard.LockedBuffer, error) {
	flight := "get"
	if create {
		flight = "ensure"
	}
	ch := v.keys.DoChan(flight, func() (any, error) {
		return v.loadMasterKey(create)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	raw, err := base64.StdEncoding.DecodeString(res.Val.(string))
	if err != nil || len(raw) != aead.KeySize {
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("%w: invalid master key", ErrCorrupt)
	}
	return memguard.NewBufferFromBytes(raw), nil
}

func (v *Vault) loadMasterKey(create bool) (string, error) {
	encoded, err := v.store.Get(MasterKeyEntry)
	if err == nil {
		return encoded, nil
	}
	if !errors.Is(err, keychain.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrKeyringUnavailable, err)
	}
	if !create {
		return "", err
	}

	raw, err := aead.GenerateKey()
	if err != nil {
		return "", err
	}
	encoded = base64.StdEncoding.EncodeToString(raw)
	memguard.WipeBytes(raw)

	err = v.store.Create(MasterKeyEntry, encoded)
	switch {
	case err == nil:
		v.logger.Info("master key created")
		return encoded, nil
	case errors.Is(err, keychain.ErrExists):
		v.logger.Debug("master key created concurrently, adopting existing key")
		encoded, err = v.store.Get(MasterKeyEntry)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrKeyringUnavailable, err)
		}
		return encoded, nil
	default:
		return "", fmt.Errorf("%w: %w", ErrKeyringUnavailable, err)
	}
}
