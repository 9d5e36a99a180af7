// Package aead seals and opens small payloads with ChaCha20-Poly1305.
//
// Every Encrypt call draws a fresh 96-bit nonce from crypto/rand; nonces are
// never derived or counted. Decrypt fails closed with ErrAuthFailed and
// never returns partial plaintext. Callers own the returned plaintext and
// must wipe it when done.
package aead

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the master key length in bytes.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the per-message nonce length in bytes.
	NonceSize = chacha20poly1305.NonceSize
	// Overhead is the authentication tag length appended to each ciphertext.
	Overhead = chacha20poly1305.Overhead
)

// ErrAuthFailed is the single error returned for any decryption failure.
var ErrAuthFailed = errors.New("authentication failed")

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under key and returns the random nonce and the
// ciphertext with its tag appended.
func Encrypt(key, plaintext []byte) (nonce, sealed []byte, err error) {
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, c.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens sealed under key and nonce.
func Decrypt(key, nonce, sealed []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(sealed) < Overhead {
		return nil, ErrAuthFailed
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrAuthFailed
	}
	plaintext, err := c.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
