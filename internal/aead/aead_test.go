package aead

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestGenerateKeyUnique(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)

	if len(k1) != KeySize || len(k2) != KeySize {
		t.Fatalf("expected %d byte keys, got %d and %d", KeySize, len(k1), len(k2))
	}
	if bytes.Equal(k1, k2) {
		t.Error("expected distinct keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	for _, pt := range []string{"", "sk-test-123", string(bytes.Repeat([]byte("x"), 4096))} {
		nonce, sealed, err := Encrypt(key, []byte(pt))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(nonce) != NonceSize {
			t.Fatalf("expected %d byte nonce, got %d", NonceSize, len(nonce))
		}
		if len(sealed) != len(pt)+Overhead {
			t.Errorf("expected sealed length %d, got %d", len(pt)+Overhead, len(sealed))
		}

		got, err := Decrypt(key, nonce, sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(got) != pt {
			t.Errorf("round trip mismatch for %d byte plaintext", len(pt))
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	nonce, sealed, _ := Encrypt(testKey(t), []byte("secret"))

	_, err := Decrypt(testKey(t), nonce, sealed)
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	key := testKey(t)
	nonce, sealed, _ := Encrypt(key, []byte("secret"))

	tests := []struct {
		name   string
		key    []byte
		nonce  []byte
		sealed []byte
	}{
		{"short key", key[:16], nonce, sealed},
		{"short nonce", key, nonce[:8], sealed},
		{"truncated", key, nonce, sealed[:len(sealed)-1]},
		{"shorter than tag", key, nonce, sealed[:Overhead-1]},
		{"empty", key, nonce, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := Decrypt(tt.key, tt.nonce, tt.sealed)
			if !errors.Is(err, ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
			if pt != nil {
				t.Errorf("expected no plaintext, got %d bytes", len(pt))
			}
		})
	}
}

func TestDecryptSingleBitFlips(t *testing.T) {
	key := testKey(t)
	nonce, sealed, _ := Encrypt(key, []byte("sk-test-123"))

	for i := 0; i < len(nonce)*8; i++ {
		n := bytes.Clone(nonce)
		n[i/8] ^= 1 << (i % 8)
		if _, err := Decrypt(key, n, sealed); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("nonce bit %d: expected ErrAuthFailed, got %v", i, err)
		}
	}
	for i := 0; i < len(sealed)*8; i++ {
		s := bytes.Clone(sealed)
		s[i/8] ^= 1 << (i % 8)
		if _, err := Decrypt(key, nonce, s); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("ciphertext bit %d: expected ErrAuthFailed, got %v", i, err)
		}
	}
}

func TestEncryptNoncesUnique(t *testing.T) {
	key := testKey(t)
	const n = 1000

	nonces := make(map[string]bool, n)
	sealed := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		nonce, ct, err := Encrypt(key, []byte("same plaintext"))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		nonces[string(nonce)] = true
		sealed[string(ct)] = true
	}

	if len(nonces) != n {
		t.Errorf("expected %d distinct nonces, got %d", n, len(nonces))
	}
	if len(sealed) != n {
		t.Errorf("expected %d distinct ciphertexts, got %d", n, len(sealed))
	}
}
