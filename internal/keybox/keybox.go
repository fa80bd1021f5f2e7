// Package keybox seals private key material at rest. Values are encrypted
// with AES-256-GCM under a single process-wide key; every row gets a fresh
// random nonce, stored alongside the ciphertext.
package keybox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SecretLen is the length of the process key in bytes.
const SecretLen = 32

// ErrKeyEncryption covers every envelope failure: AEAD errors, truncated or
// tampered ciphertext, and nonce size mismatches. Callers must not surface
// the underlying detail.
var ErrKeyEncryption = errors.New("key encryption failed")

// ParseSecret decodes the operator-supplied hex key (64 hex characters).
func ParseSecret(s string) ([SecretLen]byte, error) {
	var out [SecretLen]byte
	s = strings.TrimSpace(s)
	if len(s) != SecretLen*2 {
		return out, fmt.Errorf("key secret must be exactly %d hex characters (%d bytes)", SecretLen*2, SecretLen)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("key secret is not valid hex: %w", err)
	}
	copy(out[:], raw)
	return out, nil
}

// Box encrypts and decrypts envelope values. Safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from the 32-byte process key.
func New(secret [SecretLen]byte) (*Box, error) {
	block, err := aes.NewCipher(secret[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plain under a fresh random nonce and returns both parts.
func (b *Box) Seal(plain []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: nonce: %v", ErrKeyEncryption, err)
	}
	return b.aead.Seal(nil, nonce, plain, nil), nonce, nil
}

// Open decrypts a sealed value. Any mismatch in nonce length or ciphertext
// integrity yields ErrKeyEncryption.
func (b *Box) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != b.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrKeyEncryption, len(nonce))
	}
	plain, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrKeyEncryption
	}
	return plain, nil
}
