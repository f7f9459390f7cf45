package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required size for the encryption key (32 bytes for AES-256)
	KeySize = 32
)

var ErrInvalidKeySize = errors.New("invalid key size: must be 32 bytes for AES-256")

// TokenCipher encrypts and decrypts token strings for at-rest storage using
// AES-256-GCM. Each blob carries its own random nonce, so the same plaintext
// encrypts to a different blob every time.
//
// Operational invariant: the key must never change once blobs are stored, or
// every stored token becomes undecryptable.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a TokenCipher from a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext into a base64 blob of nonce || ciphertext.
// An empty plaintext maps to an empty blob.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. The boolean result distinguishes
// "no token" from a decrypted empty string: an empty, malformed, or tampered
// blob yields ok=false, never an error a caller could confuse with a token.
func (c *TokenCipher) Decrypt(blob string) (plaintext string, ok bool) {
	if blob == "" {
		return "", false
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", false
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", false
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	out, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false
	}
	return string(out), true
}
