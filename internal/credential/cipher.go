package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyInput is returned for empty plaintext or ciphertext
var ErrEmptyInput = errors.New("input cannot be empty")

// Cipher encrypts stored mailbox passwords with AES-256-GCM.
// The key is the SHA-256 digest of the configured secret.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the key from secret
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret: %w", ErrEmptyInput)
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns base64(nonce || sealed)
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext: %w", ErrEmptyInput)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("ciphertext: %w", ErrEmptyInput)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	size := c.aead.NonceSize()
	if len(raw) < size {
		return "", fmt.Errorf("ciphertext too short")
	}

	plain, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
