// File: internal/infra/security/content_cipher.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "enc:v1:"

var ErrCiphertext = errors.New("invalid sealed content")

// ContentCipher seals message content at rest with AES-GCM. The row id is bound as
// additional data so sealed content cannot be moved between rows.
type ContentCipher struct {
	gcm cipher.AEAD
}

// NewContentCipher accepts a 16, 24 or 32 byte key (AES-128/192/256).
func NewContentCipher(key string) (*ContentCipher, error) {
	k := []byte(key)
	if n := len(k); n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &ContentCipher{gcm: gcm}, nil
}

// Seal returns "enc:v1:" + base64(nonce || ciphertext).
func (c *ContentCipher) Seal(plaintext, rowID string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(rowID))
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged so rows
// written before encryption was enabled stay readable.
func (c *ContentCipher) Open(stored, rowID string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrCiphertext
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], []byte(rowID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(pt), nil
}
