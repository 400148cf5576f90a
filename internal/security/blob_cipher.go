// Package security holds the at-rest encryption used for prescription
// documents and patient identifying fields.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// IVSize is the length of the per-document initialization vector.
const IVSize = 16

// ErrDecryption is returned when a ciphertext/IV pair does not authenticate
// under the configured key.
var ErrDecryption = errors.New("decryption failed")

// BlobCipher encrypts binary payloads with AES-256-GCM using a random 16-byte
// IV per call. The IV is returned separately so it can be stored next to the
// ciphertext.
type BlobCipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewBlobCipher creates a BlobCipher with the given 32-byte key.
func NewBlobCipher(key []byte) (*BlobCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("blob cipher: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob cipher: create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("blob cipher: create GCM: %w", err)
	}
	return &BlobCipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a freshly generated IV.
func (c *BlobCipher) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, nil, fmt.Errorf("blob cipher: generate iv: %w", err)
	}
	return c.aead.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext sealed by Encrypt. Any mismatch (wrong key, wrong
// IV, truncated or modified data) yields ErrDecryption and no plaintext.
func (c *BlobCipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryption, IVSize, len(iv))
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}
