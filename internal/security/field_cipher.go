package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// FieldCipher provides field-level encryption for short PHI strings (patient
// names, id numbers, diagnoses) plus a keyed blind index so encrypted values
// can still be looked up by equality.
type FieldCipher struct {
	aead     cipher.AEAD
	indexKey []byte
}

// NewFieldCipher creates a FieldCipher. encKey must be 32 bytes; indexKey
// must be non-empty.
func NewFieldCipher(encKey, indexKey []byte) (*FieldCipher, error) {
	if len(encKey) != 32 {
		return nil, fmt.Errorf("field cipher: key must be 32 bytes, got %d", len(encKey))
	}
	if len(indexKey) == 0 {
		return nil, fmt.Errorf("field cipher: index key is required")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create GCM: %w", err)
	}
	return &FieldCipher{aead: aead, indexKey: indexKey}, nil
}

// Encrypt returns base64(nonce || ciphertext). Empty input stays empty.
func (f *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("field encrypt: generate nonce: %w", err)
	}
	sealed := f.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (f *FieldCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", ErrDecryption, err)
	}
	nonceSize := f.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	plaintext, err := f.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// BlindIndex returns a deterministic HMAC-SHA256 of value, hex encoded.
func (f *FieldCipher) BlindIndex(value string) string {
	mac := hmac.New(sha256.New, f.indexKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
