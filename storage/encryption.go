package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Encryptor provides transparent at-rest encryption for medical-content
// fields (file bytes, original/translated text) plus a deterministic
// searchable hash for columns that must support equality lookups without
// decrypting every row.
//
// No available library wraps AES-GCM field encryption with a companion
// blind-index hash, so this is built on crypto/aes + crypto/cipher
// (stdlib) rather than a third-party package. See DESIGN.md.
type Encryptor struct {
	gcm     cipher.AEAD
	enabled bool
}

// NewEncryptor builds an AES-256-GCM encryptor from a hex or raw 32-byte
// key. When enabled is false, Encrypt/Decrypt are no-ops so the storage
// layer can run unencrypted in local development (ENCRYPTION_ENABLED=false).
func NewEncryptor(key string, enabled bool) (*Encryptor, error) {
	if !enabled {
		return &Encryptor{enabled: false}, nil
	}
	keyBytes, err := decodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid encryption key: %w", err)
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("storage: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage: building GCM mode: %w", err)
	}
	return &Encryptor{gcm: gcm, enabled: true}, nil
}

func decodeKey(key string) ([]byte, error) {
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, errors.New("key must be 32 bytes, or 64 hex characters encoding 32 bytes")
}

// Encrypt returns nonce||ciphertext. A nil plaintext round-trips to nil,
// while an empty non-nil plaintext is encrypted, so "no value yet" stays
// distinguishable from "empty value".
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if !e.enabled || plaintext == nil {
		return plaintext, nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("storage: generating nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if !e.enabled || ciphertext == nil {
		return ciphertext, nil
	}
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("storage: ciphertext too short")
	}
	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return e.gcm.Open(nil, nonce, data, nil)
}

// EncryptString is a convenience wrapper for text columns.
func (e *Encryptor) EncryptString(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	return e.Encrypt([]byte(plaintext))
}

// DecryptString is a convenience wrapper for text columns.
func (e *Encryptor) DecryptString(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plain, err := e.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SearchableHash returns a deterministic SHA-256 hex digest suitable for a
// companion `*_searchable` column, letting the repository layer query by
// equality without ever decrypting the stored value.
func SearchableHash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
