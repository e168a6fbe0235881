// Package crypto seals cached aggregate payloads at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrInvalidKey indicates the key is not 16, 24 or 32 bytes.
	ErrInvalidKey = errors.New("invalid encryption key: must be 16, 24, or 32 bytes")
	// ErrInvalidCiphertext indicates the payload is shorter than a nonce.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed indicates authentication of the payload failed.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Sealer encrypts and decrypts payloads.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// NewSealer returns an AES-GCM sealer for a non-empty key and a passthrough
// sealer otherwise. The key is base64 or raw bytes.
func NewSealer(key string) (Sealer, error) {
	if key == "" {
		return Plain{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		raw = []byte(key)
	}
	return NewAESGCM(raw)
}

// AESGCM seals with AES-GCM and a random nonce prefix.
type AESGCM struct {
	gcm cipher.AEAD
}

// NewAESGCM creates a sealer from a raw key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{gcm: gcm}, nil
}

func (a *AESGCM) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return a.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (a *AESGCM) Open(ciphertext []byte) ([]byte, error) {
	n := a.gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := a.gcm.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Plain passes payloads through unchanged.
type Plain struct{}

func (Plain) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (Plain) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// GenerateKey returns a random base64 key of size bytes.
func GenerateKey(size int) (string, error) {
	switch size {
	case 16, 24, 32:
	default:
		return "", ErrInvalidKey
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
