package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLen   = 32 // AES-256
	nonceLen = 12
	hkdfInfo = "legacy-capsule/secret-codec"
)

// ErrMissingKey is returned when the codec is constructed without a key.
var ErrMissingKey = errors.New("encryption key is required")

// SecretCodec encrypts custodial signing secrets before they are persisted.
// It is safe for concurrent use.
type SecretCodec struct {
	aead cipher.AEAD
}

// NewSecretCodec derives an AES-256-GCM key from masterKey.
func NewSecretCodec(masterKey string) (*SecretCodec, error) {
	if masterKey == "" {
		return nil, ErrMissingKey
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretCodec{aead: aesGCM}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext).
func (c *SecretCodec) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceLen, nonceLen+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptString is Encrypt for string secrets such as base58 private keys.
func (c *SecretCodec) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}
