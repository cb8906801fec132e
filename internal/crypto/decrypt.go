package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrDecryptionFailed is returned for malformed ciphertext or a key mismatch.
var ErrDecryptionFailed = errors.New("decryption failed")

// Decrypt opens a value produced by Encrypt.
// Caller should zero the returned slice after use.
func (c *SecretCodec) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding", ErrDecryptionFailed)
	}
	if len(sealed) < nonceLen+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:nonceLen], sealed[nonceLen:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DecryptPrivateKey opens an encrypted base58 Solana private key.
func (c *SecretCodec) DecryptPrivateKey(encoded string) (solana.PrivateKey, error) {
	plaintext, err := c.Decrypt(encoded)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)

	key, err := solana.PrivateKeyFromBase58(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: not a base58 private key", ErrDecryptionFailed)
	}
	return key, nil
}
