// One-off: rotate ENCRYPTION_KEY. Opens every stored wallet secret with the
// current key and seals it again under a new key read from the terminal.
// Usage: go run ./cmd/reencrypt_cipher
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/AlexZinkM/legacy-capsule/internal/config"
	"github.com/AlexZinkM/legacy-capsule/internal/crypto"
	"github.com/AlexZinkM/legacy-capsule/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	oldCodec, err := crypto.NewSecretCodec(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	newKey, err := config.PromptSecret("New encryption key: ")
	if err != nil {
		return err
	}
	defer clear(newKey)
	confirm, err := config.PromptSecret("Repeat new encryption key: ")
	if err != nil {
		return err
	}
	defer clear(confirm)
	if !bytes.Equal(newKey, confirm) {
		return fmt.Errorf("keys do not match")
	}
	newCodec, err := crypto.NewSecretCodec(string(newKey))
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	n, err := store.New(db).ResealSecrets(context.Background(), func(sealed string) (string, error) {
		plaintext, err := oldCodec.Decrypt(sealed)
		if err != nil {
			return "", err
		}
		defer clear(plaintext)
		return newCodec.Encrypt(plaintext)
	})
	if err != nil {
		return fmt.Errorf("no secrets changed: %w", err)
	}

	fmt.Printf("resealed %d wallet secrets; set ENCRYPTION_KEY to the new key before restarting\n", n)
	return nil
}
