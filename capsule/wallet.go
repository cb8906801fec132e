package capsule

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/skip2/go-qrcode"
)

// Sealer encrypts secrets for storage. *crypto.SecretCodec satisfies it.
type Sealer interface {
	EncryptString(plaintext string) (string, error)
}

// Wallet is a freshly generated custodial wallet. The secret is only ever
// handed out sealed.
type Wallet struct {
	Address         string
	EncryptedSecret string
	QRCode          string // base64 PNG of the address
}

// GenerateWallet creates a custodial keypair for an owner or heir and seals
// its secret with sealer.
func GenerateWallet(sealer Sealer) (*Wallet, error) {
	// Generate new Solana keypair
	account := solana.NewWallet()
	defer clear(account.PrivateKey)

	address := account.PublicKey().String()

	qrCode, err := generateQRCode(address)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	sealed, err := sealer.EncryptString(account.PrivateKey.String())
	if err != nil {
		return nil, fmt.Errorf("failed to seal wallet secret: %w", err)
	}

	return &Wallet{
		Address:         address,
		EncryptedSecret: sealed,
		QRCode:          qrCode,
	}, nil
}

// generateQRCode generates QR code of address in base64
func generateQRCode(address string) (string, error) {
	qr, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
