package capsule

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/common"

	"github.com/gagliardetto/solana-go"
)

// Asset is what a capsule locks. The variants are closed: Native, Fungible,
// NFT, Document and Message. Amounts are decimal strings in whole units of
// the asset.
type Asset interface {
	Kind() client.AssetKind
	validate() error
}

// Native locks SOL.
type Native struct {
	Amount string
}

// Fungible locks an amount of an SPL token.
type Fungible struct {
	Mint   solana.PublicKey
	Amount string
}

// NFT locks one non-fungible token.
type NFT struct {
	Mint solana.PublicKey
}

// Document records a reference to an off-ledger document.
type Document struct {
	URI    string
	Format string
}

// Message records an encrypted message for the beneficiary.
type Message struct {
	Text string
}

func (Native) Kind() client.AssetKind   { return client.AssetNative }
func (Fungible) Kind() client.AssetKind { return client.AssetFungible }
func (NFT) Kind() client.AssetKind      { return client.AssetNFT }
func (Document) Kind() client.AssetKind { return client.AssetDocument }
func (Message) Kind() client.AssetKind  { return client.AssetMessage }

func (a Native) validate() error {
	if !common.IsPositiveAmount(a.Amount) {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
	}
	return nil
}

func (a Fungible) validate() error {
	if a.Mint.IsZero() {
		return fmt.Errorf("%w: mint is required", ErrInvalidAsset)
	}
	if !common.IsPositiveAmount(a.Amount) {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
	}
	return nil
}

func (a NFT) validate() error {
	if a.Mint.IsZero() {
		return fmt.Errorf("%w: mint is required", ErrInvalidAsset)
	}
	return nil
}

func (a Document) validate() error {
	if strings.TrimSpace(a.URI) == "" || strings.TrimSpace(a.Format) == "" {
		return fmt.Errorf("%w: document uri and format are required", ErrInvalidAsset)
	}
	return nil
}

func (a Message) validate() error {
	if a.Text == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidAsset)
	}
	return nil
}

// Unlock is the requested unlock condition. Timestamp is unix seconds,
// InactivityPeriod is seconds.
type Unlock struct {
	Mode             client.UnlockMode
	Timestamp        *int64
	InactivityPeriod *int64
}

// ParseUnlockMode maps "time_based" and "inactivity_based" to a mode.
func ParseUnlockMode(s string) (client.UnlockMode, error) {
	switch s {
	case client.UnlockTimeBased.String():
		return client.UnlockTimeBased, nil
	case client.UnlockInactivityBased.String():
		return client.UnlockInactivityBased, nil
	}
	return 0, fmt.Errorf("%w: unknown unlock mode %q", ErrInvalidUnlockParameters, s)
}

// validateUnlock checks that exactly the field matching the mode is set and
// that it describes a reachable condition at now.
func validateUnlock(u Unlock, now time.Time) error {
	switch u.Mode {
	case client.UnlockTimeBased:
		if u.Timestamp == nil {
			return fmt.Errorf("%w: unlock timestamp is required for time based capsules", ErrInvalidUnlockParameters)
		}
		if u.InactivityPeriod != nil {
			return fmt.Errorf("%w: inactivity period is not allowed for time based capsules", ErrInvalidUnlockParameters)
		}
		if *u.Timestamp <= now.Unix() {
			return fmt.Errorf("%w: unlock timestamp must be in the future", ErrInvalidUnlockParameters)
		}
	case client.UnlockInactivityBased:
		if u.InactivityPeriod == nil {
			return fmt.Errorf("%w: inactivity period is required for inactivity based capsules", ErrInvalidUnlockParameters)
		}
		if u.Timestamp != nil {
			return fmt.Errorf("%w: unlock timestamp is not allowed for inactivity based capsules", ErrInvalidUnlockParameters)
		}
		if *u.InactivityPeriod <= 0 {
			return fmt.Errorf("%w: inactivity period must be positive", ErrInvalidUnlockParameters)
		}
	default:
		return fmt.Errorf("%w: unknown unlock mode %d", ErrInvalidUnlockParameters, uint8(u.Mode))
	}
	return nil
}

// MaxApprovers bounds the recovery approver set.
const MaxApprovers = 10

func validateMultisig(m *client.Multisig) error {
	if m == nil || len(m.Approvers) == 0 {
		return nil
	}
	if len(m.Approvers) > MaxApprovers {
		return fmt.Errorf("%w: at most %d approvers", ErrInvalidMultisig, MaxApprovers)
	}
	if m.Threshold == 0 || int(m.Threshold) > len(m.Approvers) {
		return fmt.Errorf("%w: threshold %d with %d approvers", ErrInvalidMultisig, m.Threshold, len(m.Approvers))
	}
	seen := make(map[solana.PublicKey]struct{}, len(m.Approvers))
	for _, pk := range m.Approvers {
		if _, dup := seen[pk]; dup {
			return fmt.Errorf("%w: duplicate approver %s", ErrInvalidMultisig, pk)
		}
		seen[pk] = struct{}{}
	}
	return nil
}

// CreateRequest describes a capsule to create for the bound owner.
type CreateRequest struct {
	Beneficiary solana.PublicKey
	Unlock      Unlock
	Asset       Asset
	Multisig    *client.Multisig
}

// Validate runs every check that needs no ledger access.
func (r CreateRequest) Validate(now time.Time) error {
	if err := validateUnlock(r.Unlock, now); err != nil {
		return err
	}
	if r.Beneficiary.IsZero() {
		return ErrInvalidBeneficiary
	}
	if r.Asset == nil {
		return fmt.Errorf("%w: asset is required", ErrInvalidAsset)
	}
	if err := r.Asset.validate(); err != nil {
		return err
	}
	return validateMultisig(r.Multisig)
}

// CreateResult is returned by a successful creation.
type CreateResult struct {
	Signature solana.Signature
	CapsuleID string
	Address   solana.PublicKey
}

// ReleaseResult is returned by a successful release.
type ReleaseResult struct {
	Signature solana.Signature
	CapsuleID string
	Address   solana.PublicKey
	Kind      client.AssetKind
}
