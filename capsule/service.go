// Package capsule orchestrates capsule creation, release and check-in
// transactions against the capsule program.
package capsule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/common"
	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/pda"
	"github.com/AlexZinkM/legacy-capsule/internal/retry"

	"github.com/gagliardetto/solana-go"
)

// DefaultBootstrapLamports funds a new beneficiary with 0.003 SOL.
const DefaultBootstrapLamports = 3_000_000

// Ledger is the part of client.LedgerClient the service depends on.
// It must already be bound to the acting identity.
type Ledger interface {
	Signer() (solana.PublicKey, error)
	NextCapsuleID(ctx context.Context) (string, error)
	DeriveCapsuleAddress(owner solana.PublicKey, capsuleID string) (solana.PublicKey, error)
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	BuildBootstrapTransfer(beneficiary solana.PublicKey, lamports uint64) (solana.Instruction, error)
	BuildTransfer(destination solana.PublicKey, lamports uint64) (solana.Instruction, error)
	BuildTokenTransfer(ctx context.Context, destination, mint solana.PublicKey, amount uint64, decimals uint8) ([]solana.Instruction, error)
	BuildCreateInstruction(ctx context.Context, p client.CreateParams) ([]solana.Instruction, error)
	BuildReleaseInstruction(address solana.PublicKey, acct *client.CapsuleAccount) ([]solana.Instruction, error)
	BuildCheckinInstruction(capsuleID string) (solana.Instruction, error)
	FetchCapsuleAccount(ctx context.Context, address solana.PublicKey) (*client.CapsuleAccount, error)
	SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, error)
}

var _ Ledger = (*client.LedgerClient)(nil)

// Service builds, signs and submits capsule transactions for one identity.
type Service struct {
	ledger            Ledger
	policy            retry.Policy
	bootstrapLamports uint64
	now               func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy replaces the ledger retry policy. The classifier is
// always combined with the service's own fatal error checks.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBootstrapLamports sets the amount transferred to the beneficiary on creation.
// Zero disables the transfer.
func WithBootstrapLamports(lamports uint64) Option {
	return func(s *Service) { s.bootstrapLamports = lamports }
}

// WithClock overrides the clock used for unlock validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service acting through ledger.
func NewService(ledger Ledger, opts ...Option) *Service {
	s := &Service{
		ledger:            ledger,
		policy:            retry.DefaultPolicy("capsule", log.Capsule),
		bootstrapLamports: DefaultBootstrapLamports,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) policyFor(op string) retry.Policy {
	p := s.policy
	p.Op = op
	custom := p.Retryable
	p.Retryable = func(err error) bool {
		if isFatal(err) {
			return false
		}
		return custom == nil || custom(err)
	}
	return p
}

// isFatal reports errors that no retry can fix.
func isFatal(err error) bool {
	return errors.Is(err, client.ErrProviderNotBound) || errors.Is(err, pda.ErrInvalidSeed)
}

// Create validates req, checks the owner's holdings and submits the capsule
// creation transaction. Ledger-bound steps are retried, each attempt with a
// freshly read capsule id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	owner, err := s.ledger.Signer()
	if err != nil {
		return nil, err
	}

	asset, err := s.resolveAsset(ctx, owner, req.Asset)
	if err != nil {
		return nil, err
	}

	var result *CreateResult
	attempts, err := retry.Do(ctx, s.policyFor("create_capsule"), func(ctx context.Context, attempt int) error {
		capsuleID, err := s.ledger.NextCapsuleID(ctx)
		if err != nil {
			return err
		}
		address, err := s.ledger.DeriveCapsuleAddress(owner, capsuleID)
		if err != nil {
			return err
		}

		var ixs []solana.Instruction
		if s.bootstrapLamports > 0 {
			transfer, err := s.ledger.BuildBootstrapTransfer(req.Beneficiary, s.bootstrapLamports)
			if err != nil {
				return err
			}
			ixs = append(ixs, transfer)
		}
		create, err := s.ledger.BuildCreateInstruction(ctx, client.CreateParams{
			CapsuleID:   capsuleID,
			Beneficiary: req.Beneficiary,
			Unlock: client.Unlock{
				Mode:             req.Unlock.Mode,
				Timestamp:        req.Unlock.Timestamp,
				InactivityPeriod: req.Unlock.InactivityPeriod,
			},
			Asset:    asset,
			Multisig: req.Multisig,
		})
		if err != nil {
			return err
		}
		ixs = append(ixs, create...)

		sig, err := s.ledger.SendAndConfirm(ctx, ixs...)
		if err != nil {
			return fmt.Errorf("capsule %s: %w", capsuleID, err)
		}
		result = &CreateResult{Signature: sig, CapsuleID: capsuleID, Address: address}
		return nil
	})
	if err != nil {
		return nil, &CreationFailedError{Attempts: attempts, Err: err}
	}

	log.Capsule.Info().
		Str("capsule_id", result.CapsuleID).
		Str("address", result.Address.String()).
		Str("kind", req.Asset.Kind().String()).
		Str("signature", result.Signature.String()).
		Int("attempts", attempts).
		Msg("capsule created")
	return result, nil
}

// resolveAsset converts the requested asset to raw ledger units and checks
// the owner's holdings cover it.
func (s *Service) resolveAsset(ctx context.Context, owner solana.PublicKey, a Asset) (client.Asset, error) {
	switch a := a.(type) {
	case Native:
		lamports, err := common.SOLToLamports(a.Amount)
		if err != nil || lamports == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
		}
		balance, err := s.ledger.NativeBalance(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to check balance: %w", err)
		}
		if balance < lamports+s.bootstrapLamports {
			return nil, fmt.Errorf("%w: have %s SOL, need %s SOL", ErrInsufficientFunds,
				common.LamportsToSOL(balance), common.LamportsToSOL(lamports+s.bootstrapLamports))
		}
		return client.NativeAsset{Lamports: lamports}, nil

	case Fungible:
		decimals, err := s.ledger.MintDecimals(ctx, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to read mint %s: %w", a.Mint, err)
		}
		amount, err := common.ParseUnits(a.Amount, decimals)
		if err != nil || amount == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
		}
		balance, err := s.ledger.TokenBalance(ctx, owner, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to check balance: %w", err)
		}
		if balance < amount {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds,
				common.FormatUnits(balance, decimals), common.FormatUnits(amount, decimals))
		}
		return client.FungibleAsset{Mint: a.Mint, Amount: amount}, nil

	case NFT:
		balance, err := s.ledger.TokenBalance(ctx, owner, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to check balance: %w", err)
		}
		if balance < 1 {
			return nil, fmt.Errorf("%w: owner does not hold NFT %s", ErrInsufficientFunds, a.Mint)
		}
		return client.NFTAsset{Mint: a.Mint}, nil

	case Document:
		return client.DocumentAsset{URI: a.URI, Format: a.Format}, nil

	case Message:
		return client.MessageAsset{Text: a.Text}, nil
	}
	return nil, fmt.Errorf("%w: unsupported asset %T", ErrInvalidAsset, a)
}

// Release moves the asset of the capsule at address to its beneficiary.
// The service must be bound to the beneficiary.
func (s *Service) Release(ctx context.Context, address solana.PublicKey) (*ReleaseResult, error) {
	signer, err := s.ledger.Signer()
	if err != nil {
		return nil, err
	}

	acct, err := s.ledger.FetchCapsuleAccount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capsule %s: %w", address, err)
	}
	if acct.IsLocked {
		return nil, fmt.Errorf("%w: %s", ErrCapsuleStillLocked, acct.CapsuleID)
	}
	if !acct.Beneficiary.Equals(signer) {
		return nil, ErrNotBeneficiary
	}

	var sig solana.Signature
	attempts, err := retry.Do(ctx, s.policyFor("release_capsule"), func(ctx context.Context, attempt int) error {
		ixs, err := s.ledger.BuildReleaseInstruction(address, acct)
		if err != nil {
			return err
		}
		sig, err = s.ledger.SendAndConfirm(ctx, ixs...)
		return err
	})
	if err != nil {
		return nil, &ReleaseFailedError{Attempts: attempts, Err: err}
	}

	log.Capsule.Info().
		Str("capsule_id", acct.CapsuleID).
		Str("address", address.String()).
		Str("kind", acct.AssetKind.String()).
		Str("signature", sig.String()).
		Msg("capsule released")
	return &ReleaseResult{Signature: sig, CapsuleID: acct.CapsuleID, Address: address, Kind: acct.AssetKind}, nil
}

// Checkin records owner activity on capsuleID, restarting its inactivity period.
func (s *Service) Checkin(ctx context.Context, capsuleID string) (solana.Signature, error) {
	var sig solana.Signature
	attempts, err := retry.Do(ctx, s.policyFor("checkin_capsule"), func(ctx context.Context, attempt int) error {
		ix, err := s.ledger.BuildCheckinInstruction(capsuleID)
		if err != nil {
			return err
		}
		sig, err = s.ledger.SendAndConfirm(ctx, ix)
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w after %d attempt(s): %w", ErrCheckinFailed, attempts, err)
	}
	log.Capsule.Info().Str("capsule_id", capsuleID).Str("signature", sig.String()).Msg("capsule check-in")
	return sig, nil
}
