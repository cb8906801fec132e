package capsule

import (
	"context"
	"fmt"

	"github.com/AlexZinkM/legacy-capsule/internal/common"
	"github.com/AlexZinkM/legacy-capsule/internal/log"

	"github.com/gagliardetto/solana-go"
)

// TransferFeeLamports is the signature fee a single-signer transfer costs.
const TransferFeeLamports = 5000

// Balance holds the holdings of the bound wallet.
type Balance struct {
	Address  solana.PublicKey
	Lamports uint64
	// Token is set when a mint was asked for
	Token *TokenBalance
}

// TokenBalance is the raw balance of one mint.
type TokenBalance struct {
	Mint     solana.PublicKey
	Amount   uint64
	Decimals uint8
}

// Balance reads the native balance of the bound wallet and, when mint is not
// nil, its balance of that mint.
func (s *Service) Balance(ctx context.Context, mint *solana.PublicKey) (*Balance, error) {
	owner, err := s.ledger.Signer()
	if err != nil {
		return nil, err
	}
	lamports, err := s.ledger.NativeBalance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	out := &Balance{Address: owner, Lamports: lamports}
	if mint == nil {
		return out, nil
	}

	decimals, err := s.ledger.MintDecimals(ctx, *mint)
	if err != nil {
		return nil, fmt.Errorf("failed to read mint %s: %w", mint, err)
	}
	amount, err := s.ledger.TokenBalance(ctx, owner, *mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	out.Token = &TokenBalance{Mint: *mint, Amount: amount, Decimals: decimals}
	return out, nil
}

// TransferRequest moves an asset out of the bound wallet. Only Native,
// Fungible and NFT assets can be transferred.
type TransferRequest struct {
	Destination solana.PublicKey
	Asset       Asset
}

// Transfer checks the bound wallet's holdings and submits one transfer
// transaction. It is not retried: a transfer whose confirmation timed out
// may still land, and a second attempt would pay twice.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (solana.Signature, error) {
	owner, err := s.ledger.Signer()
	if err != nil {
		return solana.Signature{}, err
	}
	if req.Destination.IsZero() || req.Destination.Equals(owner) {
		return solana.Signature{}, fmt.Errorf("%w: %s", ErrInvalidDestination, req.Destination)
	}

	ixs, err := s.transferInstructions(ctx, owner, req)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.ledger.SendAndConfirm(ctx, ixs...)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	log.Capsule.Info().
		Str("from", owner.String()).
		Str("to", req.Destination.String()).
		Str("kind", req.Asset.Kind().String()).
		Str("signature", sig.String()).
		Msg("wallet transfer")
	return sig, nil
}

func (s *Service) transferInstructions(ctx context.Context, owner solana.PublicKey, req TransferRequest) ([]solana.Instruction, error) {
	switch a := req.Asset.(type) {
	case Native:
		lamports, err := common.SOLToLamports(a.Amount)
		if err != nil || lamports == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
		}
		balance, err := s.ledger.NativeBalance(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to check balance: %w", err)
		}
		if balance < lamports+TransferFeeLamports {
			var most uint64
			if balance > TransferFeeLamports {
				most = balance - TransferFeeLamports
			}
			return nil, fmt.Errorf("%w: transaction fee %s SOL, at most %s SOL can be sent", ErrInsufficientFunds,
				common.LamportsToSOL(TransferFeeLamports), common.LamportsToSOL(most))
		}
		ix, err := s.ledger.BuildTransfer(req.Destination, lamports)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case Fungible:
		decimals, err := s.ledger.MintDecimals(ctx, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to read mint %s: %w", a.Mint, err)
		}
		amount, err := common.ParseUnits(a.Amount, decimals)
		if err != nil || amount == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, a.Amount)
		}
		if err := s.checkTokenTransfer(ctx, owner, a.Mint, amount, decimals); err != nil {
			return nil, err
		}
		return s.ledger.BuildTokenTransfer(ctx, req.Destination, a.Mint, amount, decimals)

	case NFT:
		decimals, err := s.ledger.MintDecimals(ctx, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to read mint %s: %w", a.Mint, err)
		}
		if err := s.checkTokenTransfer(ctx, owner, a.Mint, 1, decimals); err != nil {
			return nil, err
		}
		return s.ledger.BuildTokenTransfer(ctx, req.Destination, a.Mint, 1, decimals)
	}
	kind := "none"
	if req.Asset != nil {
		kind = req.Asset.Kind().String()
	}
	return nil, fmt.Errorf("%w: %s assets cannot be transferred", ErrInvalidAsset, kind)
}

// checkTokenTransfer makes sure the owner holds amount of mint and can pay the fee.
func (s *Service) checkTokenTransfer(ctx context.Context, owner, mint solana.PublicKey, amount uint64, decimals uint8) error {
	held, err := s.ledger.TokenBalance(ctx, owner, mint)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	if held < amount {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds,
			common.FormatUnits(held, decimals), common.FormatUnits(amount, decimals))
	}
	lamports, err := s.ledger.NativeBalance(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	if lamports < TransferFeeLamports {
		return fmt.Errorf("%w: transaction fee %s SOL, have %s SOL", ErrInsufficientFunds,
			common.LamportsToSOL(TransferFeeLamports), common.LamportsToSOL(lamports))
	}
	return nil
}
