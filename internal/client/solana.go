package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/pda"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// RPC is the subset of the Solana JSON-RPC client used by LedgerClient.
// *rpc.Client satisfies it.
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// LedgerClient talks to the capsule program through one RPC connection and,
// once bound, one signing identity.
type LedgerClient struct {
	rpc            RPC
	deriver        pda.Deriver
	signer         solana.PrivateKey
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time
}

// Option configures a LedgerClient.
type Option func(*LedgerClient)

// WithConfirmTimeout bounds how long SendAndConfirm waits for confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *LedgerClient) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithPollInterval sets the signature status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *LedgerClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithClock overrides the clock used to evaluate unlock conditions.
func WithClock(now func() time.Time) Option {
	return func(c *LedgerClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLedgerClient creates a client for programID on top of conn.
func NewLedgerClient(conn RPC, programID solana.PublicKey, opts ...Option) *LedgerClient {
	c := &LedgerClient{
		rpc:            conn,
		deriver:        pda.NewDeriver(programID),
		commitment:     rpc.CommitmentConfirmed,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSigner returns a copy of the client bound to key. The receiver is not modified.
func (c *LedgerClient) WithSigner(key solana.PrivateKey) *LedgerClient {
	bound := *c
	bound.signer = key
	return &bound
}

// ProgramID returns the capsule program id.
func (c *LedgerClient) ProgramID() solana.PublicKey {
	return c.deriver.ProgramID
}

// Signer returns the public key of the bound signing identity.
func (c *LedgerClient) Signer() (solana.PublicKey, error) {
	if len(c.signer) == 0 {
		return solana.PublicKey{}, ErrProviderNotBound
	}
	if err := c.signer.Validate(); err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid signing key: %w", err)
	}
	return c.signer.PublicKey(), nil
}

// DeriveConfigAddress returns the config account address.
func (c *LedgerClient) DeriveConfigAddress() (solana.PublicKey, error) {
	addr, _, err := c.deriver.Config()
	return addr, err
}

// DeriveCapsuleAddress returns the account address of owner's capsule capsuleID.
func (c *LedgerClient) DeriveCapsuleAddress(owner solana.PublicKey, capsuleID string) (solana.PublicKey, error) {
	addr, _, err := c.deriver.Capsule(owner, capsuleID)
	return addr, err
}

// DeriveVaultAddress returns the token vault of capsuleID for mint.
func (c *LedgerClient) DeriveVaultAddress(mint solana.PublicKey, capsuleID string) (solana.PublicKey, error) {
	addr, _, err := c.deriver.Vault(mint, capsuleID)
	return addr, err
}

// DeriveNFTVaultAddress returns the NFT vault of capsuleID for mint.
func (c *LedgerClient) DeriveNFTVaultAddress(mint solana.PublicKey, capsuleID string) (solana.PublicKey, error) {
	addr, _, err := c.deriver.NFTVault(mint, capsuleID)
	return addr, err
}

// accountData returns the raw data of an account.
func (c *LedgerClient) accountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("failed to get account info %s: %w", address, err)
	}
	return out.GetBinary(), nil
}

// AccountExists reports whether address holds an account.
func (c *LedgerClient) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.accountData(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FetchConfig reads the program's config account.
func (c *LedgerClient) FetchConfig(ctx context.Context) (*ConfigAccount, error) {
	addr, err := c.DeriveConfigAddress()
	if err != nil {
		return nil, err
	}
	data, err := c.accountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	var cfg ConfigAccount
	if err := cfg.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchTotalCapsuleCount reads the global capsule counter.
func (c *LedgerClient) FetchTotalCapsuleCount(ctx context.Context) (uint64, error) {
	cfg, err := c.FetchConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.TotalCapsules, nil
}

// NextCapsuleID computes the id the next created capsule will carry.
func (c *LedgerClient) NextCapsuleID(ctx context.Context) (string, error) {
	count, err := c.FetchTotalCapsuleCount(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read capsule counter: %w", err)
	}
	return FormatCapsuleID(count), nil
}

// FetchCapsuleAccount reads and decodes the capsule at address.
func (c *LedgerClient) FetchCapsuleAccount(ctx context.Context, address solana.PublicKey) (*CapsuleAccount, error) {
	data, err := c.accountData(ctx, address)
	if err != nil {
		return nil, err
	}
	var acct CapsuleAccount
	if err := acct.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, err
	}
	return &acct, nil
}

// LockStatus is the observed lock state of a capsule.
type LockStatus struct {
	Address      solana.PublicKey
	IsLocked     bool
	ConditionMet bool
	Account      *CapsuleAccount
}

// Unlockable reports whether the beneficiary may take over the capsule:
// either the ledger already unlocked it or its condition now holds.
func (s LockStatus) Unlockable() bool {
	return !s.IsLocked || s.ConditionMet
}

// FetchLockStatus reads owner's capsule capsuleID and evaluates its unlock condition.
func (c *LedgerClient) FetchLockStatus(ctx context.Context, owner solana.PublicKey, capsuleID string) (LockStatus, error) {
	addr, err := c.DeriveCapsuleAddress(owner, capsuleID)
	if err != nil {
		return LockStatus{}, err
	}
	acct, err := c.FetchCapsuleAccount(ctx, addr)
	if err != nil {
		return LockStatus{}, err
	}
	return LockStatus{
		Address:      addr,
		IsLocked:     acct.IsLocked,
		ConditionMet: acct.ConditionMet(c.now()),
		Account:      acct,
	}, nil
}

// NativeBalance returns the lamport balance of owner.
func (c *LedgerClient) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	balance, err := c.rpc.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get SOL balance: %w", err)
	}
	return balance.Value, nil
}

// TokenBalance returns owner's raw balance of mint. A missing associated
// token account counts as zero.
func (c *LedgerClient) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ataAddress, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to find associated token account address: %w", err)
	}

	balance, err := c.rpc.GetTokenAccountBalance(ctx, ataAddress, c.commitment)
	if err != nil {
		if isATANotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token account balance: %w", err)
	}
	if balance == nil || balance.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance amount: %w", err)
	}
	return amount, nil
}

// MintDecimals reads the decimal precision of an SPL mint.
func (c *LedgerClient) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	data, err := c.accountData(ctx, mint)
	if err != nil {
		return 0, err
	}
	var m token.Mint
	if err := m.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return 0, fmt.Errorf("failed to decode mint %s: %w", mint, err)
	}
	return m.Decimals, nil
}

// SendAndConfirm signs ixs with the bound identity, submits them as one
// transaction and waits until the cluster confirms it.
func (c *LedgerClient) SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, error) {
	payer, err := c.Signer()
	if err != nil {
		return solana.Signature{}, err
	}
	if len(ixs) == 0 {
		return solana.Signature{}, errors.New("no instructions to send")
	}

	// Get latest blockhash
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	// Sign transaction
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.Equals(key) {
			return &c.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		if pe := programErrorFromMessage(err); pe != nil {
			return solana.Signature{}, fmt.Errorf("failed to send transaction: %w (%v)", pe, err)
		}
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	log.Ledger.Debug().Str("signature", sig.String()).Int("instructions", len(ixs)).Msg("transaction submitted")

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *LedgerClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s: %w", sig, programErrorFromStatus(status.Err))
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		} else if err != nil {
			log.Ledger.Debug().Err(err).Str("signature", sig.String()).Msg("signature status poll failed")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNotConfirmed, sig)
		case <-ticker.C:
		}
	}
}

var customErrorPattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// programErrorFromMessage finds a custom program error in a preflight failure.
func programErrorFromMessage(err error) *ProgramError {
	m := customErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return nil
	}
	code, perr := strconv.ParseInt(m[1], 16, 32)
	if perr != nil {
		return nil
	}
	return &ProgramError{Code: int(code)}
}
