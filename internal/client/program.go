package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Instruction discriminators of the capsule program.
var (
	ixCreateCryptoCapsule         = [8]byte{58, 139, 1, 245, 124, 124, 30, 216}
	ixCreateDocumentCapsule       = [8]byte{148, 85, 73, 157, 237, 128, 159, 90}
	ixCreateMessageCapsule        = [8]byte{173, 183, 179, 173, 176, 49, 43, 213}
	ixCreateNftCapsule            = [8]byte{36, 22, 54, 223, 18, 153, 239, 72}
	ixCreateSolCryptoCapsule      = [8]byte{101, 230, 58, 134, 59, 46, 48, 245}
	ixCheckCapsuleCondition       = [8]byte{221, 184, 175, 102, 2, 229, 218, 134}
	ixCheckinCapsule              = [8]byte{38, 237, 167, 157, 17, 227, 60, 127}
	ixEnableMultisig              = [8]byte{122, 152, 144, 139, 93, 117, 169, 52}
	ixExecuteCapsuleRelease       = [8]byte{249, 135, 192, 20, 34, 61, 33, 246}
	ixExecuteCryptoCapsuleRelease = [8]byte{3, 67, 43, 119, 93, 210, 180, 40}
	ixExecuteNftCapsuleRelease    = [8]byte{247, 97, 158, 39, 234, 37, 77, 46}
	ixExecuteSolCapsuleRelease    = [8]byte{247, 231, 16, 177, 82, 202, 2, 226}
)

// Asset is the closed set of things a capsule can hold.
// Amounts are raw ledger units.
type Asset interface {
	Kind() AssetKind
	isAsset()
}

// NativeAsset locks lamports.
type NativeAsset struct {
	Lamports uint64
}

// FungibleAsset locks an amount of an SPL token.
type FungibleAsset struct {
	Mint   solana.PublicKey
	Amount uint64
}

// NFTAsset locks a single non-fungible token.
type NFTAsset struct {
	Mint solana.PublicKey
}

// DocumentAsset records a document reference.
type DocumentAsset struct {
	URI    string
	Format string
}

// MessageAsset records an (already encrypted) message.
type MessageAsset struct {
	Text string
}

func (NativeAsset) Kind() AssetKind   { return AssetNative }
func (FungibleAsset) Kind() AssetKind { return AssetFungible }
func (NFTAsset) Kind() AssetKind      { return AssetNFT }
func (DocumentAsset) Kind() AssetKind { return AssetDocument }
func (MessageAsset) Kind() AssetKind  { return AssetMessage }

func (NativeAsset) isAsset()   {}
func (FungibleAsset) isAsset() {}
func (NFTAsset) isAsset()      {}
func (DocumentAsset) isAsset() {}
func (MessageAsset) isAsset()  {}

// Unlock is the unlock condition of a capsule. Exactly one of Timestamp and
// InactivityPeriod is set, matching Mode.
type Unlock struct {
	Mode             UnlockMode
	Timestamp        *int64
	InactivityPeriod *int64
}

// Multisig configures recovery approvers for a capsule.
type Multisig struct {
	Approvers []solana.PublicKey
	Threshold uint8
}

// CreateParams describes a capsule to create.
type CreateParams struct {
	CapsuleID   string
	Beneficiary solana.PublicKey
	Unlock      Unlock
	Asset       Asset
	Multisig    *Multisig
}

func encodeInstruction(disc [8]byte, fill func(w *borshWriter)) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := &borshWriter{enc: bin.NewBorshEncoder(buf)}
	w.raw(disc[:])
	if fill != nil {
		fill(w)
	}
	if w.err != nil {
		return nil, fmt.Errorf("failed to encode instruction: %w", w.err)
	}
	return buf.Bytes(), nil
}

// BuildBootstrapTransfer funds the beneficiary with lamports from the signer.
func (c *LedgerClient) BuildBootstrapTransfer(beneficiary solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	return c.BuildTransfer(beneficiary, lamports)
}

// BuildTransfer moves lamports from the signer to destination.
func (c *LedgerClient) BuildTransfer(destination solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	payer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	return system.NewTransferInstruction(lamports, payer, destination).Build(), nil
}

// BuildTokenTransfer moves amount raw units of mint from the signer's
// associated token account to destination's, creating the destination
// account first when it does not exist.
func (c *LedgerClient) BuildTokenTransfer(ctx context.Context, destination, mint solana.PublicKey, amount uint64, decimals uint8) ([]solana.Instruction, error) {
	owner, err := c.Signer()
	if err != nil {
		return nil, err
	}
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source token account: %w", err)
	}
	target, _, err := solana.FindAssociatedTokenAddress(destination, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination token account: %w", err)
	}

	var ixs []solana.Instruction
	createATA, err := c.beneficiaryAccountInstruction(ctx, owner, destination, mint)
	if err != nil {
		return nil, err
	}
	if createATA != nil {
		ixs = append(ixs, createATA)
	}
	ixs = append(ixs, token.NewTransferCheckedInstruction(amount, decimals, source, mint, target, owner, nil).Build())
	return ixs, nil
}

// BuildCreateInstruction builds the instructions that create a capsule owned
// by the signer: the beneficiary's associated token account when the asset
// needs one and it is missing, the kind-specific create instruction and,
// when approvers are given, the multisig setup. Nothing is submitted.
func (c *LedgerClient) BuildCreateInstruction(ctx context.Context, p CreateParams) ([]solana.Instruction, error) {
	owner, err := c.Signer()
	if err != nil {
		return nil, err
	}
	if p.Asset == nil {
		return nil, errors.New("capsule asset is required")
	}

	configAddr, err := c.DeriveConfigAddress()
	if err != nil {
		return nil, err
	}
	capsuleAddr, err := c.DeriveCapsuleAddress(owner, p.CapsuleID)
	if err != nil {
		return nil, err
	}

	multisigSecured := p.Multisig != nil && len(p.Multisig.Approvers) > 0
	header := func(w *borshWriter) {
		w.str(p.CapsuleID)
		w.u8(uint8(p.Unlock.Mode))
		w.optI64(p.Unlock.Timestamp)
		w.optI64(p.Unlock.InactivityPeriod)
		w.pubkey(p.Beneficiary)
	}

	var ixs []solana.Instruction
	var disc [8]byte
	var accounts solana.AccountMetaSlice
	var tail func(w *borshWriter)

	switch asset := p.Asset.(type) {
	case NativeAsset:
		disc = ixCreateSolCryptoCapsule
		accounts = simpleCapsuleAccounts(owner, configAddr, capsuleAddr)
		tail = func(w *borshWriter) {
			w.u64(asset.Lamports)
			w.boolean(multisigSecured)
		}

	case FungibleAsset:
		vault, err := c.DeriveVaultAddress(asset.Mint, p.CapsuleID)
		if err != nil {
			return nil, err
		}
		ataIx, err := c.beneficiaryAccountInstruction(ctx, owner, p.Beneficiary, asset.Mint)
		if err != nil {
			return nil, err
		}
		if ataIx != nil {
			ixs = append(ixs, ataIx)
		}
		accounts, err = tokenCapsuleAccounts(owner, configAddr, capsuleAddr, asset.Mint, vault)
		if err != nil {
			return nil, err
		}
		disc = ixCreateCryptoCapsule
		tail = func(w *borshWriter) {
			w.u64(asset.Amount)
			w.boolean(multisigSecured)
		}

	case NFTAsset:
		vault, err := c.DeriveNFTVaultAddress(asset.Mint, p.CapsuleID)
		if err != nil {
			return nil, err
		}
		ataIx, err := c.beneficiaryAccountInstruction(ctx, owner, p.Beneficiary, asset.Mint)
		if err != nil {
			return nil, err
		}
		if ataIx != nil {
			ixs = append(ixs, ataIx)
		}
		accounts, err = tokenCapsuleAccounts(owner, configAddr, capsuleAddr, asset.Mint, vault)
		if err != nil {
			return nil, err
		}
		disc = ixCreateNftCapsule
		tail = func(w *borshWriter) {
			w.boolean(multisigSecured)
		}

	case DocumentAsset:
		disc = ixCreateDocumentCapsule
		accounts = simpleCapsuleAccounts(owner, configAddr, capsuleAddr)
		tail = func(w *borshWriter) {
			w.str(asset.URI)
			w.str(asset.Format)
			w.boolean(multisigSecured)
		}

	case MessageAsset:
		disc = ixCreateMessageCapsule
		accounts = simpleCapsuleAccounts(owner, configAddr, capsuleAddr)
		tail = func(w *borshWriter) {
			w.str(asset.Text)
			w.boolean(multisigSecured)
		}

	default:
		return nil, fmt.Errorf("unsupported asset %T", p.Asset)
	}

	data, err := encodeInstruction(disc, func(w *borshWriter) {
		header(w)
		tail(w)
	})
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, solana.NewInstruction(c.ProgramID(), accounts, data))

	if multisigSecured {
		msIx, err := c.BuildEnableMultisigInstruction(p.CapsuleID, p.Multisig.Approvers, p.Multisig.Threshold)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, msIx)
	}
	return ixs, nil
}

// beneficiaryAccountInstruction returns an instruction creating the
// beneficiary's associated token account, or nil when it already exists.
func (c *LedgerClient) beneficiaryAccountInstruction(ctx context.Context, payer, beneficiary, mint solana.PublicKey) (solana.Instruction, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(beneficiary, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find beneficiary token account: %w", err)
	}
	exists, err := c.AccountExists(ctx, ata)
	if err != nil {
		return nil, fmt.Errorf("failed to check beneficiary token account: %w", err)
	}
	if exists {
		return nil, nil
	}
	return associatedtokenaccount.NewCreateInstruction(payer, beneficiary, mint).Build(), nil
}

func simpleCapsuleAccounts(signer, config, capsule solana.PublicKey) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(config).WRITE(),
		solana.Meta(capsule).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
}

func tokenCapsuleAccounts(signer, config, capsule, mint, vault solana.PublicKey) (solana.AccountMetaSlice, error) {
	userATA, _, err := solana.FindAssociatedTokenAddress(signer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner token account: %w", err)
	}
	return solana.AccountMetaSlice{
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(config).WRITE(),
		solana.Meta(capsule).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(vault).WRITE(),
		solana.Meta(userATA).WRITE(),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	}, nil
}

// BuildEnableMultisigInstruction sets the recovery approvers of the signer's capsule.
func (c *LedgerClient) BuildEnableMultisigInstruction(capsuleID string, approvers []solana.PublicKey, threshold uint8) (solana.Instruction, error) {
	owner, err := c.Signer()
	if err != nil {
		return nil, err
	}
	capsuleAddr, err := c.DeriveCapsuleAddress(owner, capsuleID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction(ixEnableMultisig, func(w *borshWriter) {
		w.str(capsuleID)
		w.pubkeys(approvers)
		w.u8(threshold)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(c.ProgramID(), solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(capsuleAddr).WRITE(),
	}, data), nil
}

// BuildUnlockCheckInstruction asks the program to re-evaluate owner's capsule
// and unlock it when its condition holds.
func (c *LedgerClient) BuildUnlockCheckInstruction(owner solana.PublicKey, capsuleID string) (solana.Instruction, error) {
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	capsuleAddr, err := c.DeriveCapsuleAddress(owner, capsuleID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction(ixCheckCapsuleCondition, func(w *borshWriter) {
		w.str(capsuleID)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(c.ProgramID(), solana.AccountMetaSlice{
		solana.Meta(signer).SIGNER(),
		solana.Meta(capsuleAddr).WRITE(),
	}, data), nil
}

// BuildCheckinInstruction records owner activity on the signer's capsule,
// restarting its inactivity period.
func (c *LedgerClient) BuildCheckinInstruction(capsuleID string) (solana.Instruction, error) {
	owner, err := c.Signer()
	if err != nil {
		return nil, err
	}
	capsuleAddr, err := c.DeriveCapsuleAddress(owner, capsuleID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction(ixCheckinCapsule, func(w *borshWriter) {
		w.str(capsuleID)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(c.ProgramID(), solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(capsuleAddr).WRITE(),
	}, data), nil
}

// BuildReleaseInstruction builds the instruction moving the capsule's asset
// out of its vault to the beneficiary. The program requires the beneficiary
// to sign.
func (c *LedgerClient) BuildReleaseInstruction(address solana.PublicKey, acct *CapsuleAccount) ([]solana.Instruction, error) {
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	configAddr, err := c.DeriveConfigAddress()
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction(releaseDiscriminator(acct.AssetKind), func(w *borshWriter) {
		w.str(acct.CapsuleID)
	})
	if err != nil {
		return nil, err
	}

	var accounts solana.AccountMetaSlice
	switch acct.AssetKind {
	case AssetNative:
		accounts = solana.AccountMetaSlice{
			solana.Meta(signer).WRITE().SIGNER(),
			solana.Meta(address).WRITE(),
			solana.Meta(configAddr).WRITE(),
		}

	case AssetFungible, AssetNFT:
		if acct.AssetMint == nil {
			return nil, fmt.Errorf("capsule %s has no asset mint", acct.CapsuleID)
		}
		mint := *acct.AssetMint
		vault, err := c.vaultOf(acct)
		if err != nil {
			return nil, err
		}
		beneficiaryATA, _, err := solana.FindAssociatedTokenAddress(acct.Beneficiary, mint)
		if err != nil {
			return nil, fmt.Errorf("failed to find beneficiary token account: %w", err)
		}
		accounts = solana.AccountMetaSlice{
			solana.Meta(signer).WRITE().SIGNER(),
			solana.Meta(address).WRITE(),
			solana.Meta(configAddr).WRITE(),
			solana.Meta(mint).WRITE(),
			solana.Meta(vault).WRITE(),
			solana.Meta(beneficiaryATA).WRITE(),
			solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(solana.SystemProgramID),
		}

	case AssetDocument, AssetMessage:
		accounts = solana.AccountMetaSlice{
			solana.Meta(signer).WRITE().SIGNER(),
			solana.Meta(address).WRITE(),
			solana.Meta(configAddr).WRITE(),
			solana.Meta(solana.SystemProgramID),
		}

	default:
		return nil, fmt.Errorf("unsupported asset kind %s", acct.AssetKind)
	}

	return []solana.Instruction{solana.NewInstruction(c.ProgramID(), accounts, data)}, nil
}

func releaseDiscriminator(kind AssetKind) [8]byte {
	switch kind {
	case AssetNative:
		return ixExecuteSolCapsuleRelease
	case AssetFungible:
		return ixExecuteCryptoCapsuleRelease
	case AssetNFT:
		return ixExecuteNftCapsuleRelease
	}
	return ixExecuteCapsuleRelease
}

// vaultOf returns the vault recorded on the capsule, deriving it when absent.
func (c *LedgerClient) vaultOf(acct *CapsuleAccount) (solana.PublicKey, error) {
	switch acct.AssetKind {
	case AssetFungible:
		if acct.AssetTokenVault != nil {
			return *acct.AssetTokenVault, nil
		}
		return c.DeriveVaultAddress(*acct.AssetMint, acct.CapsuleID)
	case AssetNFT:
		if acct.AssetNFTVault != nil {
			return *acct.AssetNFTVault, nil
		}
		return c.DeriveNFTVaultAddress(*acct.AssetMint, acct.CapsuleID)
	}
	return solana.PublicKey{}, fmt.Errorf("asset kind %s has no vault", acct.AssetKind)
}
