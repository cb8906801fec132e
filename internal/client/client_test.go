package client

import (
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("6GuYwH7dmXsBpfy92eu2YRyFyqcYSzKXywFEVNNksrwA")

func newTestClient(t *testing.T, opts ...Option) (*LedgerClient, *fakeRPC) {
	t.Helper()
	conn := newFakeRPC()
	opts = append([]Option{WithPollInterval(time.Millisecond), WithConfirmTimeout(50 * time.Millisecond)}, opts...)
	return NewLedgerClient(conn, testProgramID, opts...), conn
}

func int64Ptr(v int64) *int64 { return &v }

func sampleCapsule(owner, beneficiary solana.PublicKey) CapsuleAccount {
	amount := uint64(10_000_000_000)
	return CapsuleAccount{
		Owner:            owner,
		CapsuleID:        "CAPSULE_001",
		UnlockMode:       UnlockTimeBased,
		AssetKind:        AssetNative,
		UnlockTimestamp:  int64Ptr(1_700_000_000),
		Amount:           &amount,
		IsLocked:         true,
		Beneficiary:      beneficiary,
		MultisigSecured:  true,
		ApprovalList:     []solana.PublicKey{solana.NewWallet().PublicKey()},
		Proposal:         &RecoveryProposal{Proposer: owner, Signatures: []solana.PublicKey{}, Timestamp: 42},
		Bump:             254,
		InactivityPeriod: nil,
	}
}

func TestFormatCapsuleID(t *testing.T) {
	assert.Equal(t, "CAPSULE_001", FormatCapsuleID(0))
	assert.Equal(t, "CAPSULE_010", FormatCapsuleID(9))
	assert.Equal(t, "CAPSULE_100", FormatCapsuleID(99))
	assert.Equal(t, "CAPSULE_1000", FormatCapsuleID(999))
}

func TestCapsuleAccountLayout(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	want := sampleCapsule(owner, solana.NewWallet().PublicKey())

	data, err := EncodeAccount(want)
	require.NoError(t, err)
	assert.Equal(t, capsuleAccountDiscriminator[:], data[:8])

	var got CapsuleAccount
	require.NoError(t, got.UnmarshalWithDecoder(bin.NewBorshDecoder(data)))
	assert.Equal(t, want, got)
}

func TestCapsuleAccountRejectsForeignData(t *testing.T) {
	cfg, err := EncodeAccount(ConfigAccount{})
	require.NoError(t, err)

	var acct CapsuleAccount
	assert.Error(t, acct.UnmarshalWithDecoder(bin.NewBorshDecoder(cfg)))

	// truncated capsule data must fail rather than panic
	data, err := EncodeAccount(sampleCapsule(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()))
	require.NoError(t, err)
	assert.Error(t, acct.UnmarshalWithDecoder(bin.NewBorshDecoder(data[:50])))
}

func TestConditionMet(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	timed := CapsuleAccount{UnlockMode: UnlockTimeBased, UnlockTimestamp: int64Ptr(now.Unix())}
	assert.True(t, timed.ConditionMet(now))
	assert.False(t, timed.ConditionMet(now.Add(-time.Second)))

	idle := CapsuleAccount{
		UnlockMode:       UnlockInactivityBased,
		InactivityPeriod: int64Ptr(3600),
		LastCheckin:      int64Ptr(now.Unix()),
	}
	assert.False(t, idle.ConditionMet(now.Add(59*time.Minute)))
	assert.True(t, idle.ConditionMet(now.Add(time.Hour)))

	assert.False(t, (&CapsuleAccount{UnlockMode: UnlockInactivityBased}).ConditionMet(now))
}

func TestNextCapsuleID(t *testing.T) {
	c, conn := newTestClient(t)

	_, err := c.NextCapsuleID(context.Background())
	require.ErrorIs(t, err, ErrAccountNotFound)

	addr, err := c.DeriveConfigAddress()
	require.NoError(t, err)
	data, err := EncodeAccount(ConfigAccount{TotalCapsules: 41, SupportedDocuments: []string{"pdf"}})
	require.NoError(t, err)
	conn.setAccount(addr, data)

	id, err := c.NextCapsuleID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CAPSULE_042", id)
}

func TestFetchLockStatus(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	c, conn := newTestClient(t, WithClock(func() time.Time { return now }))
	owner := solana.NewWallet().PublicKey()

	_, err := c.FetchLockStatus(context.Background(), owner, "CAPSULE_001")
	require.ErrorIs(t, err, ErrAccountNotFound)

	acct := sampleCapsule(owner, solana.NewWallet().PublicKey())
	addr, err := c.DeriveCapsuleAddress(owner, acct.CapsuleID)
	require.NoError(t, err)
	data, err := EncodeAccount(acct)
	require.NoError(t, err)
	conn.setAccount(addr, data)

	status, err := c.FetchLockStatus(context.Background(), owner, acct.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, addr, status.Address)
	assert.True(t, status.IsLocked)
	assert.True(t, status.ConditionMet)
	assert.True(t, status.Unlockable())

	acct.UnlockTimestamp = int64Ptr(now.Add(time.Hour).Unix())
	data, err = EncodeAccount(acct)
	require.NoError(t, err)
	conn.setAccount(addr, data)

	status, err = c.FetchLockStatus(context.Background(), owner, acct.CapsuleID)
	require.NoError(t, err)
	assert.False(t, status.Unlockable())
}

func TestTokenBalanceMissingAccountIsZero(t *testing.T) {
	c, conn := newTestClient(t)
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	balance, err := c.TokenBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Zero(t, balance)

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	conn.tokens[ata] = 100

	balance, err = c.TokenBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestBuildersRequireSigner(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	pk := solana.NewWallet().PublicKey()

	_, err := c.BuildCreateInstruction(ctx, CreateParams{CapsuleID: "CAPSULE_001", Asset: NativeAsset{Lamports: 1}})
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.BuildReleaseInstruction(pk, &CapsuleAccount{CapsuleID: "CAPSULE_001"})
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.BuildUnlockCheckInstruction(pk, "CAPSULE_001")
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.BuildCheckinInstruction("CAPSULE_001")
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.BuildBootstrapTransfer(pk, 1)
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.BuildTokenTransfer(ctx, pk, pk, 1, 0)
	assert.ErrorIs(t, err, ErrProviderNotBound)
	_, err = c.SendAndConfirm(ctx)
	assert.ErrorIs(t, err, ErrProviderNotBound)
}

func TestWithSignerDoesNotMutateReceiver(t *testing.T) {
	c, _ := newTestClient(t)
	owner := solana.NewWallet()

	bound := c.WithSigner(owner.PrivateKey)
	pk, err := bound.Signer()
	require.NoError(t, err)
	assert.Equal(t, owner.PublicKey(), pk)

	_, err = c.Signer()
	assert.ErrorIs(t, err, ErrProviderNotBound)
}

func TestBuildCreateNativeInstruction(t *testing.T) {
	c, _ := newTestClient(t)
	owner := solana.NewWallet()
	beneficiary := solana.NewWallet().PublicKey()
	bound := c.WithSigner(owner.PrivateKey)

	ixs, err := bound.BuildCreateInstruction(context.Background(), CreateParams{
		CapsuleID:   "CAPSULE_007",
		Beneficiary: beneficiary,
		Unlock:      Unlock{Mode: UnlockTimeBased, Timestamp: int64Ptr(1_900_000_000)},
		Asset:       NativeAsset{Lamports: 5_000},
	})
	require.NoError(t, err)
	require.Len(t, ixs, 1)

	ix := ixs[0]
	assert.Equal(t, testProgramID, ix.ProgramID())
	accounts := ix.Accounts()
	require.Len(t, accounts, 4)
	assert.Equal(t, owner.PublicKey(), accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	capsuleAddr, err := c.DeriveCapsuleAddress(owner.PublicKey(), "CAPSULE_007")
	require.NoError(t, err)
	assert.Equal(t, capsuleAddr, accounts[2].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	dec := bin.NewBorshDecoder(data)
	disc, err := dec.ReadNBytes(8)
	require.NoError(t, err)
	assert.Equal(t, ixCreateSolCryptoCapsule[:], disc)
	id, err := dec.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "CAPSULE_007", id)
	mode, err := dec.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(UnlockTimeBased), mode)
	some, err := dec.ReadOption()
	require.NoError(t, err)
	require.True(t, some)
	ts, err := dec.ReadInt64(bin.LE)
	require.NoError(t, err)
	assert.Equal(t, int64(1_900_000_000), ts)
	some, err = dec.ReadOption()
	require.NoError(t, err)
	assert.False(t, some)
	key, err := dec.ReadNBytes(32)
	require.NoError(t, err)
	assert.Equal(t, beneficiary.Bytes(), key)
	lamports, err := dec.ReadUint64(bin.LE)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), lamports)
	secured, err := dec.ReadBool()
	require.NoError(t, err)
	assert.False(t, secured)
	assert.Zero(t, dec.Remaining())
}

func TestBuildCreateFungibleAddsBeneficiaryAccount(t *testing.T) {
	c, conn := newTestClient(t)
	owner := solana.NewWallet()
	beneficiary := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	bound := c.WithSigner(owner.PrivateKey)

	params := CreateParams{
		CapsuleID:   "CAPSULE_002",
		Beneficiary: beneficiary,
		Unlock:      Unlock{Mode: UnlockInactivityBased, InactivityPeriod: int64Ptr(86400)},
		Asset:       FungibleAsset{Mint: mint, Amount: 10},
		Multisig:    &Multisig{Approvers: []solana.PublicKey{solana.NewWallet().PublicKey()}, Threshold: 1},
	}

	ixs, err := bound.BuildCreateInstruction(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, ixs, 3)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())
	assert.Len(t, ixs[1].Accounts(), 9)
	data, err := ixs[2].Data()
	require.NoError(t, err)
	assert.Equal(t, ixEnableMultisig[:], data[:8])

	// an existing beneficiary account is reused
	ata, _, err := solana.FindAssociatedTokenAddress(beneficiary, mint)
	require.NoError(t, err)
	conn.setAccount(ata, []byte{0})

	ixs, err = bound.BuildCreateInstruction(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, ixs, 2)
	assert.Equal(t, testProgramID, ixs[0].ProgramID())
}

func TestBuildTransfer(t *testing.T) {
	c, _ := newTestClient(t)
	owner := solana.NewWallet()
	dest := solana.NewWallet().PublicKey()

	ix, err := c.WithSigner(owner.PrivateKey).BuildTransfer(dest, 1_500_000_000)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, ix.ProgramID())
	accounts := ix.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, owner.PublicKey(), accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, dest, accounts[1].PublicKey)
}

func TestBuildTokenTransfer(t *testing.T) {
	c, conn := newTestClient(t)
	owner := solana.NewWallet()
	dest := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	bound := c.WithSigner(owner.PrivateKey)

	source, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	require.NoError(t, err)
	target, _, err := solana.FindAssociatedTokenAddress(dest, mint)
	require.NoError(t, err)

	ixs, err := bound.BuildTokenTransfer(context.Background(), dest, mint, 2_500_000, 6)
	require.NoError(t, err)
	require.Len(t, ixs, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())

	transfer := ixs[1]
	assert.Equal(t, solana.TokenProgramID, transfer.ProgramID())
	accounts := transfer.Accounts()
	require.Len(t, accounts, 4)
	assert.Equal(t, source, accounts[0].PublicKey)
	assert.Equal(t, mint, accounts[1].PublicKey)
	assert.Equal(t, target, accounts[2].PublicKey)
	assert.Equal(t, owner.PublicKey(), accounts[3].PublicKey)

	data, err := transfer.Data()
	require.NoError(t, err)
	require.Len(t, data, 10)
	assert.Equal(t, byte(12), data[0])
	assert.Equal(t, uint64(2_500_000), bin.LE.Uint64(data[1:9]))
	assert.Equal(t, byte(6), data[9])

	// an existing destination account is reused
	conn.setAccount(target, []byte{0})
	ixs, err = bound.BuildTokenTransfer(context.Background(), dest, mint, 1, 6)
	require.NoError(t, err)
	require.Len(t, ixs, 1)
	assert.Equal(t, solana.TokenProgramID, ixs[0].ProgramID())
}

func TestBuildReleaseInstructionUsesRecordedVault(t *testing.T) {
	c, _ := newTestClient(t)
	heir := solana.NewWallet()
	mint := solana.NewWallet().PublicKey()
	vault := solana.NewWallet().PublicKey()
	acct := &CapsuleAccount{
		CapsuleID:       "CAPSULE_003",
		AssetKind:       AssetFungible,
		AssetMint:       &mint,
		AssetTokenVault: &vault,
		Beneficiary:     heir.PublicKey(),
	}

	ixs, err := c.WithSigner(heir.PrivateKey).BuildReleaseInstruction(solana.NewWallet().PublicKey(), acct)
	require.NoError(t, err)
	require.Len(t, ixs, 1)
	accounts := ixs[0].Accounts()
	require.Len(t, accounts, 9)
	assert.Equal(t, heir.PublicKey(), accounts[0].PublicKey)
	assert.Equal(t, vault, accounts[4].PublicKey)

	data, err := ixs[0].Data()
	require.NoError(t, err)
	assert.Equal(t, ixExecuteCryptoCapsuleRelease[:], data[:8])
}

func TestSendAndConfirm(t *testing.T) {
	c, conn := newTestClient(t)
	payer := solana.NewWallet()
	bound := c.WithSigner(payer.PrivateKey)

	ix, err := bound.BuildCheckinInstruction("CAPSULE_001")
	require.NoError(t, err)

	sig, err := bound.SendAndConfirm(context.Background(), ix)
	require.NoError(t, err)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, conn.sent[0].Signatures[0], sig)
	require.NoError(t, conn.sent[0].VerifySignatures())
}

func TestSendAndConfirmSurfacesProgramError(t *testing.T) {
	c, conn := newTestClient(t)
	bound := c.WithSigner(solana.NewWallet().PrivateKey)
	conn.statusErr = map[string]interface{}{
		"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": float64(CodeConditionsNotMet)}},
	}

	ix, err := bound.BuildCheckinInstruction("CAPSULE_001")
	require.NoError(t, err)
	_, err = bound.SendAndConfirm(context.Background(), ix)
	require.Error(t, err)
	assert.True(t, IsProgramError(err, CodeConditionsNotMet))

	var pe *ProgramError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "conditionsNotMet", pe.Name())
}

func TestSendAndConfirmPreflightProgramError(t *testing.T) {
	c, conn := newTestClient(t)
	bound := c.WithSigner(solana.NewWallet().PrivateKey)
	conn.sendErr = errors.New("Transaction simulation failed: custom program error: 0x1781")

	ix, err := bound.BuildCheckinInstruction("CAPSULE_001")
	require.NoError(t, err)
	_, err = bound.SendAndConfirm(context.Background(), ix)
	assert.True(t, IsProgramError(err, CodeCapsuleLocked))
}

func TestSendAndConfirmTimesOut(t *testing.T) {
	c, conn := newTestClient(t)
	bound := c.WithSigner(solana.NewWallet().PrivateKey)
	conn.pending = true

	ix, err := bound.BuildCheckinInstruction("CAPSULE_001")
	require.NoError(t, err)
	_, err = bound.SendAndConfirm(context.Background(), ix)
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestProgramErrorName(t *testing.T) {
	assert.Equal(t, "unauthorized", (&ProgramError{Code: CodeUnauthorized}).Name())
	assert.Equal(t, "invalidUnlockTimestamp", (&ProgramError{Code: CodeInvalidUnlockTimestamp}).Name())
	assert.Equal(t, "unknown", (&ProgramError{Code: 42}).Name())
}
