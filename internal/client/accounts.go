package client

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor account discriminators.
var (
	capsuleAccountDiscriminator = [8]byte{212, 231, 77, 219, 58, 13, 118, 241}
	configAccountDiscriminator  = [8]byte{155, 12, 170, 224, 30, 250, 204, 130}
)

// UnlockMode mirrors the program's unlockType enum.
type UnlockMode uint8

const (
	UnlockTimeBased UnlockMode = iota
	UnlockInactivityBased
)

func (m UnlockMode) String() string {
	switch m {
	case UnlockTimeBased:
		return "time_based"
	case UnlockInactivityBased:
		return "inactivity_based"
	}
	return fmt.Sprintf("UnlockMode(%d)", uint8(m))
}

// AssetKind mirrors the program's assetType enum.
type AssetKind uint8

const (
	AssetNFT AssetKind = iota
	AssetFungible
	AssetNative
	AssetDocument
	AssetMessage
)

func (k AssetKind) String() string {
	switch k {
	case AssetNFT:
		return "nft"
	case AssetFungible:
		return "fungible"
	case AssetNative:
		return "native"
	case AssetDocument:
		return "document"
	case AssetMessage:
		return "message"
	}
	return fmt.Sprintf("AssetKind(%d)", uint8(k))
}

// RecoveryProposal is an in-flight multisig recovery request.
type RecoveryProposal struct {
	Proposer   solana.PublicKey
	Signatures []solana.PublicKey
	Timestamp  int64
}

// CapsuleAccount is the on-ledger state of a capsule.
type CapsuleAccount struct {
	Owner               solana.PublicKey
	CapsuleID           string
	UnlockMode          UnlockMode
	AssetMint           *solana.PublicKey
	AssetKind           AssetKind
	UnlockTimestamp     *int64
	InactivityPeriod    *int64
	LastCheckin         *int64
	Amount              *uint64
	AssetTokenVault     *solana.PublicKey
	AssetTokenVaultBump *uint8
	AssetNFTVault       *solana.PublicKey
	AssetNFTVaultBump   *uint8
	AssetURI            *string
	DocumentFormat      *string
	EncryptedMessage    *string
	IsLocked            bool
	Beneficiary         solana.PublicKey
	MultisigSecured     bool
	ApprovalList        []solana.PublicKey
	ApprovalThreshold   *uint8
	Proposal            *RecoveryProposal
	Bump                uint8
}

// ConditionMet reports whether the capsule's unlock condition holds at now.
func (a *CapsuleAccount) ConditionMet(now time.Time) bool {
	switch a.UnlockMode {
	case UnlockTimeBased:
		return a.UnlockTimestamp != nil && now.Unix() >= *a.UnlockTimestamp
	case UnlockInactivityBased:
		if a.InactivityPeriod == nil || a.LastCheckin == nil {
			return false
		}
		return now.Unix() >= *a.LastCheckin+*a.InactivityPeriod
	}
	return false
}

// UnmarshalWithDecoder decodes a capsule account including its discriminator.
func (a *CapsuleAccount) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &borshReader{dec: dec}
	if disc := r.raw(8); r.err == nil && !bytes.Equal(disc, capsuleAccountDiscriminator[:]) {
		return fmt.Errorf("not a capsule account: discriminator %v", disc)
	}

	a.Owner = r.pubkey()
	a.CapsuleID = r.str()
	a.UnlockMode = UnlockMode(r.u8())
	a.AssetMint = r.optPubkey()
	a.AssetKind = AssetKind(r.u8())
	a.UnlockTimestamp = r.optI64()
	a.InactivityPeriod = r.optI64()
	a.LastCheckin = r.optI64()
	a.Amount = r.optU64()
	a.AssetTokenVault = r.optPubkey()
	a.AssetTokenVaultBump = r.optU8()
	a.AssetNFTVault = r.optPubkey()
	a.AssetNFTVaultBump = r.optU8()
	a.AssetURI = r.optStr()
	a.DocumentFormat = r.optStr()
	a.EncryptedMessage = r.optStr()
	a.IsLocked = r.boolean()
	a.Beneficiary = r.pubkey()
	a.MultisigSecured = r.boolean()
	a.ApprovalList = nil
	if r.option() {
		a.ApprovalList = r.pubkeys()
	}
	a.ApprovalThreshold = r.optU8()
	a.Proposal = nil
	if r.option() {
		a.Proposal = &RecoveryProposal{
			Proposer:   r.pubkey(),
			Signatures: r.pubkeys(),
			Timestamp:  r.i64(),
		}
	}
	a.Bump = r.u8()

	if r.err != nil {
		return fmt.Errorf("failed to decode capsule account: %w", r.err)
	}
	return nil
}

// MarshalWithEncoder encodes a capsule account including its discriminator.
func (a CapsuleAccount) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &borshWriter{enc: enc}
	w.raw(capsuleAccountDiscriminator[:])
	w.pubkey(a.Owner)
	w.str(a.CapsuleID)
	w.u8(uint8(a.UnlockMode))
	w.optPubkey(a.AssetMint)
	w.u8(uint8(a.AssetKind))
	w.optI64(a.UnlockTimestamp)
	w.optI64(a.InactivityPeriod)
	w.optI64(a.LastCheckin)
	w.optU64(a.Amount)
	w.optPubkey(a.AssetTokenVault)
	w.optU8(a.AssetTokenVaultBump)
	w.optPubkey(a.AssetNFTVault)
	w.optU8(a.AssetNFTVaultBump)
	w.optStr(a.AssetURI)
	w.optStr(a.DocumentFormat)
	w.optStr(a.EncryptedMessage)
	w.boolean(a.IsLocked)
	w.pubkey(a.Beneficiary)
	w.boolean(a.MultisigSecured)
	w.option(a.ApprovalList != nil)
	if a.ApprovalList != nil {
		w.pubkeys(a.ApprovalList)
	}
	w.optU8(a.ApprovalThreshold)
	w.option(a.Proposal != nil)
	if a.Proposal != nil {
		w.pubkey(a.Proposal.Proposer)
		w.pubkeys(a.Proposal.Signatures)
		w.i64(a.Proposal.Timestamp)
	}
	w.u8(a.Bump)
	return w.err
}

// ConfigAccount is the program's global configuration and counters.
type ConfigAccount struct {
	Admin                   solana.PublicKey
	SupportedCryptocurrency []solana.PublicKey
	SupportedDocuments      []string
	TotalCapsules           uint64
	TotalCryptoCapsules     uint64
	TotalNFTCapsules        uint64
	TotalDocumentCapsules   uint64
	TotalMessageCapsules    uint64
	TotalRetrievedCapsules  uint64
	FeeVault                solana.PublicKey
	FeeBps                  uint8
	Bump                    uint8
}

// UnmarshalWithDecoder decodes the config account including its discriminator.
func (c *ConfigAccount) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &borshReader{dec: dec}
	if disc := r.raw(8); r.err == nil && !bytes.Equal(disc, configAccountDiscriminator[:]) {
		return fmt.Errorf("not a config account: discriminator %v", disc)
	}

	c.Admin = r.pubkey()
	c.SupportedCryptocurrency = r.pubkeys()
	n := r.length(4)
	c.SupportedDocuments = make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		c.SupportedDocuments = append(c.SupportedDocuments, r.str())
	}
	c.TotalCapsules = r.u64()
	c.TotalCryptoCapsules = r.u64()
	c.TotalNFTCapsules = r.u64()
	c.TotalDocumentCapsules = r.u64()
	c.TotalMessageCapsules = r.u64()
	c.TotalRetrievedCapsules = r.u64()
	c.FeeVault = r.pubkey()
	c.FeeBps = r.u8()
	c.Bump = r.u8()

	if r.err != nil {
		return fmt.Errorf("failed to decode config account: %w", r.err)
	}
	return nil
}

// MarshalWithEncoder encodes the config account including its discriminator.
func (c ConfigAccount) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &borshWriter{enc: enc}
	w.raw(configAccountDiscriminator[:])
	w.pubkey(c.Admin)
	w.pubkeys(c.SupportedCryptocurrency)
	w.length(len(c.SupportedDocuments))
	for _, doc := range c.SupportedDocuments {
		w.str(doc)
	}
	w.u64(c.TotalCapsules)
	w.u64(c.TotalCryptoCapsules)
	w.u64(c.TotalNFTCapsules)
	w.u64(c.TotalDocumentCapsules)
	w.u64(c.TotalMessageCapsules)
	w.u64(c.TotalRetrievedCapsules)
	w.pubkey(c.FeeVault)
	w.u8(c.FeeBps)
	w.u8(c.Bump)
	return w.err
}

// FormatCapsuleID returns the id of the capsule that follows count existing ones.
// Ids are padded to three digits and grow past that without truncation.
func FormatCapsuleID(count uint64) string {
	next := uint64(1)
	if count > 0 {
		next = count + 1
	}
	return fmt.Sprintf("CAPSULE_%03d", next)
}

// EncodeAccount serializes an account layout to raw account data.
func EncodeAccount(v bin.BinaryMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := v.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
