// Package pda derives the program-owned addresses used by the capsule program.
package pda

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed tags. Each logical entity has its own prefix so that seed tuples of
// different entities never coincide.
const (
	ConfigSeed   = "config"
	CapsuleSeed  = "capsule"
	VaultSeed    = "capsule_vault"
	NFTVaultSeed = "capsule_nft_vault"
)

// ErrInvalidSeed is returned when a seed segment exceeds the ledger limits.
var ErrInvalidSeed = errors.New("invalid seed")

// Deriver computes program derived addresses for a single program.
type Deriver struct {
	ProgramID solana.PublicKey
}

// NewDeriver returns a Deriver bound to programID.
func NewDeriver(programID solana.PublicKey) Deriver {
	return Deriver{ProgramID: programID}
}

// Derive returns the address and bump for the given seed segments.
func (d Deriver) Derive(seeds ...[]byte) (solana.PublicKey, uint8, error) {
	// One slot is reserved for the bump seed
	if len(seeds) >= solana.MaxSeeds {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %d segments, max %d", ErrInvalidSeed, len(seeds), solana.MaxSeeds-1)
	}
	for i, seed := range seeds {
		if len(seed) > solana.MaxSeedLength {
			return solana.PublicKey{}, 0, fmt.Errorf("%w: segment %d is %d bytes, max %d", ErrInvalidSeed, i, len(seed), solana.MaxSeedLength)
		}
	}
	return solana.FindProgramAddress(seeds, d.ProgramID)
}

// Config derives the singleton config account.
func (d Deriver) Config() (solana.PublicKey, uint8, error) {
	return d.Derive([]byte(ConfigSeed))
}

// Capsule derives the account of capsule capsuleID owned by owner.
func (d Deriver) Capsule(owner solana.PublicKey, capsuleID string) (solana.PublicKey, uint8, error) {
	return d.Derive([]byte(CapsuleSeed), owner.Bytes(), []byte(capsuleID))
}

// Vault derives the token vault holding mint for capsuleID.
func (d Deriver) Vault(mint solana.PublicKey, capsuleID string) (solana.PublicKey, uint8, error) {
	return d.Derive([]byte(VaultSeed), mint.Bytes(), []byte(capsuleID))
}

// NFTVault derives the NFT vault holding mint for capsuleID.
func (d Deriver) NFTVault(mint solana.PublicKey, capsuleID string) (solana.PublicKey, uint8, error) {
	return d.Derive([]byte(NFTVaultSeed), mint.Bytes(), []byte(capsuleID))
}
