package model

import (
	"fmt"
	"time"
)

// CapsuleStatus is the off-ledger lifecycle state of a capsule.
type CapsuleStatus string

const (
	StatusLocked  CapsuleStatus = "locked"
	StatusPending CapsuleStatus = "pending"
	StatusClaimed CapsuleStatus = "claimed"
)

func (s CapsuleStatus) rank() int {
	switch s {
	case StatusLocked:
		return 0
	case StatusPending:
		return 1
	case StatusClaimed:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status.
func (s CapsuleStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. Only single forward steps are allowed.
func (s CapsuleStatus) CanTransition(next CapsuleStatus) bool {
	return s.Valid() && next.Valid() && next.rank() == s.rank()+1
}

// CapsuleJoinRecord is a capsule row joined with its owner and heir.
type CapsuleJoinRecord struct {
	CapsuleID       uint
	CapsuleUniqueID string
	CapsuleAddress  string
	AssetKind       string
	Status          CapsuleStatus
	NoticeStartedAt *time.Time
	NotifiedAt      *time.Time

	OwnerID      uint
	OwnerAddress string
	OwnerSecret  string // sealed

	HeirID       uint
	HeirEmail    string
	HeirFullname string
	HeirAddress  string
}

// CreateCapsuleRequest represents request for POST /capsules
type CreateCapsuleRequest struct {
	OwnerID   uint   `json:"ownerId"`
	HeirEmail string `json:"heirEmail"`
	// AssetKind is one of native, fungible, nft, document, message.
	AssetKind string `json:"assetKind"`
	Mint      string `json:"mint,omitempty"`
	Amount    string `json:"amount,omitempty"`
	URI       string `json:"uri,omitempty"`
	Format    string `json:"format,omitempty"`
	Message   string `json:"message,omitempty"`
	// UnlockMode is time_based or inactivity_based.
	UnlockMode       string   `json:"unlockMode"`
	UnlockTimestamp  *int64   `json:"unlockTimestamp,omitempty"`
	InactivityPeriod *int64   `json:"inactivityPeriod,omitempty"`
	Approvers        []string `json:"approvers,omitempty"`
	Threshold        uint8    `json:"threshold,omitempty"`
}

// CreateCapsuleResponse represents response for POST /capsules
type CreateCapsuleResponse struct {
	CapsuleID string `json:"capsuleId"`
	Address   string `json:"address"`
	TxID      string `json:"txId"`
}

// ReleaseCapsuleRequest represents request for POST /capsules/release
type ReleaseCapsuleRequest struct {
	HeirID  uint   `json:"heirId"`
	Address string `json:"address"`
}

// ReleaseCapsuleResponse represents response for POST /capsules/release
type ReleaseCapsuleResponse struct {
	CapsuleID string `json:"capsuleId"`
	Address   string `json:"address"`
	AssetKind string `json:"assetKind"`
	TxID      string `json:"txId"`
}

// CheckinRequest represents request for POST /capsules/checkin
type CheckinRequest struct {
	OwnerID   uint   `json:"ownerId"`
	CapsuleID string `json:"capsuleId"`
}

// CheckinResponse represents response for POST /capsules/checkin
type CheckinResponse struct {
	TxID string `json:"txId"`
}

// CapsuleLookupResponse represents response for GET /capsules/lookup
type CapsuleLookupResponse struct {
	CapsuleID    string        `json:"capsuleId"`
	Address      string        `json:"address"`
	AssetKind    string        `json:"assetKind"`
	Status       CapsuleStatus `json:"status"`
	HeirEmail    string        `json:"heirEmail"`
	OnLedger     bool          `json:"onLedger"`
	IsLocked     bool          `json:"isLocked"`
	ConditionMet bool          `json:"conditionMet"`
	UnlockMode   string        `json:"unlockMode,omitempty"`
	UnlockAt     *time.Time    `json:"unlockAt,omitempty"`
	Amount       string        `json:"amount,omitempty"`
}

// ParseStatus validates a persisted status string.
func ParseStatus(s string) (CapsuleStatus, error) {
	status := CapsuleStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown capsule status %q", s)
	}
	return status, nil
}
