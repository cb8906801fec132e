package client

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderNotBound is returned when an operation needs a signing identity
	// and none is attached.
	ErrProviderNotBound = errors.New("ledger client has no signing identity")
	// ErrAccountNotFound is returned when a referenced on-ledger account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotConfirmed is returned when a submitted transaction is not confirmed in time.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

// Custom error codes raised by the capsule program.
const (
	CodeUnauthorized            = 6000
	CodeInsufficientFunds       = 6008
	CodeCapsuleNotLocked        = 6016
	CodeCapsuleLocked           = 6017
	CodeConditionsNotMet        = 6018
	CodeMissingUnlockTimestamp  = 6027
	CodeMissingInactivityPeriod = 6028
	CodeInvalidUnlockTimestamp  = 6029
	firstProgramErrorCode       = 6000
	lastProgramErrorCode        = 6029
)

var programErrorNames = [...]string{
	"unauthorized",
	"duplicateAsset",
	"invalidFormat",
	"invalidAsset",
	"invalidMint",
	"invalidNftMint",
	"invalidTokenAccount",
	"mathOverflow",
	"insufficientFunds",
	"invalidAssetContent",
	"invalidAssetFormat",
	"unsupportedDocumentFormat",
	"unsupportedCryptocurrency",
	"invalidAction",
	"invalidAssetVault",
	"invalidInactivityPeriod",
	"capsuleNotLocked",
	"capsuleLocked",
	"conditionsNotMet",
	"multisigNotEnabled",
	"proposalAlreadyInitiated",
	"unauthorizedProposer",
	"noRecoveryProposal",
	"recoveryProposalNotEmpty",
	"invalidApprovalKeys",
	"invalidApprovalThreshold",
	"invalidApprovalConfig",
	"missingUnlockTimestamp",
	"missingInactivityPeriod",
	"invalidUnlockTimestamp",
}

// ProgramError is a custom error returned by the capsule program.
type ProgramError struct {
	Code int
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("capsule program error %d (%s)", e.Code, e.Name())
}

// Name returns the program's name for the error code.
func (e *ProgramError) Name() string {
	if e.Code < firstProgramErrorCode || e.Code > lastProgramErrorCode {
		return "unknown"
	}
	return programErrorNames[e.Code-firstProgramErrorCode]
}

// IsProgramError reports whether err carries the given program error code.
func IsProgramError(err error, code int) bool {
	var pe *ProgramError
	return errors.As(err, &pe) && pe.Code == code
}

// programErrorFromStatus extracts a custom program error from the status
// error object of a failed transaction, e.g.
// {"InstructionError":[2,{"Custom":6018}]}.
func programErrorFromStatus(status interface{}) error {
	m, ok := status.(map[string]interface{})
	if !ok {
		return fmt.Errorf("transaction failed: %v", status)
	}
	ie, ok := m["InstructionError"].([]interface{})
	if !ok || len(ie) != 2 {
		return fmt.Errorf("transaction failed: %v", status)
	}
	detail, ok := ie[1].(map[string]interface{})
	if !ok {
		return fmt.Errorf("transaction failed: %v", status)
	}
	switch code := detail["Custom"].(type) {
	case float64:
		return &ProgramError{Code: int(code)}
	case int:
		return &ProgramError{Code: code}
	}
	return fmt.Errorf("transaction failed: %v", status)
}

// isATANotFoundError checks if error indicates that an account doesn't exist
func isATANotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "could not find account") ||
		strings.Contains(errStr, "not found")
}
