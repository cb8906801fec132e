package capsule

import (
	"errors"
	"fmt"
)

// Validation errors. Returned before any ledger call.
var (
	ErrInvalidUnlockParameters = errors.New("invalid unlock parameters")
	ErrInvalidAmount           = errors.New("amount must be a positive decimal")
	ErrInvalidAsset            = errors.New("invalid capsule asset")
	ErrInvalidBeneficiary      = errors.New("invalid beneficiary")
	ErrInvalidMultisig         = errors.New("invalid multisig configuration")
	ErrInvalidDestination      = errors.New("invalid transfer destination")
)

// Precondition errors. Returned after a read-only ledger query.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrCapsuleStillLocked = errors.New("capsule is still locked")
	ErrNotBeneficiary     = errors.New("signer is not the capsule beneficiary")
)

// Terminal failures after the retry policy is exhausted.
var (
	ErrCapsuleCreationFailed  = errors.New("capsule creation failed")
	ErrReleaseExecutionFailed = errors.New("capsule release failed")
	ErrCheckinFailed          = errors.New("capsule check-in failed")
	ErrTransferFailed         = errors.New("wallet transfer failed")
)

// CreationFailedError carries the last ledger error of a failed creation.
type CreationFailedError struct {
	Attempts int
	Err      error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("capsule creation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CreationFailedError) Unwrap() error { return e.Err }

func (e *CreationFailedError) Is(target error) bool { return target == ErrCapsuleCreationFailed }

// ReleaseFailedError carries the last ledger error of a failed release.
type ReleaseFailedError struct {
	Attempts int
	Err      error
}

func (e *ReleaseFailedError) Error() string {
	return fmt.Sprintf("capsule release failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ReleaseFailedError) Unwrap() error { return e.Err }

func (e *ReleaseFailedError) Is(target error) bool { return target == ErrReleaseExecutionFailed }

// IsValidationError checks if err was raised before touching the ledger
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUnlockParameters) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAsset) ||
		errors.Is(err, ErrInvalidBeneficiary) ||
		errors.Is(err, ErrInvalidMultisig) ||
		errors.Is(err, ErrInvalidDestination)
}

// IsPreconditionError checks if err is a precondition failure
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCapsuleStillLocked) ||
		errors.Is(err, ErrNotBeneficiary)
}

// IsCreationFailedError checks if err is CreationFailedError
func IsCreationFailedError(err error) bool {
	var e *CreationFailedError
	return errors.As(err, &e)
}

// IsReleaseFailedError checks if err is ReleaseFailedError
func IsReleaseFailedError(err error) bool {
	var e *ReleaseFailedError
	return errors.As(err, &e)
}
