package model

// ErrorResponse is the consistent JSON structure for all API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation        = "VALIDATION"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeCapsuleLocked     = "CAPSULE_LOCKED"
	CodeNotBeneficiary    = "NOT_BENEFICIARY"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeCreationFailed    = "CREATION_FAILED"
	CodeReleaseFailed     = "RELEASE_FAILED"
	CodeCheckinFailed     = "CHECKIN_FAILED"
	CodeTransferFailed    = "TRANSFER_FAILED"
	CodeDecryptionFailed  = "DECRYPTION_FAILED"
	CodeInternal          = "INTERNAL"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
)
