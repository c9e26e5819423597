package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a stable machine code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidKeyMaterial     = "invalid_key_material"
	ErrCodeInvalidSeedPhrase      = "invalid_seed_phrase"
	ErrCodeInvalidTransaction     = "invalid_transaction"
	ErrCodeSigningFailed          = "signing_failed"
	ErrCodeIncompleteSignatures   = "incomplete_signature_set"
	ErrCodeInvalidPairingURI      = "invalid_pairing_uri"
	ErrCodeUnsupportedNetwork     = "unsupported_network"
	ErrCodeUserRejected           = "user_rejected"
	ErrCodeConnectionTimeout      = "connection_timeout"
	ErrCodeNoActiveSession        = "no_active_session"
	ErrCodeRequestTimedOut        = "request_timed_out"
	ErrCodeUiHandlerNotConfigured = "ui_handler_not_configured"
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string) *AppError {
	return &AppError{Code: code, Message: message, Detail: detail}
}

// InvalidKeyMaterial indicates key bytes that do not form a valid curve scalar.
func InvalidKeyMaterial(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidKeyMaterial, "Invalid key material", detail)
}

// InvalidSeedPhrase indicates a mnemonic that failed checksum validation.
func InvalidSeedPhrase(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidSeedPhrase, "Invalid seed phrase", detail)
}

// InvalidTransaction indicates a transaction with malformed fields.
func InvalidTransaction(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidTransaction, "Invalid transaction", detail)
}

// SigningFailed indicates absent or unusable key material at signing time.
func SigningFailed(detail string) *AppError {
	return NewWithDetail(ErrCodeSigningFailed, "Signing failed", detail)
}

// IncompleteSignatureSet indicates a batch that produced fewer signatures than requested.
func IncompleteSignatureSet(got, want int) *AppError {
	return NewWithDetail(ErrCodeIncompleteSignatures, "Incomplete signature set",
		fmt.Sprintf("got %d of %d signatures", got, want))
}

// InvalidPairingURI indicates a connection string that does not match the expected scheme.
func InvalidPairingURI(uri string) *AppError {
	return NewWithDetail(ErrCodeInvalidPairingURI, "Invalid pairing URI", uri)
}

// UnsupportedNetwork indicates a proposal requesting chains outside the supported set.
func UnsupportedNetwork(chains string) *AppError {
	return NewWithDetail(ErrCodeUnsupportedNetwork, "Unsupported network", chains)
}

// UserRejected indicates the user declined a connection or signing prompt.
func UserRejected() *AppError {
	return New(ErrCodeUserRejected, "User rejected the request")
}

// ConnectionTimeout indicates a pairing that never reached settlement in time.
func ConnectionTimeout() *AppError {
	return New(ErrCodeConnectionTimeout, "Connection timed out before settlement")
}

// NoActiveSession indicates no live session remains for the wallet address.
func NoActiveSession(address string) *AppError {
	return NewWithDetail(ErrCodeNoActiveSession, "No active session", address)
}

// RequestTimedOut indicates a delegated request that hit its deadline.
func RequestTimedOut(requestID string) *AppError {
	return NewWithDetail(ErrCodeRequestTimedOut, "Request timed out", requestID)
}

// UiHandlerNotConfigured indicates a confirmation handler was never wired in.
// This is a programmer error and should surface immediately.
func UiHandlerNotConfigured() *AppError {
	return New(ErrCodeUiHandlerNotConfigured, "UI confirmation handler not configured")
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
