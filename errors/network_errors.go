package errors

import (
	"github.com/blockmedi/medledger/jsonx"
)

// NetworkErrorCode represents standardized error codes for the ledger routes
type NetworkErrorCode string

const (
	// General errors
	ErrCodeInternal NetworkErrorCode = "internal_error"

	// Validation errors
	ErrCodeInvalidRequest  NetworkErrorCode = "invalid_request"
	ErrCodeInvalidBlock    NetworkErrorCode = "invalid_block"
	ErrCodeBodyTooLarge    NetworkErrorCode = "body_too_large"
	ErrCodeIntegrityFailed NetworkErrorCode = "integrity_failed"

	// System errors
	ErrCodeRateLimited NetworkErrorCode = "rate_limited"
)

// NetworkError represents a standardized network error
type NetworkError struct {
	Code    NetworkErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	err, _ := jsonx.Marshal(NetworkError{
		Code:    e.Code,
		Message: e.Message,
	})
	return string(err)
}

// Error message constants - user-friendly and concise
const (
	ErrMsgInvalidRequest      = "Request format is invalid"
	ErrMsgInvalidBlock        = "Proposed block is invalid"
	ErrMsgInternal            = "Server error, please try again"
	ErrMsgRequestBodyTooLarge = "Request body exceeds maximum allowed size (%d bytes)"
	ErrMsgIntegrityFailed     = "Ledger hash chain is broken"
	ErrMsgRateLimited         = "Too many requests, please slow down"
)

// NewError creates a new NetworkError and returns it as error interface
func NewError(code NetworkErrorCode, message string) error {
	return &NetworkError{
		Code:    code,
		Message: message,
	}
}
