// Package protocol defines the SRP handshake wire format: content tags, the
// three handshake packets and the handshake error taxonomy.
package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a handshake error.
type ErrorCode string

// Handshake error codes.
const (
	// ErrCodeInvalidInput indicates a request was built without username or password.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMisuse indicates an operation was invoked outside its allowed lifecycle.
	ErrCodeMisuse ErrorCode = "MISUSE"
	// ErrCodeUnexpectedContent indicates a content tag that the current state cannot accept.
	ErrCodeUnexpectedContent ErrorCode = "UNEXPECTED_CONTENT"

	// ErrCodeProtocolViolation indicates A, B or u reduced to zero.
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	// ErrCodeProofMismatch indicates a received proof did not match the local one.
	ErrCodeProofMismatch ErrorCode = "PROOF_MISMATCH"
	// ErrCodeExpired indicates the handshake outlived its expiration window.
	ErrCodeExpired ErrorCode = "EXPIRED"
	// ErrCodeCredentialDenied indicates the credential store has no entry for the user.
	ErrCodeCredentialDenied ErrorCode = "CREDENTIAL_DENIED"
	// ErrCodeStoreFailure indicates the credential store itself failed.
	ErrCodeStoreFailure ErrorCode = "STORE_FAILURE"
	// ErrCodeCorruptPacket indicates malformed packet bytes.
	ErrCodeCorruptPacket ErrorCode = "CORRUPT_PACKET"
)

// HandshakeError is the single error type raised by handshake processing.
type HandshakeError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the inner cause.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Is matches another *HandshakeError by code, so errors.Is(err,
// &HandshakeError{Code: ErrCodeExpired}) works.
func (e *HandshakeError) Is(target error) bool {
	t, ok := target.(*HandshakeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WireVisible reports whether the error is a protocol event that is sent to
// the far side, as opposed to an integration bug returned to the caller.
func (e *HandshakeError) WireVisible() bool {
	switch e.Code {
	case ErrCodeProtocolViolation, ErrCodeProofMismatch, ErrCodeExpired,
		ErrCodeCredentialDenied, ErrCodeStoreFailure, ErrCodeCorruptPacket:
		return true
	default:
		return false
	}
}

// Reason returns the human-readable message sent on the wire.
func (e *HandshakeError) Reason() string {
	return e.Message
}

// NewError creates a new HandshakeError.
func NewError(code ErrorCode, message string) *HandshakeError {
	return &HandshakeError{Code: code, Message: message}
}

// WrapError creates a new HandshakeError with an inner cause.
func WrapError(code ErrorCode, message string, err error) *HandshakeError {
	return &HandshakeError{Code: code, Message: message, Err: err}
}

// AsHandshakeError extracts a *HandshakeError from err.
func AsHandshakeError(err error) (*HandshakeError, bool) {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" if err is not a HandshakeError.
func CodeOf(err error) ErrorCode {
	if he, ok := AsHandshakeError(err); ok {
		return he.Code
	}
	return ""
}

// Common error constructors

// NewInvalidInputError creates an invalid input error.
func NewInvalidInputError(message string) *HandshakeError {
	return NewError(ErrCodeInvalidInput, message)
}

// NewMisuseError creates a misuse error.
func NewMisuseError(message string) *HandshakeError {
	return NewError(ErrCodeMisuse, message)
}

// NewUnexpectedContentError creates an error for a tag the current state cannot accept.
func NewUnexpectedContentError(state string, got Content) *HandshakeError {
	return NewError(ErrCodeUnexpectedContent, fmt.Sprintf("unexpected %s content while %s", got, state))
}

// NewProtocolViolationError creates a protocol violation error.
func NewProtocolViolationError(message string, err error) *HandshakeError {
	return WrapError(ErrCodeProtocolViolation, message, err)
}

// NewProofMismatchError creates a proof mismatch error.
func NewProofMismatchError(message string) *HandshakeError {
	return NewError(ErrCodeProofMismatch, message)
}

// NewExpiredError creates an expiry error.
func NewExpiredError() *HandshakeError {
	return NewError(ErrCodeExpired, "hand was not shaken before it expired")
}

// NewCredentialDeniedError creates a credential denied error.
func NewCredentialDeniedError() *HandshakeError {
	return NewError(ErrCodeCredentialDenied, "wrong username or password")
}

// NewStoreFailureError creates a store failure error.
func NewStoreFailureError(err error) *HandshakeError {
	return WrapError(ErrCodeStoreFailure, "credential lookup failed", err)
}

// NewCorruptPacketError creates a corrupt packet error naming the packet type.
func NewCorruptPacketError(packet string, err error) *HandshakeError {
	return WrapError(ErrCodeCorruptPacket, "received data was corrupt, of type "+packet, err)
}
