// Package domainerrors provides coded errors for the compliance core.
//
// Services return these so transport layers can map failures to statuses and
// callers can branch on the class of failure without string matching. Stores
// return sentinel errors (pkg/platform/sentinel) and services translate them
// here at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// CodeValidation: malformed input rejected before any state change.
	CodeValidation Code = "validation"
	// CodeInvalidInput: a single field failed parsing or an invariant check.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest: the request as a whole could not be processed.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound: the entity does not exist or has been revoked.
	CodeNotFound Code = "not_found"
	// CodeConflict: the operation conflicts with existing state.
	CodeConflict Code = "conflict"
	// CodeUnauthorized: missing or invalid caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: the caller is known but not permitted.
	CodeForbidden Code = "forbidden"
	// CodeInvalidTransition: an illegal incident state-machine move.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeAuthenticationFailure: a cryptographic check failed (tag or
	// signature mismatch). Always fails closed.
	CodeAuthenticationFailure Code = "authentication_failure"
	// CodeCorrupted: content checksum mismatch after successful decryption.
	CodeCorrupted Code = "corrupted"
	// CodeUnavailable: a dependency is temporarily unreachable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal: unexpected failure; details are not caller-visible.
	CodeInternal Code = "internal_error"
	// CodeInvariantViolation: a state that should be impossible was observed.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded domain error. Wrapped causes stay reachable via errors.Is
// and errors.As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to errors.Is so callers need only one import.
func Is(err, target error) bool { return errors.Is(err, target) }
