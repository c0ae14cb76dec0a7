package fault

import (
	"errors"
	"fmt"
)

// Error is a classified error. It wraps an optional cause and carries a Code
// that survives wrapping, so callers can branch on classification with
// CodeOf rather than unwrapping concrete types.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates a classified error without a cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause. A nil cause returns nil so
// call sites can wrap unconditionally.
func Wrap(cause error, code Code, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause, enabling errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the classification from an error chain. Unclassified
// errors report CodeUnknown; nil reports the empty Code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// Is reports whether the error chain contains a classified error with the
// given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
