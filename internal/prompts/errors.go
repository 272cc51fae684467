package prompts

import (
	"errors"
	"fmt"
)

// Kind is the machine-checkable class of a failure.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindNotFound              Kind = "not_found"
	KindInvalidReference      Kind = "invalid_reference"
	KindFileRead              Kind = "file_read_error"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindInternal              Kind = "internal_error"
)

// Error is the structured failure returned by every prompt operation.
// Callers match it by kind with errors.Is against the sentinels below,
// or extract it with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so wrapped errors compare
// equal to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation            = &Error{Kind: KindValidation, Message: "validation error"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidReference      = &Error{Kind: KindInvalidReference, Message: "invalid reference"}
	ErrFileRead              = &Error{Kind: KindFileRead, Message: "file read error"}
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable, Message: "capability unavailable"}
)

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidReferencef builds an invalid-reference error.
func InvalidReferencef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidReference, Message: fmt.Sprintf(format, args...)}
}

// FileReadError wraps a failed read of path.
func FileReadError(path string, err error) *Error {
	return &Error{Kind: KindFileRead, Message: fmt.Sprintf("read file %q", path), Err: err}
}

// CapabilityUnavailable wraps a missing or failing external capability.
func CapabilityUnavailable(capability string, err error) *Error {
	return &Error{Kind: KindCapabilityUnavailable, Message: capability + " unavailable", Err: err}
}

// Internal wraps a storage or other unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Payload is the serializable form of a failure.
type Payload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// PayloadOf converts err to its serializable form. Returns nil for a nil
// error.
func PayloadOf(err error) *Payload {
	if err == nil {
		return nil
	}
	return &Payload{Kind: KindOf(err), Message: err.Error()}
}
