// Package errs defines the error taxonomy shared by the storage, process and
// workflow layers. Callers match kinds with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrProcess      = errors.New("process failure")
	ErrConfig       = errors.New("configuration error")
)

// Error is a typed error carrying a kind, a message, an optional remediation
// hint and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NotFound reports a missing entity, e.g. NotFound("execution abc").
func NotFound(what string) *Error {
	return &Error{Kind: ErrNotFound, Msg: what + " not found"}
}

// Validation reports input rejected before any mutation.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation that conflicts with the current state.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// Process wraps a failure of the external agent process.
func Process(msg string, err error) *Error {
	return &Error{Kind: ErrProcess, Msg: msg, Err: err}
}

// Config reports a misconfigured execution environment.
func Config(msg string, err error) *Error {
	return &Error{Kind: ErrConfig, Msg: msg, Err: err}
}

// WithHint attaches a remediation hint and returns e.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// HintOf returns the hint of the first *Error in err's chain, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
