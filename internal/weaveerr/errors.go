// Package weaveerr defines the typed error taxonomy shared across the
// editing pipeline: Fatal, Domain, Warning, and Internal errors, each
// optionally carrying a machine-readable retry hint for the LLM caller.
package weaveerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the system should react to it.
type Kind string

const (
	// Fatal marks integrity violations that abort the current operation.
	Fatal Kind = "fatal"
	// Domain marks expected, user-actionable failures.
	Domain Kind = "domain"
	// Warning marks degraded-but-continuing conditions.
	Warning Kind = "warning"
	// Internal marks contract violations suggesting a bug.
	Internal Kind = "internal"
)

// Code enumerates the stable error_kind values surfaced to callers.
type Code string

const (
	CodePathOutsideRoot     Code = "path_outside_root"
	CodeContentMismatch     Code = "content_mismatch"
	CodeOutOfRange          Code = "out_of_range"
	CodeInvalidCharBoundary Code = "invalid_char_boundary"
	CodeOverlappingRanges   Code = "overlapping_ranges"
	CodeDuplicateRequest    Code = "duplicate_request"
	CodeUnsupportedNode     Code = "unsupported_node_type"
	CodeCanonicalNotFound   Code = "canonical_not_found"
	CodeCanonicalAmbiguous  Code = "canonical_ambiguous"
	CodeSchema              Code = "schema_error"
	CodeIO                  Code = "io_error"
	CodeStateTransition     Code = "invalid_state_transition"
	CodeNotFound            Code = "not_found"
)

// Error is the structured error type propagated through the mesh.
type Error struct {
	Kind      Kind
	Code      Code
	Message   string
	RetryHint string
	cause     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New builds a new Error of the given kind/code.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf builds a new Error with a formatted message.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRetryHint attaches a retry hint and returns the same error for chaining.
func (e *Error) WithRetryHint(hint string) *Error {
	e.RetryHint = hint
	return e
}

// Wrap attaches an upstream cause to the error.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// Domainf is a convenience constructor for the common Domain case.
func Domainf(code Code, format string, args ...any) *Error {
	return Newf(Domain, code, format, args...)
}

// Fatalf is a convenience constructor for Fatal errors.
func Fatalf(code Code, format string, args ...any) *Error {
	return Newf(Fatal, code, format, args...)
}

// Internalf is a convenience constructor for Internal errors.
func Internalf(format string, args ...any) *Error {
	return Newf(Internal, "", format, args...)
}

// As attempts to recover a *Error from a generic error chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	if werr, ok := As(err); ok {
		return werr.Kind
	}
	return Internal
}
