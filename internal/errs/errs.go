// Package errs implements the error taxonomy of spec §7: a small set of
// kinds, not concrete per-site types, each carrying a stable code, a human
// message, and an optional remediation suggestion. Propagation throughout the
// rest of the daemon follows the teacher's habit of fmt.Errorf("...: %w",
// err) wrapping (see pkg/synchronization/controller.go throughout); this
// package only supplies the leaf error values that get wrapped.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the taxonomy in spec §7.
type Kind string

const (
	// KindConfiguration covers invalid, missing, or conflicting configuration.
	KindConfiguration Kind = "configuration"
	// KindValidation covers user-driven invariant breaches (duplicate folder,
	// subfolder, missing path, etc.).
	KindValidation Kind = "validation"
	// KindTransientIO covers retriable storage, parse, or network failures.
	KindTransientIO Kind = "transient_io"
	// KindModel covers model load or inference failures.
	KindModel Kind = "model"
	// KindCorruption covers storage corruption detected on open.
	KindCorruption Kind = "corruption"
	// KindSupervisor covers child process failures beyond the restart budget.
	KindSupervisor Kind = "supervisor"
	// KindFatalInternal covers broken invariants (e.g. an illegal state
	// transition attempted by orchestrator code).
	KindFatalInternal Kind = "fatal_internal"
)

// Error is the concrete error type carrying a Kind, a stable Code, a human
// Message, an optional Remediation suggestion, and an optional wrapped cause.
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	Remediation string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind) + ": " + e.Code
	}
	return e.Message
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with the given kind, code, and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error that wraps cause, formatting Message with the
// teacher's "...: %w"-style suffix so %v/Error() still surfaces the cause.
func Wrap(kind Kind, code string, cause error, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf("%s: %v", message, cause),
		Cause:   cause,
	}
}

// WithRemediation returns a copy of e with Remediation set, for the
// "suggested remediation" contract in spec §7.
func (e *Error) WithRemediation(remediation string) *Error {
	cp := *e
	cp.Remediation = remediation
	return &cp
}

// Is reports whether target is an *Error with the same Kind and Code,
// enabling errors.Is(err, errs.New(KindValidation, "DUPLICATE", "")) style
// sentinel comparisons without exporting per-site error values.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	if other.Code != "" && other.Code != e.Code {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, returning ok
// = false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
