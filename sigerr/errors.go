// Package sigerr defines the error taxonomy shared by the scheme providers,
// the key stores and the signing service.
package sigerr

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings; the
// CLI maps each Kind to a distinct exit code.
type Kind string

const (
	KindKeyGeneration      Kind = "KeyGeneration"
	KindDuplicateName      Kind = "DuplicateName"
	KindNotFound           Kind = "NotFound"
	KindInvalidKey         Kind = "InvalidKey"
	KindMalformedSignature Kind = "MalformedSignature"
	KindSchemeMismatch     Kind = "SchemeMismatch"
	KindTimeout            Kind = "Timeout"
	KindUsage              Kind = "Usage"
	KindStorage            Kind = "Storage"
)

// Error is the structured error type returned across package boundaries.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes errors.Is(err, &Error{Kind: k}) match any error of kind k.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind carrying cause. A nil cause
// yields the same result as New.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
