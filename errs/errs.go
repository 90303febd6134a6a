// Package errs implements the error taxonomy of spec §7: a small set of
// kinds, not names, that every layer above the store classifies errors
// into before deciding whether to retry, surface, or expire.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota // default: unclassified, maps to HTTP 500
	Validation
	Conflict
	NotFound
	Operational
)

// Error pairs a classified Kind with the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// Internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
