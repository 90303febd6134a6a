package errs

import (
	"errors"

	"github.com/ranked1v1/matchcore/store"
)

// FromStore classifies a store error per spec §7. Store errors arrive
// unclassified (plain sentinels or wrapped driver errors); this is the one
// place that maps them onto the taxonomy the Facade and HTTP layer share.
func FromStore(err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return New(NotFound, err)
	case errors.Is(err, store.ErrAlreadyQueued),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrNotActive),
		errors.Is(err, store.ErrAlreadyTerminal),
		errors.Is(err, store.ErrAlreadyMatched):
		return New(Conflict, err)
	case errors.Is(err, store.ErrInvalidScore):
		return New(Validation, err)
	case errors.Is(err, store.ErrInvariantViolation):
		return New(Operational, err)
	default:
		return New(Operational, err)
	}
}
