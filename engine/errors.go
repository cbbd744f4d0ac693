package engine

import "errors"

var (
	// ErrClosed is returned by operations on a closed collection.
	ErrClosed = errors.New("engine: collection closed")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("engine: record not found")

	// ErrConflict is returned when inserting an external id that already
	// exists.
	ErrConflict = errors.New("engine: record already exists")

	// ErrInvalidK is returned for non-positive k.
	ErrInvalidK = errors.New("engine: k must be positive")

	// ErrEmptyVector is returned for nil or zero-length vectors.
	ErrEmptyVector = errors.New("engine: empty vector")

	// ErrInvalidFilter is returned when the search filter has an
	// unexpected type.
	ErrInvalidFilter = errors.New("engine: invalid filter")

	// ErrRebuildInProgress is returned by manual rebuilds that overlap a
	// running one.
	ErrRebuildInProgress = errors.New("engine: rebuild already in progress")

	// ErrUnknownBackend is returned for an unrecognized backend kind.
	ErrUnknownBackend = errors.New("engine: unknown backend kind")
)
