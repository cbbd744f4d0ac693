package vecdb

import (
	"errors"
	"fmt"

	"github.com/kungtalon/vecdb/engine"
	"github.com/kungtalon/vecdb/index"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a record id that is
	// already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned for nil or zero-length vectors.
	ErrEmptyVector = errors.New("empty vector")

	// ErrNotTrained is returned by backends that need training before they
	// can answer approximate queries.
	ErrNotTrained = errors.New("index not trained")

	// ErrRebuildInProgress is returned when a manual rebuild overlaps a
	// running one.
	ErrRebuildInProgress = errors.New("rebuild already in progress")

	// ErrClosed is returned by operations on a closed database or
	// collection.
	ErrClosed = errors.New("closed")

	// ErrCollectionExists is returned when creating a collection whose name
	// is taken.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrCollectionNotFound is returned when opening or dropping an unknown
	// collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps internal errors onto the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	if errors.Is(err, engine.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, engine.ErrEmptyVector) {
		return fmt.Errorf("%w: %w", ErrEmptyVector, err)
	}
	if errors.Is(err, engine.ErrRebuildInProgress) {
		return fmt.Errorf("%w: %w", ErrRebuildInProgress, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, index.ErrNotTrained) {
		return fmt.Errorf("%w: %w", ErrNotTrained, err)
	}

	var dm *index.DimensionError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
