// Package index defines the capability surface that search backends expose
// to the engine. Backends are interchangeable: the engine picks one per
// collection and drives it through this contract.
package index

import (
	"context"
	"errors"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
)

// Backend kinds, as persisted in the collection manifest.
const (
	KindHNSW = "hnsw"
	KindIVF  = "ivf"
)

var (
	// ErrNotTrained is returned by partitioned backends queried before
	// their training threshold is reached.
	ErrNotTrained = errors.New("index: not trained")

	// ErrUnknownID is returned when removing an id the backend never saw.
	ErrUnknownID = errors.New("index: unknown id")
)

// DimensionError reports a vector whose dimensionality does not match the
// backend's.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return "index: dimension mismatch"
}

// Candidate is a scored match produced by a backend. Smaller distance is
// better for every metric.
type Candidate struct {
	ID       core.InternalID
	Distance float32
}

// SearchParams bounds a backend search.
type SearchParams struct {
	// K is the candidate cap. The engine oversamples before calling.
	K int

	// Allowed restricts results to the given internal ids. The engine
	// passes the intersection of liveness and any metadata filter; nil
	// means no restriction beyond the backend's own tombstones.
	Allowed *roaring.Bitmap

	// EF overrides the beam width for graph backends (0 = default).
	EF int

	// NProbe overrides the partitions probed by partitioned backends
	// (0 = default).
	NProbe int
}

// Capabilities describes what a backend can do, probed by the engine
// instead of type-switching on variants.
type Capabilities struct {
	// InPlaceUpdate reports whether the backend can replace the vector of
	// an existing id. Backends that cannot force the engine down the
	// retire-and-reassign path.
	InPlaceUpdate bool

	// NeedsTraining reports whether the backend must be trained before it
	// can serve queries.
	NeedsTraining bool
}

// Backend is a vector search backend over dense internal ids.
//
// Add and Remove are serialized by the engine's ingestion lock; Search may
// run concurrently with them.
type Backend interface {
	// Add indexes a vector under the given id.
	Add(id core.InternalID, vector []float32) error

	// Remove logically deletes an id. The vector may stay in internal
	// structures until the next rebuild.
	Remove(id core.InternalID) error

	// Search returns up to params.K candidates for the query, closest
	// first.
	Search(ctx context.Context, query []float32, params SearchParams) ([]Candidate, error)

	// Capabilities reports the backend's capability flags.
	Capabilities() Capabilities

	// Len returns the number of indexed ids, including logically deleted
	// ones not yet reclaimed by a rebuild.
	Len() int

	// WriteTo serializes the backend image.
	WriteTo(w io.Writer) (int64, error)

	// ReadFrom restores the backend from a serialized image.
	ReadFrom(r io.Reader) (int64, error)
}

// Trainer is implemented by backends that require a training step.
type Trainer interface {
	// Train fits internal structure (e.g. partition centroids) on the
	// given sample and indexes any buffered vectors.
	Train(vectors map[core.InternalID][]float32) error

	// Trained reports whether training has completed.
	Trained() bool
}
