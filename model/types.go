package model

import (
	"github.com/google/uuid"
)

// RecordID is the user-facing stable identifier of a record.
// Ids are opaque 128-bit values; callers may supply their own or let the
// engine generate one on insert.
type RecordID = uuid.UUID

// NilRecordID is the zero RecordID.
var NilRecordID = uuid.Nil

// NewRecordID returns a fresh random RecordID.
func NewRecordID() RecordID {
	return uuid.New()
}

// Record is a full data record: external id, embedding vector and optional
// scalar metadata. Metadata values are strings, bools or numbers; numeric
// values are normalized to float64 on ingestion.
type Record struct {
	ID       RecordID
	Vector   []float32
	Metadata map[string]any
}

// SearchResult is a single query match, ordered by ascending score
// (smaller is better for every metric).
type SearchResult struct {
	ID    RecordID
	Score float32

	// Materialized data, populated according to SearchOptions.
	Vector   []float32
	Metadata map[string]any
}

// SearchOptions controls the execution of a search query.
type SearchOptions struct {
	// K is the number of nearest neighbors to return.
	K int

	// Oversample is the multiplier applied to K when asking the backend for
	// candidates, to compensate for liveness/filter attrition. Zero means
	// the collection default.
	Oversample float32

	// Filter restricts results to records whose metadata matches.
	// The type is any to avoid a dependency on the metadata package;
	// it is expected to be *metadata.FilterSet.
	Filter any

	// EF overrides the search beam width for graph backends. Zero means
	// the backend default.
	EF int

	// NProbe is the number of partitions to probe for partitioned backends.
	// Zero means the backend default.
	NProbe int

	// Exact forces a brute-force scan over the live record set instead of
	// the approximate backend.
	Exact bool

	// Rerank recomputes scores against the stored raw vectors before the
	// final cut.
	Rerank bool

	// Materialization options.
	IncludeVector   bool
	IncludeMetadata bool
}
