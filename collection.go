package vecdb

import (
	"context"

	"github.com/kungtalon/vecdb/engine"
	"github.com/kungtalon/vecdb/model"
)

// Collection is a handle to one vector collection. All methods are safe
// for concurrent use; mutations are serialized internally while searches
// run lock-free against an immutable index snapshot.
type Collection struct {
	name   string
	engine *engine.Collection
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Insert adds a new record and returns its id. A zero rec.ID is replaced
// with a generated one; inserting an existing id fails with
// ErrAlreadyExists.
func (c *Collection) Insert(ctx context.Context, rec model.Record) (model.RecordID, error) {
	id, err := c.engine.Insert(ctx, rec)
	return id, translateError(err)
}

// BatchInsert adds several records with a single durability round-trip.
// The batch is all-or-nothing: any invalid or conflicting record rejects
// the whole batch.
func (c *Collection) BatchInsert(ctx context.Context, recs []model.Record) ([]model.RecordID, error) {
	ids, err := c.engine.BatchInsert(ctx, recs)
	return ids, translateError(err)
}

// Update replaces an existing record's vector and metadata.
func (c *Collection) Update(ctx context.Context, rec model.Record) error {
	return translateError(c.engine.Update(ctx, rec))
}

// Delete removes a record. The index entry is tombstoned and reclaimed by
// the next rebuild; the record disappears from search results immediately.
func (c *Collection) Delete(ctx context.Context, id model.RecordID) error {
	return translateError(c.engine.Delete(ctx, id))
}

// Get returns a copy of the stored record.
func (c *Collection) Get(ctx context.Context, id model.RecordID) (model.Record, error) {
	rec, err := c.engine.Get(ctx, id)
	return rec, translateError(err)
}

// Search returns the k nearest records to query, smaller scores first.
func (c *Collection) Search(ctx context.Context, query []float32, opts model.SearchOptions) ([]model.SearchResult, error) {
	results, err := c.engine.Search(ctx, query, opts)
	return results, translateError(err)
}

// BatchSearch runs several queries concurrently. Results are positional.
func (c *Collection) BatchSearch(ctx context.Context, queries [][]float32, opts model.SearchOptions) ([][]model.SearchResult, error) {
	results, err := c.engine.BatchSearch(ctx, queries, opts)
	return results, translateError(err)
}

// Rebuild rebuilds the index from live records, reclaiming tombstones,
// and persists a fresh snapshot image. Only one rebuild runs at a time.
func (c *Collection) Rebuild(ctx context.Context) error {
	return translateError(c.engine.Rebuild(ctx))
}

// Stats returns collection statistics.
func (c *Collection) Stats() engine.Stats {
	return c.engine.Stats()
}

// Close flushes and closes the collection.
func (c *Collection) Close() error {
	return translateError(c.engine.Close())
}
