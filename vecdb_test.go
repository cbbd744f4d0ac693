package vecdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/metadata"
	"github.com/kungtalon/vecdb/model"
	"github.com/kungtalon/vecdb/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir(), WithDurability(store.DurabilitySync))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	return db
}

func TestDBCollectionLifecycle(t *testing.T) {
	db := openTestDB(t)

	col, err := db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, "docs", col.Name())

	_, err = db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	assert.ErrorIs(t, err, ErrCollectionExists)

	// OpenCollection returns the cached instance.
	again, err := db.OpenCollection("docs")
	require.NoError(t, err)
	assert.Same(t, col, again)

	_, err = db.OpenCollection("missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	_, err = db.CreateCollection("../escape", CollectionConfig{Dimension: 4})
	require.Error(t, err)

	names, err := db.ListCollections()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)

	require.NoError(t, db.DropCollection("docs"))
	assert.ErrorIs(t, db.DropCollection("docs"), ErrCollectionNotFound)

	names, err = db.ListCollections()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDBManifestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(dir, WithDurability(store.DurabilitySync))
	require.NoError(t, err)

	col, err := db.CreateCollection("docs", CollectionConfig{
		Dimension: 4,
		Metric:    distance.IP,
	})
	require.NoError(t, err)

	id, err := col.Insert(ctx, model.Record{Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Configuration comes from the manifest, not the caller.
	db, err = Open(dir, WithDurability(store.DurabilitySync))
	require.NoError(t, err)
	defer db.Close()

	col, err = db.OpenCollection("docs")
	require.NoError(t, err)

	results, err := col.Search(ctx, []float32{0, 1, 0, 0}, model.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	// Inner product is surfaced negated so smaller is better.
	assert.InDelta(t, -1.0, results[0].Score, 1e-5)
}

func TestDBErrorTranslation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	col, err := db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	require.NoError(t, err)

	_, err = col.Get(ctx, model.NewRecordID())
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := col.Insert(ctx, model.Record{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = col.Insert(ctx, model.Record{ID: id, Vector: []float32{1, 0, 0, 0}})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = col.Insert(ctx, model.Record{Vector: []float32{1, 0}})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = col.Search(ctx, []float32{1, 0, 0, 0}, model.SearchOptions{K: 0})
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = col.Search(ctx, nil, model.SearchOptions{K: 1})
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestDBIVFNotTrained(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg := CollectionConfig{Dimension: 4, Backend: index.KindIVF}
	cfg.IVF.TrainThreshold = 1 << 20

	col, err := db.CreateCollection("parts", cfg)
	require.NoError(t, err)

	_, err = col.Insert(ctx, model.Record{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	_, err = col.Search(ctx, []float32{1, 0, 0, 0}, model.SearchOptions{K: 1})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestDBEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	col, err := db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	require.NoError(t, err)

	idA, err := col.Insert(ctx, model.Record{
		Vector:   []float32{1, 0, 0, 0},
		Metadata: map[string]any{"lang": "en", "year": 2024},
	})
	require.NoError(t, err)
	idB, err := col.Insert(ctx, model.Record{
		Vector:   []float32{0, 1, 0, 0},
		Metadata: map[string]any{"lang": "de", "year": 2025},
	})
	require.NoError(t, err)

	// Nearest overall.
	results, err := col.Search(ctx, []float32{0.9, 0.1, 0, 0}, model.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idA, results[0].ID)

	// Filter forces the farther record.
	results, err = col.Search(ctx, []float32{0.9, 0.1, 0, 0}, model.SearchOptions{
		K:               1,
		Filter:          metadata.NewFilterSet(metadata.Eq("lang", "de")),
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idB, results[0].ID)
	assert.Equal(t, "de", results[0].Metadata["lang"])

	// Update moves A; delete removes B; only the new A remains.
	require.NoError(t, col.Update(ctx, model.Record{
		ID:       idA,
		Vector:   []float32{0, 0, 1, 0},
		Metadata: map[string]any{"lang": "en", "year": 2026},
	}))
	require.NoError(t, col.Delete(ctx, idB))

	results, err = col.Search(ctx, []float32{0, 0, 1, 0}, model.SearchOptions{K: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idA, results[0].ID)

	require.NoError(t, col.Rebuild(ctx))
	stats := col.Stats()
	assert.Equal(t, 1, stats.Indexed)
	assert.Zero(t, stats.Tombstones)
}

func TestDBMetricsCollector(t *testing.T) {
	ctx := context.Background()

	var metrics BasicMetricsCollector
	db, err := Open(t.TempDir(), WithDurability(store.DurabilitySync), WithMetrics(&metrics))
	require.NoError(t, err)
	defer db.Close()

	col, err := db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	require.NoError(t, err)

	id, err := col.Insert(ctx, model.Record{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = col.Search(ctx, []float32{1, 0, 0, 0}, model.SearchOptions{K: 1})
	require.NoError(t, err)
	require.NoError(t, col.Delete(ctx, id))
	require.NoError(t, col.Rebuild(ctx))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.RebuildCount)
	assert.Equal(t, uint64(1), stats.LastVersion)
}

func TestDBClosed(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.CreateCollection("docs", CollectionConfig{Dimension: 4})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.OpenCollection("docs")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.DropCollection("docs"), ErrClosed)
}
