package hnsw

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
)

func newTestIndex(t *testing.T, dim int) *Index {
	t.Helper()

	seed := int64(42)
	h, err := New(func(o *Options) {
		o.Dimension = dim
		o.RandomSeed = &seed
	})
	require.NoError(t, err)

	return h
}

func TestNewValidatesDimension(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestAddAndSearchExactMatch(t *testing.T) {
	h := newTestIndex(t, 4)

	require.NoError(t, h.Add(0, []float32{1, 0, 0, 0}))
	require.NoError(t, h.Add(1, []float32{0, 1, 0, 0}))
	require.NoError(t, h.Add(2, []float32{0, 0, 1, 0}))

	got, err := h.Search(context.Background(), []float32{0, 1, 0, 0}, index.SearchParams{K: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.InternalID(1), got[0].ID)
	assert.Zero(t, got[0].Distance)
}

func TestAddDimensionMismatch(t *testing.T) {
	h := newTestIndex(t, 4)

	err := h.Add(0, []float32{1, 2})

	var de *index.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Expected)
	assert.Equal(t, 2, de.Actual)
}

func TestAddDuplicateID(t *testing.T) {
	h := newTestIndex(t, 2)

	require.NoError(t, h.Add(7, []float32{1, 2}))
	assert.ErrorIs(t, h.Add(7, []float32{3, 4}), ErrIDExists)
}

func TestRemoveExcludesFromResults(t *testing.T) {
	h := newTestIndex(t, 2)

	require.NoError(t, h.Add(0, []float32{0, 0}))
	require.NoError(t, h.Add(1, []float32{1, 1}))
	require.NoError(t, h.Add(2, []float32{2, 2}))

	require.NoError(t, h.Remove(1))

	got, err := h.Search(context.Background(), []float32{1, 1}, index.SearchParams{K: 3})
	require.NoError(t, err)

	for _, c := range got {
		assert.NotEqual(t, core.InternalID(1), c.ID)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 1, h.Tombstones())
}

func TestRemoveUnknownID(t *testing.T) {
	h := newTestIndex(t, 2)

	assert.ErrorIs(t, h.Remove(99), index.ErrUnknownID)
}

func TestSearchAllowedBitmap(t *testing.T) {
	h := newTestIndex(t, 2)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.Add(core.InternalID(i), []float32{float32(i), float32(i)}))
	}

	allowed := roaring.BitmapOf(3, 4, 5)
	got, err := h.Search(context.Background(), []float32{0, 0}, index.SearchParams{K: 10, Allowed: allowed})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, core.InternalID(3), got[0].ID)
}

func TestSearchEmptyIndex(t *testing.T) {
	h := newTestIndex(t, 2)

	got, err := h.Search(context.Background(), []float32{0, 0}, index.SearchParams{K: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchRecall(t *testing.T) {
	const (
		dim = 8
		n   = 500
		k   = 10
	)

	h := newTestIndex(t, dim)
	rng := rand.New(rand.NewSource(7))

	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		require.NoError(t, h.Add(core.InternalID(i), v))
	}

	query := vectors[123]

	// Exact top-k by linear scan.
	type scored struct {
		id   core.InternalID
		dist float32
	}
	exact := make([]scored, n)
	for i, v := range vectors {
		exact[i] = scored{id: core.InternalID(i), dist: distance.SquaredL2(query, v)}
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < n; j++ {
			if exact[j].dist < exact[i].dist {
				exact[i], exact[j] = exact[j], exact[i]
			}
		}
	}
	want := make(map[core.InternalID]bool, k)
	for i := 0; i < k; i++ {
		want[exact[i].id] = true
	}

	got, err := h.Search(context.Background(), query, index.SearchParams{K: k, EF: 200})
	require.NoError(t, err)
	require.Len(t, got, k)

	hits := 0
	for _, c := range got {
		if want[c.ID] {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, k*8/10, "recall too low: %d/%d", hits, k)
}

func TestImageRoundTrip(t *testing.T) {
	h := newTestIndex(t, 4)

	for i := 0; i < 50; i++ {
		require.NoError(t, h.Add(core.InternalID(i), []float32{float32(i), 1, 2, 3}))
	}
	require.NoError(t, h.Remove(10))

	var buf bytes.Buffer
	_, err := h.WriteTo(&buf)
	require.NoError(t, err)

	restored, err := New(func(o *Options) { o.Dimension = 4 })
	require.NoError(t, err)
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, h.Len(), restored.Len())
	assert.Equal(t, 1, restored.Tombstones())

	got, err := restored.Search(context.Background(), []float32{25, 1, 2, 3}, index.SearchParams{K: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.InternalID(25), got[0].ID)
}
