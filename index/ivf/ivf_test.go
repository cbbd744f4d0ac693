package ivf

import (
	"bytes"
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/index"
)

func newTestIndex(t *testing.T, threshold int) *Index {
	t.Helper()

	idx, err := New(func(o *Options) {
		o.Dimension = 2
		o.NList = 4
		o.TrainThreshold = threshold
	})
	require.NoError(t, err)

	return idx
}

func TestSearchBeforeTraining(t *testing.T) {
	idx := newTestIndex(t, 100)

	require.NoError(t, idx.Add(0, []float32{1, 2}))
	require.False(t, idx.Trained())

	_, err := idx.Search(context.Background(), []float32{1, 2}, index.SearchParams{K: 1})
	assert.ErrorIs(t, err, index.ErrNotTrained)
}

func TestAutoTrainAtThreshold(t *testing.T) {
	idx := newTestIndex(t, 8)

	for i := 0; i < 8; i++ {
		require.NoError(t, idx.Add(core.InternalID(i), []float32{float32(i), float32(i % 3)}))
	}

	require.True(t, idx.Trained())

	got, err := idx.Search(context.Background(), []float32{3, 0}, index.SearchParams{K: 1, NProbe: 4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.InternalID(3), got[0].ID)
}

func TestExplicitTrainIndexesEverything(t *testing.T) {
	idx := newTestIndex(t, 1000)

	require.NoError(t, idx.Add(0, []float32{0, 0}))
	require.NoError(t, idx.Add(1, []float32{5, 5}))

	vectors := map[core.InternalID][]float32{
		2: {10, 10},
		3: {0, 1},
	}
	require.NoError(t, idx.Train(vectors))
	require.True(t, idx.Trained())
	assert.Equal(t, 4, idx.Len())

	got, err := idx.Search(context.Background(), []float32{10, 10}, index.SearchParams{K: 1, NProbe: 4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.InternalID(2), got[0].ID)
}

func TestTrainEmptyBuffer(t *testing.T) {
	idx := newTestIndex(t, 100)

	assert.ErrorIs(t, idx.Train(nil), index.ErrNotTrained)
}

func TestRemoveExcludesFromResults(t *testing.T) {
	idx := newTestIndex(t, 4)

	for i := 0; i < 4; i++ {
		require.NoError(t, idx.Add(core.InternalID(i), []float32{float32(i), 0}))
	}
	require.True(t, idx.Trained())

	require.NoError(t, idx.Remove(2))

	got, err := idx.Search(context.Background(), []float32{2, 0}, index.SearchParams{K: 4, NProbe: 4})
	require.NoError(t, err)

	for _, c := range got {
		assert.NotEqual(t, core.InternalID(2), c.ID)
	}
	assert.Equal(t, 1, idx.Tombstones())
}

func TestSearchAllowedBitmap(t *testing.T) {
	idx := newTestIndex(t, 6)

	for i := 0; i < 6; i++ {
		require.NoError(t, idx.Add(core.InternalID(i), []float32{float32(i), 0}))
	}

	allowed := roaring.BitmapOf(4, 5)
	got, err := idx.Search(context.Background(), []float32{0, 0}, index.SearchParams{K: 6, NProbe: 4, Allowed: allowed})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, core.InternalID(4), got[0].ID)
	assert.Equal(t, core.InternalID(5), got[1].ID)
}

func TestAddDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 100)

	var de *index.DimensionError
	assert.ErrorAs(t, idx.Add(0, []float32{1, 2, 3}), &de)
}

func TestImageRoundTrip(t *testing.T) {
	idx := newTestIndex(t, 6)

	for i := 0; i < 6; i++ {
		require.NoError(t, idx.Add(core.InternalID(i), []float32{float32(i), 1}))
	}
	require.NoError(t, idx.Remove(3))

	var buf bytes.Buffer
	_, err := idx.WriteTo(&buf)
	require.NoError(t, err)

	restored, err := New(func(o *Options) { o.Dimension = 2 })
	require.NoError(t, err)
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, idx.Len(), restored.Len())
	assert.True(t, restored.Trained())
	assert.Equal(t, 1, restored.Tombstones())

	got, err := restored.Search(context.Background(), []float32{5, 1}, index.SearchParams{K: 1, NProbe: 4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.InternalID(5), got[0].ID)
}

func TestUntrainedImageRoundTrip(t *testing.T) {
	idx := newTestIndex(t, 100)

	require.NoError(t, idx.Add(0, []float32{1, 2}))
	require.NoError(t, idx.Add(1, []float32{3, 4}))

	var buf bytes.Buffer
	_, err := idx.WriteTo(&buf)
	require.NoError(t, err)

	restored, err := New(func(o *Options) { o.Dimension = 2 })
	require.NoError(t, err)
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.False(t, restored.Trained())
	assert.Equal(t, 2, restored.Len())

	_, err = restored.Search(context.Background(), []float32{1, 2}, index.SearchParams{K: 1})
	assert.ErrorIs(t, err, index.ErrNotTrained)
}
