package pk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/model"
)

func TestTableAssignIsMonotonic(t *testing.T) {
	tab := NewTable()

	a, ok := tab.Assign(model.NewRecordID())
	require.True(t, ok)
	b, ok := tab.Assign(model.NewRecordID())
	require.True(t, ok)

	assert.Equal(t, core.InternalID(0), a)
	assert.Equal(t, core.InternalID(1), b)
	assert.Equal(t, 2, tab.Len())
}

func TestTableAssignExistingReturnsMapping(t *testing.T) {
	tab := NewTable()
	id := model.NewRecordID()

	first, ok := tab.Assign(id)
	require.True(t, ok)

	again, ok := tab.Assign(id)
	assert.False(t, ok)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, tab.Len())
}

func TestTableRetireNeverReusesIDs(t *testing.T) {
	tab := NewTable()
	id := model.NewRecordID()

	internal, _ := tab.Assign(id)
	retired, ok := tab.Retire(id)
	require.True(t, ok)
	assert.Equal(t, internal, retired)

	_, ok = tab.Resolve(id)
	assert.False(t, ok)
	_, ok = tab.Reverse(internal)
	assert.False(t, ok)

	fresh, ok := tab.Assign(id)
	require.True(t, ok)
	assert.Greater(t, fresh, internal)
}

func TestTableRetireMissing(t *testing.T) {
	tab := NewTable()

	_, ok := tab.Retire(model.NewRecordID())
	assert.False(t, ok)
}

func TestTableRestoreBumpsAllocator(t *testing.T) {
	tab := NewTable()
	id := model.NewRecordID()

	tab.Restore(id, 41)

	got, ok := tab.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, core.InternalID(41), got)

	next, ok := tab.Assign(model.NewRecordID())
	require.True(t, ok)
	assert.Equal(t, core.InternalID(42), next)
}

func TestTableRoundTrip(t *testing.T) {
	tab := NewTable()

	ids := make([]model.RecordID, 5)
	for i := range ids {
		ids[i] = model.NewRecordID()
		tab.Assign(ids[i])
	}
	tab.Retire(ids[2])

	var buf bytes.Buffer
	_, err := tab.WriteTo(&buf)
	require.NoError(t, err)

	got := NewTable()
	_, err = got.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, tab.Len(), got.Len())
	assert.Equal(t, tab.Next(), got.Next())

	for i, id := range ids {
		internal, ok := got.Resolve(id)
		if i == 2 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		back, ok := got.Reverse(internal)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
}
