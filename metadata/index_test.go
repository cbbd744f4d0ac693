package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexEvaluateEq(t *testing.T) {
	idx := NewIndex()

	idx.Add(1, normalized(t, map[string]any{"genre": "rock", "year": 1991}))
	idx.Add(2, normalized(t, map[string]any{"genre": "jazz", "year": 1959}))
	idx.Add(3, normalized(t, map[string]any{"genre": "rock", "year": 1969}))

	bits := idx.Evaluate(NewFilterSet(Eq("genre", "rock")))
	require.NotNil(t, bits)
	assert.Equal(t, []uint32{1, 3}, bits.ToArray())
}

func TestIndexEvaluateRangeAndConjunction(t *testing.T) {
	idx := NewIndex()

	idx.Add(1, normalized(t, map[string]any{"genre": "rock", "year": 1991}))
	idx.Add(2, normalized(t, map[string]any{"genre": "jazz", "year": 1959}))
	idx.Add(3, normalized(t, map[string]any{"genre": "rock", "year": 1969}))

	bits := idx.Evaluate(NewFilterSet(Eq("genre", "rock"), Gt("year", 1970)))
	require.NotNil(t, bits)
	assert.Equal(t, []uint32{1}, bits.ToArray())
}

func TestIndexEvaluateNoRestriction(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, normalized(t, map[string]any{"genre": "rock"}))

	assert.Nil(t, idx.Evaluate(nil))
	assert.Nil(t, idx.Evaluate(NewFilterSet()))
}

func TestIndexEvaluateUnknownField(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, normalized(t, map[string]any{"genre": "rock"}))

	bits := idx.Evaluate(NewFilterSet(Eq("label", "emi")))
	require.NotNil(t, bits)
	assert.True(t, bits.IsEmpty())
}

func TestIndexRemovePrunesPostings(t *testing.T) {
	idx := NewIndex()
	doc := normalized(t, map[string]any{"genre": "rock"})

	idx.Add(1, doc)
	idx.Add(2, doc)
	assert.Equal(t, 1, idx.FieldCardinality("genre"))

	idx.Remove(1, doc)
	bits := idx.Evaluate(NewFilterSet(Eq("genre", "rock")))
	assert.Equal(t, []uint32{2}, bits.ToArray())

	idx.Remove(2, doc)
	assert.Empty(t, idx.Fields())
}

func TestIndexDistinguishesValueKinds(t *testing.T) {
	idx := NewIndex()

	idx.Add(1, normalized(t, map[string]any{"v": "1"}))
	idx.Add(2, normalized(t, map[string]any{"v": 1}))

	str := idx.Evaluate(NewFilterSet(Eq("v", "1")))
	num := idx.Evaluate(NewFilterSet(Eq("v", 1)))

	assert.Equal(t, []uint32{1}, str.ToArray())
	assert.Equal(t, []uint32{2}, num.ToArray())
}
