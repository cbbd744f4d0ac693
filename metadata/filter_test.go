package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalized(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	out, err := NormalizeDocument(doc)
	require.NoError(t, err)
	return out
}

func TestNormalizeDocument(t *testing.T) {
	doc := normalized(t, map[string]any{
		"genre": "rock",
		"year":  1991,
		"score": float32(4.5),
		"live":  true,
	})

	assert.Equal(t, "rock", doc["genre"])
	assert.Equal(t, float64(1991), doc["year"])
	assert.InDelta(t, 4.5, doc["score"], 1e-6)
	assert.Equal(t, true, doc["live"])
}

func TestNormalizeDocumentRejectsNestedValues(t *testing.T) {
	_, err := NormalizeDocument(map[string]any{"tags": []string{"a"}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestFilterMatches(t *testing.T) {
	doc := normalized(t, map[string]any{
		"genre": "rock",
		"year":  1991,
	})

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq string", Eq("genre", "rock"), true},
		{"eq string miss", Eq("genre", "jazz"), false},
		{"eq number coerced", Eq("year", int64(1991)), true},
		{"ne", Ne("year", 1990), true},
		{"ne same", Ne("year", 1991), false},
		{"ne missing field", Ne("label", "emi"), false},
		{"gt", Gt("year", 1990), true},
		{"gte boundary", Gte("year", 1991), true},
		{"lt", Lt("year", 1991), false},
		{"lte boundary", Lte("year", 1991), true},
		{"in", In("genre", "jazz", "rock"), true},
		{"in miss", In("genre", "jazz", "pop"), false},
		{"contains", Contains("genre", "oc"), true},
		{"contains miss", Contains("genre", "zz"), false},
		{"range across kinds", Gt("genre", 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestFilterSetANDSemantics(t *testing.T) {
	doc := normalized(t, map[string]any{"genre": "rock", "year": 1991})

	assert.True(t, NewFilterSet(Eq("genre", "rock"), Gte("year", 1990)).Matches(doc))
	assert.False(t, NewFilterSet(Eq("genre", "rock"), Lt("year", 1990)).Matches(doc))
	assert.True(t, NewFilterSet().Matches(doc))

	var nilSet *FilterSet
	assert.True(t, nilSet.Matches(doc))
}
