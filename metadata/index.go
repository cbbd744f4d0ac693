package metadata

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
)

// Index is an inverted index from field values to internal-id posting
// lists. It pre-evaluates a FilterSet into a single roaring bitmap so the
// query engine can intersect it with the liveness set before searching.
type Index struct {
	mu     sync.RWMutex
	fields map[string]*fieldIndex
}

type fieldIndex struct {
	postings map[string]*roaring.Bitmap
	values   map[string]any
}

// NewIndex returns an empty inverted index.
func NewIndex() *Index {
	return &Index{fields: make(map[string]*fieldIndex)}
}

// Add indexes a normalized document under the given internal id.
func (idx *Index) Add(id core.InternalID, doc map[string]any) {
	if len(doc) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for field, v := range doc {
		fi, ok := idx.fields[field]
		if !ok {
			fi = &fieldIndex{
				postings: make(map[string]*roaring.Bitmap),
				values:   make(map[string]any),
			}
			idx.fields[field] = fi
		}

		key := valueKey(v)
		bits, ok := fi.postings[key]
		if !ok {
			bits = roaring.New()
			fi.postings[key] = bits
			fi.values[key] = v
		}
		bits.Add(uint32(id))
	}
}

// Remove drops a document's postings for the given internal id. Empty
// posting lists are pruned.
func (idx *Index) Remove(id core.InternalID, doc map[string]any) {
	if len(doc) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for field, v := range doc {
		fi, ok := idx.fields[field]
		if !ok {
			continue
		}

		key := valueKey(v)
		bits, ok := fi.postings[key]
		if !ok {
			continue
		}

		bits.Remove(uint32(id))
		if bits.IsEmpty() {
			delete(fi.postings, key)
			delete(fi.values, key)
		}
		if len(fi.postings) == 0 {
			delete(idx.fields, field)
		}
	}
}

// Evaluate compiles a FilterSet into the bitmap of internal ids matching
// every filter. A nil or empty set returns nil, meaning "no restriction".
func (idx *Index) Evaluate(set *FilterSet) *roaring.Bitmap {
	if set == nil || len(set.Filters) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result *roaring.Bitmap
	for _, f := range set.Filters {
		bits := idx.evaluateFilter(f)
		if result == nil {
			result = bits
		} else {
			result.And(bits)
		}
		if result.IsEmpty() {
			return result
		}
	}

	return result
}

func (idx *Index) evaluateFilter(f Filter) *roaring.Bitmap {
	fi, ok := idx.fields[f.Field]
	if !ok {
		return roaring.New()
	}

	// Equality hits a single posting list; everything else unions the
	// lists of matching values.
	if f.Op == OpEq {
		if bits, ok := fi.postings[valueKey(f.Value)]; ok {
			return bits.Clone()
		}
		return roaring.New()
	}

	result := roaring.New()
	for key, v := range fi.values {
		if f.matchValue(v) {
			result.Or(fi.postings[key])
		}
	}

	return result
}

// FieldCardinality returns the number of distinct values indexed for a
// field. Used by engine stats.
func (idx *Index) FieldCardinality(field string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fi, ok := idx.fields[field]
	if !ok {
		return 0
	}
	return len(fi.postings)
}

// Fields returns the indexed field names, sorted.
func (idx *Index) Fields() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := make([]string, 0, len(idx.fields))
	for name := range idx.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
