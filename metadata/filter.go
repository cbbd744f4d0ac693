package metadata

import (
	"strings"
)

// Op is a filter comparison operator.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpContains
)

// Filter is a single field predicate. Filters only match records that carry
// the field; a missing field never matches, not even for OpNe.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

// Eq matches records whose field equals v.
func Eq(field string, v any) Filter { return Filter{Field: field, Op: OpEq, Value: norm(v)} }

// Ne matches records whose field is present and differs from v.
func Ne(field string, v any) Filter { return Filter{Field: field, Op: OpNe, Value: norm(v)} }

// Gt matches records whose field is strictly greater than v.
func Gt(field string, v any) Filter { return Filter{Field: field, Op: OpGt, Value: norm(v)} }

// Gte matches records whose field is greater than or equal to v.
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: norm(v)} }

// Lt matches records whose field is strictly less than v.
func Lt(field string, v any) Filter { return Filter{Field: field, Op: OpLt, Value: norm(v)} }

// Lte matches records whose field is less than or equal to v.
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: norm(v)} }

// In matches records whose field equals any of vs.
func In(field string, vs ...any) Filter {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = norm(v)
	}
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Contains matches records whose string field contains substr.
func Contains(field, substr string) Filter {
	return Filter{Field: field, Op: OpContains, Value: substr}
}

// norm best-effort normalizes a filter operand. Unsupported operand types
// simply never match.
func norm(v any) any {
	if n, err := NormalizeValue(v); err == nil {
		return n
	}
	return v
}

// Matches evaluates the predicate against a normalized document.
func (f Filter) Matches(doc map[string]any) bool {
	v, ok := doc[f.Field]
	if !ok {
		return false
	}
	return f.matchValue(v)
}

func (f Filter) matchValue(v any) bool {
	switch f.Op {
	case OpEq:
		return equal(v, f.Value)
	case OpNe:
		return !equal(v, f.Value)
	case OpGt:
		c, ok := compare(v, f.Value)
		return ok && c > 0
	case OpGte:
		c, ok := compare(v, f.Value)
		return ok && c >= 0
	case OpLt:
		c, ok := compare(v, f.Value)
		return ok && c < 0
	case OpLte:
		c, ok := compare(v, f.Value)
		return ok && c <= 0
	case OpIn:
		for _, want := range f.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpContains:
		s, sok := v.(string)
		sub, subok := f.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

// FilterSet is a conjunction of filters. An empty set matches everything.
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet builds a FilterSet from the given filters.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Matches reports whether every filter in the set matches doc.
func (s *FilterSet) Matches(doc map[string]any) bool {
	if s == nil {
		return true
	}
	for _, f := range s.Filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}
