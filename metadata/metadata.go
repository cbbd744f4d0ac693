// Package metadata implements scalar metadata for records: value
// normalization, a small filter DSL with AND semantics, and a roaring-bitmap
// inverted index used to pre-evaluate filters into allow-lists of internal
// ids before a vector search runs.
package metadata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupportedValue is returned when a metadata value is not a string,
// bool or number.
var ErrUnsupportedValue = errors.New("metadata: unsupported value type")

// NormalizeValue coerces a metadata value to its canonical form: numbers
// become float64, strings and bools pass through.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// NormalizeDocument returns a normalized copy of doc. A nil document is
// returned as nil.
func NormalizeDocument(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}

	out := make(map[string]any, len(doc))
	for field, v := range doc {
		norm, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = norm
	}

	return out, nil
}

// valueKey encodes a normalized value into a map key with a type tag so
// that e.g. the string "1" and the number 1 never collide.
func valueKey(v any) string {
	switch x := v.(type) {
	case string:
		return "s:" + x
	case bool:
		if x {
			return "b:1"
		}
		return "b:0"
	case float64:
		return "f:" + strconv.FormatUint(math.Float64bits(x), 16)
	default:
		// Normalized values never reach here.
		return fmt.Sprintf("?:%v", x)
	}
}

// compare orders two normalized values of the same kind. ok is false when
// the values are not comparable (different kinds, or bools).
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	x, aok := a.(bool)
	y, bok := b.(bool)
	return aok && bok && x == y
}
