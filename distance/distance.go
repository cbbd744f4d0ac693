package distance

import (
	"fmt"
)

// Metric identifies the distance function of a collection.
type Metric uint8

const (
	// L2 is squared Euclidean distance.
	L2 Metric = iota
	// IP is inner-product similarity, surfaced as the negated dot product so
	// that smaller scores are better for every metric.
	IP
)

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case IP:
		return "ip"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Parse resolves a metric name to a Metric.
func Parse(s string) (Metric, error) {
	switch s {
	case "l2":
		return L2, nil
	case "ip":
		return IP, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// Func computes the score between two equal-length vectors.
// Smaller is better.
type Func func(a, b []float32) float32

// FuncFor returns the score function for the metric.
func FuncFor(m Metric) Func {
	if m == IP {
		return NegDot
	}
	return SquaredL2
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// NegDot returns the negated inner product, so that larger similarity maps
// to a smaller score.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}
