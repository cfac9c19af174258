// Package distance defines the distance metrics an embedder can be configured
// with and the float32 functions that implement them.
package distance

import (
	"fmt"
	"math"
	"strings"
)

// Metric identifies how two vectors are compared.
type Metric int

const (
	// MetricAngular is 1 - cosine similarity (0 = same direction, 2 = opposite)
	MetricAngular Metric = iota
	// MetricEuclidean is the L2 distance
	MetricEuclidean
	// MetricManhattan is the L1 distance
	MetricManhattan
	// MetricDotProduct is the negated inner product
	MetricDotProduct
)

// String returns the settings name of the metric
func (m Metric) String() string {
	switch m {
	case MetricAngular:
		return "angular"
	case MetricEuclidean:
		return "euclidean"
	case MetricManhattan:
		return "manhattan"
	case MetricDotProduct:
		return "dotProduct"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name. "cosine" is accepted as an alias of angular.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "angular", "cosine":
		return MetricAngular, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "manhattan", "l1":
		return MetricManhattan, nil
	case "dotproduct", "dot":
		return MetricDotProduct, nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q (expected one of angular, euclidean, manhattan, dotProduct)", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Metric) MarshalText() ([]byte, error) {
	if m < MetricAngular || m > MetricDotProduct {
		return nil, fmt.Errorf("cannot marshal distance metric %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Func calculates the distance between two vectors of equal length.
// Lower values mean closer vectors.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricAngular:
		return CosineDistance, nil
	case MetricEuclidean:
		return EuclideanDistance, nil
	case MetricManhattan:
		return ManhattanDistance, nil
	case MetricDotProduct:
		return DotProduct, nil
	default:
		return nil, fmt.Errorf("unsupported distance metric: %v", m)
	}
}

// CosineDistance calculates 1 - cosine similarity (0 = identical, 2 = opposite).
// A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1.0
	}

	normA = float32(math.Sqrt(float64(normA)))
	normB = float32(math.Sqrt(float64(normB)))

	return 1.0 - dotProduct/(normA*normB)
}

// EuclideanDistance calculates sqrt(Σ(a[i] - b[i])²)
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var sum float32
	for i := 0; i < len(a); i++ {
		diff := a[i] - b[i]
		sum += diff * diff
	}

	return float32(math.Sqrt(float64(sum)))
}

// ManhattanDistance calculates Σ|a[i] - b[i]|
func ManhattanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var sum float32
	for i := 0; i < len(a); i++ {
		sum += float32(math.Abs(float64(a[i] - b[i])))
	}

	return sum
}

// DotProduct calculates -(a·b) so that a larger inner product sorts closer
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var sum float32
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}

	return -sum
}
