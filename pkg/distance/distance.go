// Package distance provides the three distance/similarity kernels the
// engine supports. They operate over raw float32 slices and are written to
// be bit-for-bit deterministic on identical inputs (fixed left-to-right
// summation order, no SIMD reordering) so that repeated runs and tests are
// reproducible, per SPEC_FULL.md §4.1.
package distance

import (
	"math"

	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

// Kernel computes a distance (lower is closer) between two equal-length
// vectors.
type Kernel func(a, b []float32) float32

// ForMetric returns the Kernel for a configured metric. Cosine distance is
// 1-similarity so all three kernels share the "lower is closer" convention
// used throughout the HNSW index.
func ForMetric(m vectortypes.Metric) Kernel {
	switch m {
	case vectortypes.MetricEuclidean:
		return Euclidean
	case vectortypes.MetricDot:
		return NegativeDot
	default:
		return CosineDistance
	}
}

// Euclidean computes the straight-line distance between a and b.
func Euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// CosineDistance computes 1 - cosine similarity. Collections using the
// cosine metric are expected to store unit-normalized vectors (see
// Normalize), at which point this reduces to 1 - dot product.
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}

// NegativeDot computes the negated dot product, so that smaller is closer
// like the other two kernels.
func NegativeDot(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// Normalize returns a unit-length copy of v. Collections configured for the
// cosine metric normalize vectors on insert so that CosineDistance degrades
// to a dot product at query time.
func Normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// ScoreFromDistance converts a metric-specific distance back into the
// public, stable, higher-is-better score described in SPEC_FULL.md §6:
// cosine/dot already return a similarity-shaped quantity in [-1,1] once
// negated back, euclidean is wrapped through 1/(1+d).
func ScoreFromDistance(m vectortypes.Metric, dist float32) float32 {
	switch m {
	case vectortypes.MetricEuclidean:
		return 1.0 / (1.0 + dist)
	case vectortypes.MetricDot:
		return -dist
	default: // cosine: distance was 1-similarity
		return 1.0 - dist
	}
}
