// Package distance computes dissimilarities between flattened model vectors
// and turns them into similarity graphs for community detection.
package distance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fedsim/fedsim/sim"
)

// Distance returns the metric distance between a and b. A non-nil reference
// is subtracted from both vectors first, measuring update directions relative
// to it. Panics on length mismatch or an unknown metric; callers validate
// shapes and configuration beforehand.
func Distance(a, b []float64, metric sim.DistanceMetric, reference []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("distance: length mismatch %d vs %d", len(a), len(b)))
	}
	if reference != nil {
		a = translate(a, reference)
		b = translate(b, reference)
	}
	switch metric {
	case sim.DistanceL1:
		return floats.Distance(a, b, 1)
	case sim.DistanceL2:
		return floats.Distance(a, b, 2)
	case sim.DistanceCosine:
		return cosine(a, b)
	default:
		panic(fmt.Sprintf("distance: unknown metric %q", metric))
	}
}

func translate(v, reference []float64) []float64 {
	if len(v) != len(reference) {
		panic(fmt.Sprintf("distance: reference length %d, vector length %d", len(reference), len(v)))
	}
	out := make([]float64, len(v))
	floats.SubTo(out, v, reference)
	return out
}

// cosine is 1 - cos(a, b). Two zero vectors are identical (0); a zero vector
// against a non-zero one is orthogonal (1).
func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	switch {
	case na == 0 && nb == 0:
		return 0
	case na == 0 || nb == 0:
		return 1
	}
	cos := floats.Dot(a, b) / (na * nb)
	// Clamp rounding noise so identical vectors give exactly 0.
	cos = math.Max(-1, math.Min(1, cos))
	return 1 - cos
}

// PairwiseMatrix returns the symmetric n×n distance matrix with a zero
// diagonal. Only the upper triangle is computed.
func PairwiseMatrix(vectors [][]float64, metric sim.DistanceMetric, reference []float64) [][]float64 {
	n := len(vectors)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := Distance(vectors[i], vectors[j], metric, reference)
			d[i][j] = v
			d[j][i] = v
		}
	}
	return d
}

// Sigma is the RBF bandwidth for ToAdjacency: the mean off-diagonal distance,
// or 1 when that is zero, non-finite, or undefined (fewer than two nodes).
func Sigma(d [][]float64) float64 {
	n := len(d)
	if n < 2 {
		return 1
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				sum += d[i][j]
			}
		}
	}
	sigma := sum / float64(n*(n-1))
	if sigma <= 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return 1
	}
	return sigma
}

// ToAdjacency converts a distance matrix into RBF similarities
// exp(-d/sigma) off the diagonal, with a zero diagonal.
func ToAdjacency(d [][]float64) [][]float64 {
	sigma := Sigma(d)
	n := len(d)
	adj := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				adj[i][j] = math.Exp(-d[i][j] / sigma)
			}
		}
	}
	return adj
}
