package clustering

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fedsim/fedsim/sim"
)

const (
	maxPowerIterations = 1000
	powerTolerance     = 1e-10
)

// Spectral embeds nodes with the k eigenvectors of smallest eigenvalue of the
// normalised Laplacian L = I − D^−½·W·D^−½ and clusters the row-normalised
// embedding with K-means. k <= 0 picks k by the largest eigengap among the
// first maxK eigenvalues.
//
// Eigenvectors come from power iteration on the shifted operator 2I − L,
// whose dominant eigenvectors are L's smallest, with Gram–Schmidt deflation
// against those already found.
func Spectral(adj [][]float64, k, maxK int, rng sim.Rand) Partition {
	n := len(adj)
	switch {
	case n == 0:
		return Partition{}
	case n == 1 || k == 1:
		return make(Partition, n)
	}
	k = min(k, n)
	want := k
	if want <= 0 {
		if maxK <= 0 {
			maxK = DefaultMaxK
		}
		want = maxK
	}
	want = min(want, n)

	shifted := shiftedLaplacian(adj)
	vecs, eigenvalues := smallestEigenvectors(shifted, want, rng)
	if k <= 0 {
		k = eigengap(eigenvalues)
	}

	embedding := make([][]float64, n)
	for i := range embedding {
		row := make([]float64, k)
		for c := 0; c < k; c++ {
			row[c] = vecs[c].AtVec(i)
		}
		if norm := mat.Norm(mat.NewVecDense(k, row), 2); norm > 0 {
			for c := range row {
				row[c] /= norm
			}
		}
		embedding[i] = row
	}
	return KMeans(embedding, k, 0, sim.DistanceL2, rng)
}

// shiftedLaplacian returns 2I − L = I + D^−½·W·D^−½. Isolated nodes
// contribute no off-diagonal terms.
func shiftedLaplacian(adj [][]float64) *mat.SymDense {
	n := len(adj)
	invSqrt := make([]float64, n)
	for i, d := range degrees(adj) {
		if d > 0 {
			invSqrt[i] = 1 / math.Sqrt(d)
		}
	}
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			w := 0.5 * (adj[i][j] + adj[j][i])
			m.SetSym(i, j, w*invSqrt[i]*invSqrt[j])
		}
	}
	return m
}

// smallestEigenvectors returns count eigenvectors of the shifted operator in
// order of decreasing shifted eigenvalue, together with the matching
// Laplacian eigenvalues (ascending).
func smallestEigenvectors(shifted *mat.SymDense, count int, rng sim.Rand) ([]*mat.VecDense, []float64) {
	n, _ := shifted.Dims()
	vecs := make([]*mat.VecDense, 0, count)
	eigenvalues := make([]float64, 0, count)
	next := mat.NewVecDense(n, nil)
	for len(vecs) < count {
		v := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			v.SetVec(i, rng.Float64()-0.5)
		}
		deflate(v, vecs)
		normalize(v)

		for it := 0; it < maxPowerIterations; it++ {
			next.MulVec(shifted, v)
			deflate(next, vecs)
			if !normalize(next) {
				break
			}
			delta := 0.0
			for i := 0; i < n; i++ {
				delta = math.Max(delta, math.Abs(next.AtVec(i)-v.AtVec(i)))
			}
			v.CopyVec(next)
			if delta < powerTolerance {
				break
			}
		}
		next.MulVec(shifted, v)
		lambda := mat.Dot(v, next)
		vecs = append(vecs, v)
		eigenvalues = append(eigenvalues, 2-lambda)
	}
	return vecs, eigenvalues
}

// deflate removes from v its projection onto each (unit) basis vector.
func deflate(v *mat.VecDense, basis []*mat.VecDense) {
	for _, b := range basis {
		v.AddScaledVec(v, -mat.Dot(v, b), b)
	}
}

// normalize scales v to unit length, reporting false for a zero vector.
func normalize(v *mat.VecDense) bool {
	norm := mat.Norm(v, 2)
	if norm == 0 {
		return false
	}
	v.ScaleVec(1/norm, v)
	return true
}

// eigengap returns the k maximising λ_{k+1} − λ_k over ascending eigenvalues.
func eigengap(eigenvalues []float64) int {
	best, bestGap := 1, math.Inf(-1)
	for i := 0; i+1 < len(eigenvalues); i++ {
		if gap := eigenvalues[i+1] - eigenvalues[i]; gap > bestGap {
			best, bestGap = i+1, gap
		}
	}
	return best
}
