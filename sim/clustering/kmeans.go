package clustering

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/distance"
)

const (
	// maxKMeansIterations bounds Lloyd's algorithm.
	maxKMeansIterations = 100

	// DefaultMaxK caps the elbow search when no bound is configured.
	DefaultMaxK = 8
)

// KMeans partitions vectors into k groups with k-means++ seeding and Lloyd
// iterations under metric. k <= 0 selects k by the elbow of the inertia curve
// over 1..maxK; k larger than the number of vectors is clamped.
func KMeans(vectors [][]float64, k, maxK int, metric sim.DistanceMetric, rng sim.Rand) Partition {
	n := len(vectors)
	if n == 0 {
		return Partition{}
	}
	if k > 0 {
		labels, _ := lloyd(vectors, min(k, n), metric, rng)
		return labels.Normalize()
	}
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	maxK = min(maxK, n)
	runs := make([]Partition, maxK)
	inertia := make([]float64, maxK)
	for kk := 1; kk <= maxK; kk++ {
		runs[kk-1], inertia[kk-1] = lloyd(vectors, kk, metric, rng)
	}
	return runs[elbow(inertia)-1].Normalize()
}

// elbow picks k from an inertia curve indexed by k-1: the point farthest
// below the chord joining the first and last values. A two-point curve
// picks 2 when the second inertia is less than half the first.
func elbow(inertia []float64) int {
	switch {
	case len(inertia) <= 1 || inertia[0] == 0:
		return 1
	case len(inertia) == 2:
		if inertia[1] < 0.5*inertia[0] {
			return 2
		}
		return 1
	}
	last := len(inertia) - 1
	slope := (inertia[last] - inertia[0]) / float64(last)
	best, bestGap := 1, 0.0
	for i := 1; i < last; i++ {
		chord := inertia[0] + slope*float64(i)
		if gap := chord - inertia[i]; gap > bestGap {
			best, bestGap = i+1, gap
		}
	}
	return best
}

// lloyd runs one k-means fit and returns the labels with their inertia (sum
// of squared distances to the assigned centroid).
func lloyd(vectors [][]float64, k int, metric sim.DistanceMetric, rng sim.Rand) (Partition, float64) {
	n := len(vectors)
	labels := make(Partition, n)
	if k == 1 {
		return labels, inertiaOf(vectors, [][]float64{mean(vectors, labels, 0)}, labels, metric)
	}
	centroids := seedPlusPlus(vectors, k, metric, rng)
	for i := range labels {
		labels[i] = -1
	}
	for it := 0; it < maxKMeansIterations; it++ {
		changed := false
		for i, v := range vectors {
			c := nearest(v, centroids, metric)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		for c := range centroids {
			if count(labels, c) == 0 {
				centroids[c] = append([]float64(nil), vectors[rng.Intn(n)]...)
				continue
			}
			centroids[c] = mean(vectors, labels, c)
		}
	}
	return labels, inertiaOf(vectors, centroids, labels, metric)
}

// seedPlusPlus draws the first centroid uniformly, then each next one with
// probability proportional to its squared distance to the nearest centroid.
func seedPlusPlus(vectors [][]float64, k int, metric sim.DistanceMetric, rng sim.Rand) [][]float64 {
	n := len(vectors)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), vectors[rng.Intn(n)]...))
	d2 := make([]float64, n)
	for len(centroids) < k {
		for i, v := range vectors {
			d := distance.Distance(v, centroids[nearest(v, centroids, metric)], metric, nil)
			d2[i] = d * d
		}
		total := floats.Sum(d2)
		pick := 0
		if total == 0 {
			pick = rng.Intn(n)
		} else {
			r := rng.Float64() * total
			acc := 0.0
			pick = n - 1
			for i, w := range d2 {
				acc += w
				if r < acc {
					pick = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), vectors[pick]...))
	}
	return centroids
}

func nearest(v []float64, centroids [][]float64, metric sim.DistanceMetric) int {
	best, bestD := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := distance.Distance(v, centroid, metric, nil); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func count(labels Partition, c int) int {
	total := 0
	for _, l := range labels {
		if l == c {
			total++
		}
	}
	return total
}

func mean(vectors [][]float64, labels Partition, c int) []float64 {
	out := make([]float64, len(vectors[0]))
	members := 0
	for i, v := range vectors {
		if labels[i] == c {
			floats.Add(out, v)
			members++
		}
	}
	if members > 0 {
		floats.Scale(1/float64(members), out)
	}
	return out
}

func inertiaOf(vectors, centroids [][]float64, labels Partition, metric sim.DistanceMetric) float64 {
	total := 0.0
	for i, v := range vectors {
		d := distance.Distance(v, centroids[labels[i]], metric, nil)
		total += d * d
	}
	return total
}
