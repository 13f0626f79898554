package clustering

import (
	"math"

	"github.com/fedsim/fedsim/sim"
)

const (
	// leidenSplitThreshold is the mean internal edge weight below which a
	// community of three or more members is considered for splitting.
	leidenSplitThreshold = 0.5

	// maxLeidenIterations bounds the move/refine/relabel loop.
	maxLeidenIterations = 10

	// modularityTolerance stops Leiden once an iteration changes Q by less.
	modularityTolerance = 1e-6
)

// Leiden alternates modularity local moves with a refinement that splits
// loosely connected communities and then guarantees every community is
// connected. The loop stops when modularity settles or after
// maxLeidenIterations.
func Leiden(adj [][]float64, resolution float64, rng sim.Rand) Partition {
	n := len(adj)
	if totalWeight(adj) == 0 {
		return Singletons(n)
	}
	p := Singletons(n)
	prevQ := Modularity(adj, p, resolution)
	for it := 0; it < maxLeidenIterations; it++ {
		p = localMove(adj, resolution, p, rng)
		p = splitLoose(adj, p, rng)
		p = splitDisconnected(adj, p)
		q := Modularity(adj, p, resolution)
		if math.Abs(q-prevQ) < modularityTolerance {
			break
		}
		prevQ = q
	}
	return p
}

// meanInternalWeight averages edge weights over all member pairs.
func meanInternalWeight(adj [][]float64, members []int) float64 {
	sum := 0.0
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += adj[members[a]][members[b]]
		}
	}
	pairs := len(members) * (len(members) - 1) / 2
	return sum / float64(pairs)
}

// splitLoose breaks up communities of more than two members whose mean
// internal weight is below leidenSplitThreshold. A pivot member is drawn from
// rng; every other member stays with the pivot with probability equal to its
// share of in-community affinity that points at the pivot, otherwise it moves
// to a fresh community shared by all non-followers.
func splitLoose(adj [][]float64, p Partition, rng sim.Rand) Partition {
	out := p.Normalize()
	next := out.NumCommunities()
	for _, members := range out.Communities() {
		if len(members) <= 2 || meanInternalWeight(adj, members) >= leidenSplitThreshold {
			continue
		}
		pivot := members[rng.Intn(len(members))]
		split := false
		for _, m := range members {
			if m == pivot {
				continue
			}
			affinity := 0.0
			for _, o := range members {
				if o != m {
					affinity += adj[m][o]
				}
			}
			share := 0.0
			if affinity > 0 {
				share = adj[m][pivot] / affinity
			}
			if rng.Float64() >= share {
				out[m] = next
				split = true
			}
		}
		if split {
			next++
		}
	}
	return out.Normalize()
}

// splitDisconnected gives each connected component of every community its
// own label, treating positive weights as edges.
func splitDisconnected(adj [][]float64, p Partition) Partition {
	out := make(Partition, len(p))
	for i := range out {
		out[i] = -1
	}
	label := 0
	for start := range p {
		if out[start] >= 0 {
			continue
		}
		queue := []int{start}
		out[start] = label
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for v, w := range adj[u] {
				if w > 0 && out[v] < 0 && p[v] == p[start] {
					out[v] = label
					queue = append(queue, v)
				}
			}
		}
		label++
	}
	return out
}
