package clustering

import "github.com/fedsim/fedsim/sim"

const (
	// maxLouvainPasses bounds the local-move phase.
	maxLouvainPasses = 100

	// gainEpsilon ignores modularity gains at rounding-noise level, so two
	// equivalent communities never trade a node back and forth.
	gainEpsilon = 1e-12
)

// Louvain detects communities by greedy modularity local moves at the given
// resolution, followed by a strongest-edge refinement sweep. Node order in
// each pass is drawn from rng. A graph without edges yields singletons.
func Louvain(adj [][]float64, resolution float64, rng sim.Rand) Partition {
	n := len(adj)
	if totalWeight(adj) == 0 {
		return Singletons(n)
	}
	p := localMove(adj, resolution, Singletons(n), rng)
	return strongestEdgeRefine(adj, p)
}

// localMove runs modularity local-move passes starting from init until a full
// pass moves nothing or maxLouvainPasses is reached.
//
// Moving node i into community c gains k_i,in(c) − γ·Σtot(c)·k_i/2m relative
// to leaving it isolated; the node goes to the community with the largest gain,
// staying put on ties.
func localMove(adj [][]float64, gamma float64, init Partition, rng sim.Rand) Partition {
	n := len(adj)
	p := init.Normalize()
	m2 := totalWeight(adj)
	if m2 == 0 {
		return p
	}
	deg := degrees(adj)
	tot := make([]float64, n)
	for i, c := range p {
		tot[c] += deg[i]
	}

	linkTo := make([]float64, n)
	seen := make([]bool, n)
	touched := make([]int, 0, n)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for pass := 0; pass < maxLouvainPasses; pass++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		moved := false
		for _, i := range order {
			own := p[i]
			touched = touched[:0]
			for j, w := range adj[i] {
				if j == i || w == 0 {
					continue
				}
				c := p[j]
				if !seen[c] {
					seen[c] = true
					touched = append(touched, c)
				}
				linkTo[c] += w
			}

			tot[own] -= deg[i]
			best := own
			bestGain := linkTo[own] - gamma*tot[own]*deg[i]/m2
			for _, c := range touched {
				if g := linkTo[c] - gamma*tot[c]*deg[i]/m2; g > bestGain+gainEpsilon {
					best, bestGain = c, g
				}
			}
			tot[best] += deg[i]
			if best != own {
				p[i] = best
				moved = true
			}

			for _, c := range touched {
				linkTo[c] = 0
				seen[c] = false
			}
		}
		if !moved {
			break
		}
	}
	return p.Normalize()
}

// strongestEdgeRefine moves a node into the community of its strongest
// neighbour when that community also holds more of the node's incident weight
// than its current one. Nodes are visited once in index order.
func strongestEdgeRefine(adj [][]float64, p Partition) Partition {
	out := p.Normalize()
	for i, row := range adj {
		strongest, strongestW := -1, 0.0
		for j, w := range row {
			if j != i && w > strongestW {
				strongest, strongestW = j, w
			}
		}
		if strongest < 0 {
			continue
		}
		own, target := out[i], out[strongest]
		if own == target {
			continue
		}
		var toOwn, toTarget float64
		for j, w := range row {
			if j == i {
				continue
			}
			switch out[j] {
			case own:
				toOwn += w
			case target:
				toTarget += w
			}
		}
		if toTarget > toOwn {
			out[i] = target
		}
	}
	return out.Normalize()
}
