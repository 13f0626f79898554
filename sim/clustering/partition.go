// Package clustering groups client models into communities.
//
// Graph-based algorithms (Louvain, Leiden, Spectral) read a symmetric
// similarity matrix with a zero diagonal; K-means reads raw vectors. Every
// algorithm returns a Partition normalised to contiguous labels 0..k-1,
// numbered by first appearance.
package clustering

import "fmt"

// Partition maps node index to community label.
type Partition []int

// Singletons returns the partition with every node in its own community.
func Singletons(n int) Partition {
	p := make(Partition, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Normalize relabels communities to 0..k-1 in order of first appearance.
// The receiver is not modified.
func (p Partition) Normalize() Partition {
	out := make(Partition, len(p))
	relabel := make(map[int]int)
	for i, c := range p {
		l, ok := relabel[c]
		if !ok {
			l = len(relabel)
			relabel[c] = l
		}
		out[i] = l
	}
	return out
}

// NumCommunities returns the number of distinct labels.
func (p Partition) NumCommunities() int {
	seen := make(map[int]struct{}, len(p))
	for _, c := range p {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// Communities lists node indices per community of a normalised partition,
// indexed by label, members ascending.
func (p Partition) Communities() [][]int {
	norm := p.Normalize()
	groups := make([][]int, norm.NumCommunities())
	for node, c := range norm {
		groups[c] = append(groups[c], node)
	}
	return groups
}

// Validate checks that p covers exactly n nodes with contiguous labels.
func (p Partition) Validate(n int) error {
	if len(p) != n {
		return fmt.Errorf("partition covers %d nodes, want %d", len(p), n)
	}
	k := p.NumCommunities()
	for node, c := range p {
		if c < 0 || c >= k {
			return fmt.Errorf("node %d has label %d outside 0..%d", node, c, k-1)
		}
	}
	return nil
}

// totalWeight is the sum of all matrix entries (2m for an undirected graph).
func totalWeight(adj [][]float64) float64 {
	total := 0.0
	for _, row := range adj {
		for _, w := range row {
			total += w
		}
	}
	return total
}

func degrees(adj [][]float64) []float64 {
	k := make([]float64, len(adj))
	for i, row := range adj {
		for _, w := range row {
			k[i] += w
		}
	}
	return k
}

// Modularity returns Newman modularity at resolution gamma:
// Q = (1/2m) Σ_ij [A_ij − γ·k_i·k_j/2m]·δ(c_i, c_j). An edgeless graph scores 0.
func Modularity(adj [][]float64, p Partition, gamma float64) float64 {
	m2 := totalWeight(adj)
	if m2 == 0 {
		return 0
	}
	deg := degrees(adj)
	norm := p.Normalize()
	k := norm.NumCommunities()
	internal := make([]float64, k)
	tot := make([]float64, k)
	for i, row := range adj {
		tot[norm[i]] += deg[i]
		for j, w := range row {
			if norm[i] == norm[j] {
				internal[norm[i]] += w
			}
		}
	}
	q := 0.0
	for c := 0; c < k; c++ {
		q += internal[c]/m2 - gamma*(tot[c]/m2)*(tot[c]/m2)
	}
	return q
}
