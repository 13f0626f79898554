package clustering

import (
	"fmt"

	"github.com/fedsim/fedsim/sim"
)

// Silhouette returns the mean silhouette coefficient over all nodes given a
// distance matrix. Singleton members score 0. ok is false when the score is
// undefined: fewer than two communities, or every node on its own.
func Silhouette(d [][]float64, p Partition) (score float64, ok bool) {
	n := len(p)
	groups := p.Communities()
	if len(groups) < 2 || len(groups) == n {
		return 0, false
	}
	norm := p.Normalize()
	total := 0.0
	for i := 0; i < n; i++ {
		own := groups[norm[i]]
		if len(own) == 1 {
			continue
		}
		a := meanDistance(d, i, own)
		b := -1.0
		for c, members := range groups {
			if c == norm[i] {
				continue
			}
			if md := meanDistance(d, i, members); b < 0 || md < b {
				b = md
			}
		}
		if denom := max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n), true
}

// meanDistance averages d[i][j] over members other than i.
func meanDistance(d [][]float64, i int, members []int) float64 {
	sum, count := 0.0, 0
	for _, j := range members {
		if j != i {
			sum += d[i][j]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// ClusterModels averages the member models of each community weighted by data
// size, returning one model per label of the normalised partition. A
// community whose members all report zero data falls back to equal weights.
func ClusterModels(models []sim.ModelWeights, dataSizes []int, p Partition) ([]sim.ModelWeights, error) {
	if len(models) != len(p) || len(dataSizes) != len(p) {
		return nil, fmt.Errorf("cluster models: %d models, %d sizes, %d nodes", len(models), len(dataSizes), len(p))
	}
	groups := p.Communities()
	out := make([]sim.ModelWeights, len(groups))
	for c, members := range groups {
		group := make([]sim.ModelWeights, len(members))
		coeffs := make([]float64, len(members))
		total := 0.0
		for i, node := range members {
			group[i] = models[node]
			coeffs[i] = float64(dataSizes[node])
			total += coeffs[i]
		}
		if total == 0 {
			for i := range coeffs {
				coeffs[i] = 1
			}
		}
		avg, err := sim.WeightedAverage(group, coeffs)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", c, err)
		}
		out[c] = avg
	}
	return out, nil
}
