// Package consensus stabilises community detection by repeating a graph
// clustering across a sweep of resolutions and keeping only the pairs that
// land together often enough.
package consensus

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/clustering"
	"github.com/fedsim/fedsim/sim/distance"
)

// Defaults for the resolution sweep and extraction threshold.
const (
	DefaultRuns          = 20
	DefaultMinResolution = 0.5
	DefaultMaxResolution = 2.5
	DefaultThreshold     = 0.6
)

// Options configures the sweep.
type Options struct {
	Runs          int
	MinResolution float64
	MaxResolution float64
}

// DefaultOptions returns the standard sweep.
func DefaultOptions() Options {
	return Options{Runs: DefaultRuns, MinResolution: DefaultMinResolution, MaxResolution: DefaultMaxResolution}
}

// resolution returns the linearly swept resolution of run i.
func (o Options) resolution(i int) float64 {
	if o.Runs <= 1 {
		return o.MinResolution
	}
	return o.MinResolution + (o.MaxResolution-o.MinResolution)*float64(i)/float64(o.Runs-1)
}

// BuildAgreement converts the distance matrix d into an RBF similarity graph
// and clusters it opts.Runs times with method, counting per pair how often the
// two nodes share a community. Entries lie in [0, Runs]; the diagonal is Runs.
//
// All runs draw from rng in sequence. Callers pass an isolated stream so the
// experiment's main stream is never consumed. Methods that do not take a
// resolution fall back to Louvain.
func BuildAgreement(d [][]float64, method sim.ClusteringMethod, opts Options, rng sim.Rand) ([][]int, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("consensus: runs must be >= 1, got %d", opts.Runs)
	}
	if !method.IsGraphBased() {
		logrus.Debugf("consensus: %q has no resolution parameter, sweeping with louvain", method)
		method = sim.ClusteringLouvain
	}
	n := len(d)
	agreement := make([][]int, n)
	for i := range agreement {
		agreement[i] = make([]int, n)
	}
	adj := distance.ToAdjacency(d)
	for run := 0; run < opts.Runs; run++ {
		algo := clustering.New(method, clustering.Options{Resolution: opts.resolution(run)})
		p, err := algo.Cluster(clustering.Input{Adjacency: adj}, rng)
		if err != nil {
			return nil, fmt.Errorf("consensus run %d: %w", run, err)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if p[i] == p[j] {
					agreement[i][j]++
				}
			}
		}
	}
	return agreement, nil
}

// ExtractClusters links every pair agreeing in at least runs·threshold runs
// and returns the connected components of that graph, found by BFS in index
// order.
func ExtractClusters(agreement [][]int, runs int, threshold float64) clustering.Partition {
	n := len(agreement)
	cut := float64(runs) * threshold
	p := make(clustering.Partition, n)
	for i := range p {
		p[i] = -1
	}
	label := 0
	for start := 0; start < n; start++ {
		if p[start] >= 0 {
			continue
		}
		p[start] = label
		queue := []int{start}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for v := 0; v < n; v++ {
				if p[v] < 0 && float64(agreement[u][v]) >= cut {
					p[v] = label
					queue = append(queue, v)
				}
			}
		}
		label++
	}
	return p
}
