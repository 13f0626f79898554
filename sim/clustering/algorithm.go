package clustering

import (
	"errors"
	"fmt"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/distance"
)

// ErrEmptyInput is returned when an algorithm is handed nothing to cluster.
var ErrEmptyInput = errors.New("clustering: empty input")

// Input carries everything an Algorithm may read. Graph-based algorithms use
// Adjacency, derived from Distances when nil; K-means uses Vectors.
type Input struct {
	Vectors   [][]float64
	Distances [][]float64
	Adjacency [][]float64
	Metric    sim.DistanceMetric
}

// Len returns the number of nodes described by the input.
func (in Input) Len() int {
	switch {
	case in.Adjacency != nil:
		return len(in.Adjacency)
	case in.Distances != nil:
		return len(in.Distances)
	default:
		return len(in.Vectors)
	}
}

func (in Input) adjacency() ([][]float64, error) {
	switch {
	case in.Adjacency != nil:
		return in.Adjacency, nil
	case in.Distances != nil:
		return distance.ToAdjacency(in.Distances), nil
	default:
		return nil, fmt.Errorf("graph clustering needs an adjacency or distance matrix: %w", ErrEmptyInput)
	}
}

// Options holds the tunables shared by all algorithms.
type Options struct {
	Resolution float64 // modularity resolution for Louvain and Leiden
	K          int     // fixed cluster count for K-means and Spectral; 0 = auto
	MaxK       int     // upper bound of the auto-k search
}

// Algorithm partitions nodes into communities. Implementations draw all
// randomness from rng.
type Algorithm interface {
	Cluster(in Input, rng sim.Rand) (Partition, error)
}

// New creates the Algorithm for method.
// Panics on unrecognized methods.
func New(method sim.ClusteringMethod, opts Options) Algorithm {
	if !sim.ValidClusteringMethods[method] {
		panic(fmt.Sprintf("unknown clustering method %q", method))
	}
	if opts.Resolution <= 0 {
		opts.Resolution = 1
	}
	switch method {
	case sim.ClusteringLouvain:
		return &louvainAlgorithm{resolution: opts.Resolution}
	case sim.ClusteringLeiden:
		return &leidenAlgorithm{resolution: opts.Resolution}
	case sim.ClusteringKMeans:
		return &kmeansAlgorithm{k: opts.K, maxK: opts.MaxK}
	case sim.ClusteringSpectral:
		return &spectralAlgorithm{k: opts.K, maxK: opts.MaxK}
	default:
		panic(fmt.Sprintf("unhandled clustering method %q", method))
	}
}

type louvainAlgorithm struct{ resolution float64 }

func (a *louvainAlgorithm) Cluster(in Input, rng sim.Rand) (Partition, error) {
	adj, err := in.adjacency()
	if err != nil {
		return nil, err
	}
	return Louvain(adj, a.resolution, rng), nil
}

type leidenAlgorithm struct{ resolution float64 }

func (a *leidenAlgorithm) Cluster(in Input, rng sim.Rand) (Partition, error) {
	adj, err := in.adjacency()
	if err != nil {
		return nil, err
	}
	return Leiden(adj, a.resolution, rng), nil
}

type kmeansAlgorithm struct{ k, maxK int }

func (a *kmeansAlgorithm) Cluster(in Input, rng sim.Rand) (Partition, error) {
	if len(in.Vectors) == 0 {
		return nil, fmt.Errorf("k-means needs vectors: %w", ErrEmptyInput)
	}
	metric := in.Metric
	if metric == "" {
		metric = sim.DistanceL2
	}
	return KMeans(in.Vectors, a.k, a.maxK, metric, rng), nil
}

type spectralAlgorithm struct{ k, maxK int }

func (a *spectralAlgorithm) Cluster(in Input, rng sim.Rand) (Partition, error) {
	adj, err := in.adjacency()
	if err != nil {
		return nil, err
	}
	return Spectral(adj, a.k, a.maxK, rng), nil
}
