package strategy

import (
	"fmt"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/distance"
)

// coincidentDistance is the distance under which a client's model counts as
// sitting on a cluster model.
const coincidentDistance = 1e-9

// Assignment is the model chosen for one client and how it was chosen.
type Assignment struct {
	Model   sim.ModelWeights
	Source  sim.AssignmentSource
	Cluster int // index into the store's cluster models; -1 for the global model
	// Probabilities over cluster models, set only when the model was sampled.
	Probabilities []float64
}

// Assigner picks the model distributed to a client at the start of a round.
// Implementations only draw from rng when sampling.
type Assigner interface {
	Assign(client *sim.ClientRecord, round int, global sim.ModelWeights, store *sim.ClusterModelStore, rng sim.Rand) Assignment
}

// NewAssigner creates the Assigner for method. Unrecognized methods fall back
// to the global model. probabilisticRounds and metric are only read by the
// probabilistic assigner.
func NewAssigner(method sim.AssignmentMethod, probabilisticRounds int, metric sim.DistanceMetric) Assigner {
	switch method {
	case sim.AssignmentNearest:
		return &Nearest{}
	case sim.AssignmentProbabilistic:
		return &Probabilistic{Rounds: probabilisticRounds, Metric: metric}
	default:
		return &Global{}
	}
}

func globalAssignment(global sim.ModelWeights) Assignment {
	return Assignment{Model: global, Source: sim.SourceGlobal, Cluster: -1}
}

// Global always distributes the global model.
type Global struct{}

func (a *Global) Assign(_ *sim.ClientRecord, _ int, global sim.ModelWeights, _ *sim.ClusterModelStore, _ sim.Rand) Assignment {
	return globalAssignment(global)
}

// Nearest distributes the model of the cluster the client was last placed
// in, or the global model when it has none.
type Nearest struct{}

func (a *Nearest) Assign(client *sim.ClientRecord, _ int, global sim.ModelWeights, store *sim.ClusterModelStore, _ sim.Rand) Assignment {
	c, ok := store.ClusterOf(client.ID)
	if !ok {
		return globalAssignment(global)
	}
	return Assignment{Model: store.Models()[c], Source: sim.SourceCluster, Cluster: c}
}

// Probabilistic samples a cluster model for the first Rounds rounds, with
// probability inversely proportional to the distance between the client's
// last local model and each cluster model. Afterwards, or without a local
// model or clusters, it behaves like Nearest.
type Probabilistic struct {
	Rounds int
	Metric sim.DistanceMetric
}

func (a *Probabilistic) Assign(client *sim.ClientRecord, round int, global sim.ModelWeights, store *sim.ClusterModelStore, rng sim.Rand) Assignment {
	models := store.Models()
	if round > a.Rounds || client.LocalModel == nil || len(models) == 0 {
		return (&Nearest{}).Assign(client, round, global, store, rng)
	}
	local := client.LocalModel.Flatten()
	dists := make([]float64, len(models))
	for i, m := range models {
		if !m.SameShape(*client.LocalModel) {
			return (&Nearest{}).Assign(client, round, global, store, rng)
		}
		dists[i] = distance.Distance(local, m.Flatten(), a.Metric, nil)
	}
	probs := InverseDistanceProbabilities(dists)
	c := sample(probs, rng.Float64())
	return Assignment{Model: models[c], Source: sim.SourceSampled, Cluster: c, Probabilities: probs}
}

// InverseDistanceProbabilities maps distances to a distribution with p ∝ 1/d.
// When any distance is below coincidentDistance, those entries share all the
// mass equally. Negative distances are floored at zero weight.
func InverseDistanceProbabilities(dists []float64) []float64 {
	probs := make([]float64, len(dists))
	coincident := 0
	for _, d := range dists {
		if d >= 0 && d < coincidentDistance {
			coincident++
		}
	}
	if coincident > 0 {
		for i, d := range dists {
			if d >= 0 && d < coincidentDistance {
				probs[i] = 1 / float64(coincident)
			}
		}
		return probs
	}
	total := 0.0
	for i, d := range dists {
		if d > 0 {
			probs[i] = 1 / d
			total += probs[i]
		}
	}
	if total == 0 {
		for i := range probs {
			probs[i] = 1 / float64(len(probs))
		}
		return probs
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// sample returns the first index whose cumulative probability exceeds r.
func sample(probs []float64, r float64) int {
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	// Rounding can leave the total just under 1; fall to the last non-zero entry.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	panic(fmt.Sprintf("sample: no mass in %v", probs))
}
