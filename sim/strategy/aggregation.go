// Package strategy holds the pluggable per-round policies of the federation:
// server aggregation, client-side blending and model assignment.
package strategy

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fedsim/fedsim/sim"
)

// Update is one client's contribution to a round.
type Update struct {
	ClientID int
	Weights  sim.ModelWeights
	DataSize int
}

// Aggregator combines client updates into the next global model.
//
// The result's Version is one more than the highest version among the updates
// and global. Empty updates return sim.ErrNoUpdates; updates of differing
// shapes return an error wrapping sim.ErrShapeMismatch.
type Aggregator interface {
	Aggregate(updates []Update, global sim.ModelWeights) (sim.ModelWeights, error)
}

// NewAggregator creates the Aggregator for method. proximalMu is only read by
// FedProx.
// Panics on unrecognized methods.
func NewAggregator(method sim.AggregationMethod, proximalMu float64) Aggregator {
	if !sim.ValidAggregationMethods[method] {
		panic(fmt.Sprintf("unknown aggregation method %q", method))
	}
	switch method {
	case sim.AggregationFedAvg:
		return &FedAvg{}
	case sim.AggregationFedProx:
		return &FedProx{Mu: proximalMu}
	case sim.AggregationSimple:
		return &Simple{}
	case sim.AggregationMedian:
		return &Median{}
	default:
		panic(fmt.Sprintf("unhandled aggregation method %q", method))
	}
}

func checkUpdates(updates []Update) error {
	if len(updates) == 0 {
		return sim.ErrNoUpdates
	}
	for _, u := range updates[1:] {
		if !u.Weights.SameShape(updates[0].Weights) {
			return fmt.Errorf("update from client %d: %w", u.ClientID, sim.ErrShapeMismatch)
		}
	}
	return nil
}

func nextVersion(updates []Update, global sim.ModelWeights) int {
	v := global.Version
	for _, u := range updates {
		v = max(v, u.Weights.Version)
	}
	return v + 1
}

// dataSizeCoeffs returns per-update data sizes, or equal weights when every
// update reports zero data.
func dataSizeCoeffs(updates []Update) []float64 {
	coeffs := make([]float64, len(updates))
	total := 0
	for i, u := range updates {
		coeffs[i] = float64(u.DataSize)
		total += u.DataSize
	}
	if total == 0 {
		for i := range coeffs {
			coeffs[i] = 1
		}
	}
	return coeffs
}

func average(models []sim.ModelWeights, coeffs []float64, version int) (sim.ModelWeights, error) {
	out, err := sim.WeightedAverage(models, coeffs)
	if err != nil {
		return sim.ModelWeights{}, err
	}
	out.Version = version
	return out, nil
}

func weightsOf(updates []Update) []sim.ModelWeights {
	models := make([]sim.ModelWeights, len(updates))
	for i, u := range updates {
		models[i] = u.Weights
	}
	return models
}

// FedAvg averages updates weighted by client data size.
type FedAvg struct{}

func (a *FedAvg) Aggregate(updates []Update, global sim.ModelWeights) (sim.ModelWeights, error) {
	if err := checkUpdates(updates); err != nil {
		return sim.ModelWeights{}, err
	}
	return average(weightsOf(updates), dataSizeCoeffs(updates), nextVersion(updates, global))
}

// FedProx pulls each update toward the previous global model by Mu,
// w + Mu·(global − w), before the data-size weighted average. An unset
// global model disables the pull.
type FedProx struct {
	Mu float64
}

func (a *FedProx) Aggregate(updates []Update, global sim.ModelWeights) (sim.ModelWeights, error) {
	if err := checkUpdates(updates); err != nil {
		return sim.ModelWeights{}, err
	}
	models := weightsOf(updates)
	if !global.IsZero() && a.Mu != 0 {
		for i, m := range models {
			pulled, err := sim.Blend(m, global, a.Mu)
			if err != nil {
				return sim.ModelWeights{}, fmt.Errorf("proximal pull for client %d: %w", updates[i].ClientID, err)
			}
			models[i] = pulled
		}
	}
	return average(models, dataSizeCoeffs(updates), nextVersion(updates, global))
}

// Simple is the unweighted mean of all updates.
type Simple struct{}

func (a *Simple) Aggregate(updates []Update, global sim.ModelWeights) (sim.ModelWeights, error) {
	if err := checkUpdates(updates); err != nil {
		return sim.ModelWeights{}, err
	}
	coeffs := make([]float64, len(updates))
	for i := range coeffs {
		coeffs[i] = 1
	}
	return average(weightsOf(updates), coeffs, nextVersion(updates, global))
}

// Median takes the coordinate-wise median of all updates; for an even count,
// the mean of the two middle values.
type Median struct{}

func (a *Median) Aggregate(updates []Update, global sim.ModelWeights) (sim.ModelWeights, error) {
	if err := checkUpdates(updates); err != nil {
		return sim.ModelWeights{}, err
	}
	flats := make([][]float64, len(updates))
	for i, u := range updates {
		flats[i] = u.Weights.Flatten()
	}
	n := len(flats)
	out := make([]float64, len(flats[0]))
	column := make([]float64, n)
	for j := range out {
		for i, f := range flats {
			column[i] = f[j]
		}
		sort.Float64s(column)
		if n%2 == 1 {
			out[j] = column[n/2]
		} else {
			out[j] = stat.Mean(column[n/2-1:n/2+1], nil)
		}
	}
	return sim.Unflatten(updates[0].Weights.Shape(), out, nextVersion(updates, global))
}
