package nn

import (
	"fmt"

	"github.com/fedsim/fedsim/sim"
)

// TrainResult is the outcome of one client's local training.
type TrainResult struct {
	Weights      sim.ModelWeights
	Loss         float64 // mean training loss of the final epoch
	Accuracy     float64 // accuracy of the trained model on its training data
	TestAccuracy float64 // accuracy on the client's test split; 0 if it has none
	GradientNorm float64 // mean mini-batch gradient norm of the final epoch
}

// Trainer runs local SGD for a fixed architecture. It holds no mutable state
// and is safe for concurrent use.
type Trainer struct {
	Arch      Architecture
	BatchSize int
}

// NewTrainer creates a Trainer.
func NewTrainer(arch Architecture, batchSize int) *Trainer {
	return &Trainer{Arch: arch, BatchSize: batchSize}
}

// Train runs epochs passes of SGD starting from start. The returned weights
// carry start's version; versioning is the aggregator's concern.
func (t *Trainer) Train(start sim.ModelWeights, data sim.Dataset, epochs int, lr float64, rng sim.Rand) (TrainResult, error) {
	net, err := FromWeights(t.Arch, start)
	if err != nil {
		return TrainResult{}, fmt.Errorf("local training: %w", err)
	}
	var res TrainResult
	for e := 0; e < epochs; e++ {
		res.Loss, res.GradientNorm = net.TrainEpoch(data.Train, lr, t.BatchSize, rng)
	}
	_, res.Accuracy = net.Evaluate(data.Train)
	_, res.TestAccuracy = net.Evaluate(data.Test)
	res.Weights = net.Weights(start.Version)
	return res, nil
}

// Evaluate returns the mean loss and accuracy of w on data.
func (t *Trainer) Evaluate(w sim.ModelWeights, data sim.Partition) (loss, accuracy float64, err error) {
	net, err := FromWeights(t.Arch, w)
	if err != nil {
		return 0, 0, fmt.Errorf("evaluation: %w", err)
	}
	loss, accuracy = net.Evaluate(data)
	return loss, accuracy, nil
}
