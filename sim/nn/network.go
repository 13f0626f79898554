// Package nn implements the clients' local model: a two-layer feed-forward
// classifier (dense → ReLU → dense → softmax) trained with mini-batch SGD on
// cross-entropy loss.
//
// Parameters travel as sim.ModelWeights with Layers = [W1, W2] and
// Bias = B1 ++ B2. W1 is row-major [inputs][hidden], W2 is [hidden][outputs].
package nn

import (
	"fmt"
	"math"

	"github.com/fedsim/fedsim/sim"
)

// Architecture fixes the layer sizes of an experiment's model.
type Architecture struct {
	Inputs  int
	Hidden  int
	Outputs int
}

// Shape returns the sim.Shape of weights for this architecture.
func (a Architecture) Shape() sim.Shape {
	return sim.Shape{
		LayerSizes: []int{a.Inputs * a.Hidden, a.Hidden * a.Outputs},
		BiasSize:   a.Hidden + a.Outputs,
	}
}

// Validate checks that all layer sizes are positive.
func (a Architecture) Validate() error {
	if a.Inputs < 1 || a.Hidden < 1 || a.Outputs < 1 {
		return fmt.Errorf("invalid architecture %d-%d-%d", a.Inputs, a.Hidden, a.Outputs)
	}
	return nil
}

// Init draws Xavier-uniform layer weights from rng; biases start at zero.
// Draw order is W1 then W2, element by element.
func (a Architecture) Init(rng sim.Rand) sim.ModelWeights {
	w1 := xavier(a.Inputs, a.Hidden, rng)
	w2 := xavier(a.Hidden, a.Outputs, rng)
	return sim.ModelWeights{
		Layers:  [][]float64{w1, w2},
		Bias:    make([]float64, a.Hidden+a.Outputs),
		Version: 0,
	}
}

func xavier(fanIn, fanOut int, rng sim.Rand) []float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	w := make([]float64, fanIn*fanOut)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
	return w
}

// Network is a mutable working copy of a model used during training.
type Network struct {
	arch   Architecture
	w1, w2 []float64
	b1, b2 []float64
}

// FromWeights builds a Network from weights, copying every parameter.
// Returns an error wrapping sim.ErrShapeMismatch for weights of another shape.
func FromWeights(arch Architecture, w sim.ModelWeights) (*Network, error) {
	want := arch.Shape()
	got := w.Shape()
	if len(got.LayerSizes) != 2 || got.LayerSizes[0] != want.LayerSizes[0] ||
		got.LayerSizes[1] != want.LayerSizes[1] || got.BiasSize != want.BiasSize {
		return nil, fmt.Errorf("weights %v do not fit architecture %d-%d-%d: %w",
			got.LayerSizes, arch.Inputs, arch.Hidden, arch.Outputs, sim.ErrShapeMismatch)
	}
	return &Network{
		arch: arch,
		w1:   append([]float64(nil), w.Layers[0]...),
		w2:   append([]float64(nil), w.Layers[1]...),
		b1:   append([]float64(nil), w.Bias[:arch.Hidden]...),
		b2:   append([]float64(nil), w.Bias[arch.Hidden:]...),
	}, nil
}

// Weights snapshots the network's parameters.
func (n *Network) Weights(version int) sim.ModelWeights {
	bias := make([]float64, 0, len(n.b1)+len(n.b2))
	bias = append(bias, n.b1...)
	bias = append(bias, n.b2...)
	return sim.ModelWeights{
		Layers:  [][]float64{append([]float64(nil), n.w1...), append([]float64(nil), n.w2...)},
		Bias:    bias,
		Version: version,
	}
}

// activations holds the intermediate values of one forward pass.
type activations struct {
	pre    []float64 // hidden pre-activation
	hidden []float64 // ReLU output
	probs  []float64 // softmax output
}

func (n *Network) forward(x []float64) activations {
	h, o := n.arch.Hidden, n.arch.Outputs
	act := activations{
		pre:    make([]float64, h),
		hidden: make([]float64, h),
		probs:  make([]float64, o),
	}
	copy(act.pre, n.b1)
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		row := n.w1[i*h : (i+1)*h]
		for j := range act.pre {
			act.pre[j] += xi * row[j]
		}
	}
	for j, v := range act.pre {
		if v > 0 {
			act.hidden[j] = v
		}
	}
	copy(act.probs, n.b2)
	for j, hj := range act.hidden {
		if hj == 0 {
			continue
		}
		row := n.w2[j*o : (j+1)*o]
		for k := range act.probs {
			act.probs[k] += hj * row[k]
		}
	}
	softmaxInPlace(act.probs)
	return act
}

// Predict returns class probabilities for x.
func (n *Network) Predict(x []float64) []float64 {
	return n.forward(x).probs
}

func softmaxInPlace(z []float64) {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	sum := 0.0
	for i, v := range z {
		z[i] = math.Exp(v - maxZ)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

// probFloor keeps log() finite for saturated predictions.
const probFloor = 1e-12

func crossEntropy(probs, onehot []float64) float64 {
	loss := 0.0
	for k, y := range onehot {
		if y != 0 {
			loss -= y * math.Log(math.Max(probs[k], probFloor))
		}
	}
	return loss
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Evaluate returns the mean cross-entropy loss and accuracy over data.
// Empty data evaluates to (0, 0).
func (n *Network) Evaluate(data sim.Partition) (loss, accuracy float64) {
	if data.Len() == 0 {
		return 0, 0
	}
	correct := 0
	for i, x := range data.Inputs {
		probs := n.forward(x).probs
		loss += crossEntropy(probs, data.Labels[i])
		if argmax(probs) == argmax(data.Labels[i]) {
			correct++
		}
	}
	total := float64(data.Len())
	return loss / total, float64(correct) / total
}
