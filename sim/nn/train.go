package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fedsim/fedsim/sim"
)

// gradients mirrors the Network's parameter layout.
type gradients struct {
	w1, w2, b1, b2 []float64
}

func newGradients(a Architecture) *gradients {
	return &gradients{
		w1: make([]float64, a.Inputs*a.Hidden),
		w2: make([]float64, a.Hidden*a.Outputs),
		b1: make([]float64, a.Hidden),
		b2: make([]float64, a.Outputs),
	}
}

func (g *gradients) zero() {
	for _, s := range [][]float64{g.w1, g.w2, g.b1, g.b2} {
		for i := range s {
			s[i] = 0
		}
	}
}

func (g *gradients) scale(c float64) {
	floats.Scale(c, g.w1)
	floats.Scale(c, g.w2)
	floats.Scale(c, g.b1)
	floats.Scale(c, g.b2)
}

func (g *gradients) norm() float64 {
	sq := floats.Dot(g.w1, g.w1) + floats.Dot(g.w2, g.w2) + floats.Dot(g.b1, g.b1) + floats.Dot(g.b2, g.b2)
	return math.Sqrt(sq)
}

// backprop accumulates the gradient of one sample's loss into g and returns
// that loss.
func (n *Network) backprop(x, y []float64, g *gradients) float64 {
	h, o := n.arch.Hidden, n.arch.Outputs
	act := n.forward(x)
	loss := crossEntropy(act.probs, y)

	// Softmax + cross-entropy: dL/dz2 = p - y.
	dz2 := make([]float64, o)
	floats.SubTo(dz2, act.probs, y)
	floats.Add(g.b2, dz2)

	dHidden := make([]float64, h)
	for j, hj := range act.hidden {
		row := n.w2[j*o : (j+1)*o]
		if hj != 0 {
			floats.AddScaled(g.w2[j*o:(j+1)*o], hj, dz2)
		}
		if act.pre[j] > 0 {
			dHidden[j] = floats.Dot(row, dz2)
		}
	}
	floats.Add(g.b1, dHidden)
	for i, xi := range x {
		if xi != 0 {
			floats.AddScaled(g.w1[i*h:(i+1)*h], xi, dHidden)
		}
	}
	return loss
}

func (n *Network) step(g *gradients, lr float64) {
	floats.AddScaled(n.w1, -lr, g.w1)
	floats.AddScaled(n.w2, -lr, g.w2)
	floats.AddScaled(n.b1, -lr, g.b1)
	floats.AddScaled(n.b2, -lr, g.b2)
}

// TrainEpoch runs one pass of mini-batch SGD over data in an order shuffled
// with rng. It returns the mean pre-update sample loss and the mean batch
// gradient norm of the epoch.
func (n *Network) TrainEpoch(data sim.Partition, lr float64, batchSize int, rng sim.Rand) (loss, gradNorm float64) {
	count := data.Len()
	if count == 0 {
		return 0, 0
	}
	if batchSize < 1 {
		batchSize = 1
	}
	order := make([]int, count)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(count, func(i, j int) { order[i], order[j] = order[j], order[i] })

	g := newGradients(n.arch)
	batches := 0
	for start := 0; start < count; start += batchSize {
		end := min(start+batchSize, count)
		g.zero()
		for _, idx := range order[start:end] {
			loss += n.backprop(data.Inputs[idx], data.Labels[idx], g)
		}
		g.scale(1 / float64(end-start))
		gradNorm += g.norm()
		batches++
		n.step(g, lr)
	}
	return loss / float64(count), gradNorm / float64(batches)
}
