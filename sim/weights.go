package sim

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when two models do not share an architecture.
var ErrShapeMismatch = errors.New("model shape mismatch")

// ModelWeights is an immutable snapshot of a network's parameters:
// one flat array per dense layer, all biases concatenated, and a version.
// Code that needs a modified copy must Clone first.
type ModelWeights struct {
	Layers  [][]float64 `json:"layers"`
	Bias    []float64   `json:"bias"`
	Version int         `json:"version"`
}

// Shape describes the dimensionality of a ModelWeights value.
type Shape struct {
	LayerSizes []int
	BiasSize   int
}

// Dim returns the total parameter count of the shape.
func (s Shape) Dim() int {
	n := s.BiasSize
	for _, l := range s.LayerSizes {
		n += l
	}
	return n
}

// Shape returns the dimensionality of w.
func (w ModelWeights) Shape() Shape {
	sizes := make([]int, len(w.Layers))
	for i, l := range w.Layers {
		sizes[i] = len(l)
	}
	return Shape{LayerSizes: sizes, BiasSize: len(w.Bias)}
}

// Dim returns the number of parameters in w.
func (w ModelWeights) Dim() int {
	return w.Shape().Dim()
}

// IsZero reports whether w holds no parameters.
func (w ModelWeights) IsZero() bool {
	return len(w.Layers) == 0 && len(w.Bias) == 0
}

// SameShape reports whether w and o have identical layer and bias sizes.
func (w ModelWeights) SameShape(o ModelWeights) bool {
	if len(w.Layers) != len(o.Layers) || len(w.Bias) != len(o.Bias) {
		return false
	}
	for i := range w.Layers {
		if len(w.Layers[i]) != len(o.Layers[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of w.
func (w ModelWeights) Clone() ModelWeights {
	layers := make([][]float64, len(w.Layers))
	for i, l := range w.Layers {
		layers[i] = append([]float64(nil), l...)
	}
	return ModelWeights{
		Layers:  layers,
		Bias:    append([]float64(nil), w.Bias...),
		Version: w.Version,
	}
}

// Flatten concatenates all layers followed by the bias array.
func (w ModelWeights) Flatten() []float64 {
	out := make([]float64, 0, w.Dim())
	for _, l := range w.Layers {
		out = append(out, l...)
	}
	return append(out, w.Bias...)
}

// Unflatten rebuilds a ModelWeights of the given shape from a flat vector.
func Unflatten(shape Shape, flat []float64, version int) (ModelWeights, error) {
	if len(flat) != shape.Dim() {
		return ModelWeights{}, fmt.Errorf("unflatten: got %d values for shape of %d: %w", len(flat), shape.Dim(), ErrShapeMismatch)
	}
	layers := make([][]float64, len(shape.LayerSizes))
	off := 0
	for i, n := range shape.LayerSizes {
		layers[i] = append([]float64(nil), flat[off:off+n]...)
		off += n
	}
	return ModelWeights{
		Layers:  layers,
		Bias:    append([]float64(nil), flat[off:]...),
		Version: version,
	}, nil
}

// WeightedAverage returns Σ coeffs[i]·models[i] after normalising coeffs to
// sum to 1. The result carries the highest input version.
func WeightedAverage(models []ModelWeights, coeffs []float64) (ModelWeights, error) {
	if len(models) == 0 {
		return ModelWeights{}, ErrNoUpdates
	}
	if len(coeffs) != len(models) {
		return ModelWeights{}, fmt.Errorf("weighted average: %d models, %d coefficients", len(models), len(coeffs))
	}
	total := floats.Sum(coeffs)
	if total <= 0 {
		return ModelWeights{}, fmt.Errorf("weighted average: coefficients sum to %v", total)
	}
	shape := models[0].Shape()
	acc := make([]float64, shape.Dim())
	version := models[0].Version
	for i, m := range models {
		if !m.SameShape(models[0]) {
			return ModelWeights{}, fmt.Errorf("weighted average: model %d: %w", i, ErrShapeMismatch)
		}
		floats.AddScaled(acc, coeffs[i]/total, m.Flatten())
		version = max(version, m.Version)
	}
	return Unflatten(shape, acc, version)
}

// Blend returns (1-w)·a + w·b. Both models must share a shape; the result
// keeps a's version.
func Blend(a, b ModelWeights, w float64) (ModelWeights, error) {
	if !a.SameShape(b) {
		return ModelWeights{}, fmt.Errorf("blend: %w", ErrShapeMismatch)
	}
	flat := a.Flatten()
	floats.Scale(1-w, flat)
	floats.AddScaled(flat, w, b.Flatten())
	return Unflatten(a.Shape(), flat, a.Version)
}
