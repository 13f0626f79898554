package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedsim/fedsim/sim"
)

func ptr[T any](v T) *T { return &v }

func TestNoBlend_KeepsReceived(t *testing.T) {
	out, w, err := (&NoBlend{}).Blend(model(3, 1), model(9, 0), BlendContext{})
	require.NoError(t, err)
	assert.Equal(t, model(3, 1), out)
	assert.Zero(t, w)
}

func TestFiftyFifty(t *testing.T) {
	out, w, err := (&FiftyFifty{}).Blend(model(2, 4), model(6, 1), BlendContext{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4}, out.Bias, 1e-12)
	assert.Equal(t, 4, out.Version)
	assert.Equal(t, 0.5, w)
}

func TestGravityWeight(t *testing.T) {
	tests := []struct {
		name   string
		d, eps float64
		want   float64
	}{
		{"identical models keep everything", 0, 1, 1},
		{"unit distance halves", 1, 1, 0.5},
		{"far models defer to received", 10, 1, 1.0 / 101},
		{"larger epsilon softens", 1, 3, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, GravityWeight(tt.d, tt.eps), 1e-12)
		})
	}
}

func TestGravity_Blend(t *testing.T) {
	// GIVEN models 1 apart in every one of 3 parameters: d = √3
	received, previous := model(1, 2), model(2, 1)

	out, w, err := (&Gravity{Epsilon: 1}).Blend(received, previous, BlendContext{})
	require.NoError(t, err)

	// THEN w = 1/(3+1) and the result is (1−w)·received + w·previous
	assert.InDelta(t, 0.25, w, 1e-12)
	assert.InDeltaSlice(t, []float64{1.25}, out.Bias, 1e-12)
	assert.Equal(t, 2, out.Version)
}

func TestGravity_ShapeMismatch(t *testing.T) {
	_, _, err := (&Gravity{Epsilon: 1}).Blend(model(1, 0), sim.ModelWeights{Bias: []float64{1}}, BlendContext{})
	assert.ErrorIs(t, err, sim.ErrShapeMismatch)
}

func TestOverrides(t *testing.T) {
	// GIVEN client 0 pinned to 0.9 inside rounds [2, 4) and 0.1 outside, and
	// client 1 with a freeze-only rule
	rules := []sim.OverrideRule{
		{ClientID: 0, FromRound: 2, ToRound: 4, InsideWeight: ptr(0.9), OutsideWeight: ptr(0.1)},
		{ClientID: 1, FromRound: 1, ToRound: 2, FreezeInside: true},
	}
	o := WithOverrides(&Gravity{Epsilon: 1}, rules)
	received, previous := model(0, 0), model(10, 0)

	tests := []struct {
		name       string
		bc         BlendContext
		wantWeight float64
	}{
		{"before window uses outside weight", BlendContext{ClientID: 0, Round: 1}, 0.1},
		{"window start is inclusive", BlendContext{ClientID: 0, Round: 2}, 0.9},
		{"window end is exclusive", BlendContext{ClientID: 0, Round: 4}, 0.1},
		{"rule without weights defers to inner", BlendContext{ClientID: 1, Round: 1}, GravityWeight(math.Sqrt(300), 1)},
		{"client without rule defers to inner", BlendContext{ClientID: 5, Round: 3}, GravityWeight(math.Sqrt(300), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, w, err := o.Blend(received, previous, tt.bc)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantWeight, w, 1e-12)
			assert.InDeltaSlice(t, []float64{10 * tt.wantWeight}, out.Bias, 1e-9)
		})
	}

	assert.True(t, o.Frozen(1, 1))
	assert.False(t, o.Frozen(1, 2))
	assert.False(t, o.Frozen(0, 3))
	assert.False(t, o.Frozen(7, 1))

	assert.True(t, o.Pinned(0, 1))
	assert.True(t, o.Pinned(0, 3))
	assert.False(t, o.Pinned(1, 1), "freeze-only rule does not pin the weight")
	assert.False(t, o.Pinned(5, 3))
}

func TestNewClientAggregator(t *testing.T) {
	assert.IsType(t, &NoBlend{}, NewClientAggregator(sim.ClientAggregationNone, 1))
	assert.IsType(t, &FiftyFifty{}, NewClientAggregator(sim.ClientAggregationFiftyFifty, 1))
	assert.IsType(t, &Gravity{}, NewClientAggregator(sim.ClientAggregationGravity, 1))
	assert.Panics(t, func() { NewClientAggregator("70-30", 1) })
}
