package strategy

import (
	"fmt"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/distance"
)

// BlendContext identifies whose models are being blended and when.
type BlendContext struct {
	ClientID int
	Round    int // 1-based
}

// ClientAggregator blends the model a client just received with its previous
// local model before training. It returns the blended weights and the share
// w ∈ [0, 1] kept from the previous model: result = (1−w)·received + w·previous.
type ClientAggregator interface {
	Blend(received, previous sim.ModelWeights, bc BlendContext) (sim.ModelWeights, float64, error)
}

// NewClientAggregator creates the ClientAggregator for method. epsilon is
// the gravity softening term.
// Panics on unrecognized methods.
func NewClientAggregator(method sim.ClientAggregationMethod, epsilon float64) ClientAggregator {
	if !sim.ValidClientAggregationMethods[method] {
		panic(fmt.Sprintf("unknown client aggregation method %q", method))
	}
	switch method {
	case sim.ClientAggregationNone:
		return &NoBlend{}
	case sim.ClientAggregationFiftyFifty:
		return &FiftyFifty{}
	case sim.ClientAggregationGravity:
		return &Gravity{Epsilon: epsilon}
	default:
		panic(fmt.Sprintf("unhandled client aggregation method %q", method))
	}
}

// NoBlend keeps the received model unchanged.
type NoBlend struct{}

func (b *NoBlend) Blend(received, _ sim.ModelWeights, _ BlendContext) (sim.ModelWeights, float64, error) {
	return received, 0, nil
}

// FiftyFifty averages the received and previous models parameter by parameter.
type FiftyFifty struct{}

func (b *FiftyFifty) Blend(received, previous sim.ModelWeights, _ BlendContext) (sim.ModelWeights, float64, error) {
	out, err := sim.Blend(received, previous, 0.5)
	return out, 0.5, err
}

// Gravity treats both models as unit masses and keeps a share of the previous
// model proportional to their attraction normalised against the zero-distance
// force:
//
//	F = G·m1·m2 / (d² + ε),   w = F / F(d=0) = ε / (d² + ε)
//
// where d is the L2 distance between the models. Close models blend heavily;
// distant ones defer to the received model.
type Gravity struct {
	Epsilon float64
}

// GravityWeight returns ε / (d² + ε).
func GravityWeight(d, epsilon float64) float64 {
	return epsilon / (d*d + epsilon)
}

func (b *Gravity) Blend(received, previous sim.ModelWeights, _ BlendContext) (sim.ModelWeights, float64, error) {
	if !received.SameShape(previous) {
		return sim.ModelWeights{}, 0, fmt.Errorf("gravity blend: %w", sim.ErrShapeMismatch)
	}
	d := distance.Distance(received.Flatten(), previous.Flatten(), sim.DistanceL2, nil)
	w := GravityWeight(d, b.Epsilon)
	out, err := sim.Blend(received, previous, w)
	return out, w, err
}

// Overrides applies per-client OverrideRules on top of another ClientAggregator.
// A rule's inside or outside weight, when set, replaces the inner method for
// the matching rounds; otherwise the inner method decides.
type Overrides struct {
	inner ClientAggregator
	rules map[int]sim.OverrideRule
}

// WithOverrides wraps inner with rules. Rules are assumed validated: at most
// one per client.
func WithOverrides(inner ClientAggregator, rules []sim.OverrideRule) *Overrides {
	byClient := make(map[int]sim.OverrideRule, len(rules))
	for _, r := range rules {
		byClient[r.ClientID] = r
	}
	return &Overrides{inner: inner, rules: byClient}
}

// pinnedWeight returns the rule weight in effect, nil when the inner method
// decides.
func (o *Overrides) pinnedWeight(clientID, round int) *float64 {
	r, ok := o.rules[clientID]
	if !ok {
		return nil
	}
	if r.Contains(round) {
		return r.InsideWeight
	}
	return r.OutsideWeight
}

func (o *Overrides) Blend(received, previous sim.ModelWeights, bc BlendContext) (sim.ModelWeights, float64, error) {
	if w := o.pinnedWeight(bc.ClientID, bc.Round); w != nil {
		out, err := sim.Blend(received, previous, *w)
		return out, *w, err
	}
	return o.inner.Blend(received, previous, bc)
}

// Pinned reports whether a rule fixes the client's blend weight in round.
func (o *Overrides) Pinned(clientID, round int) bool {
	return o.pinnedWeight(clientID, round) != nil
}

// Frozen reports whether the client must submit its pre-training model in
// round.
func (o *Overrides) Frozen(clientID, round int) bool {
	r, ok := o.rules[clientID]
	return ok && r.FreezeInside && r.Contains(round)
}
