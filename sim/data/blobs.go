package data

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/fedsim/fedsim/sim"
)

// GaussianBlobs generates client partitions from one Gaussian blob per
// class. Class centres depend only on the experiment seed, so every client
// sees the same task; what differs between clients is the sample stream and,
// for non-IID partitions, the class mix and an input offset.
type GaussianBlobs struct {
	spec Spec
}

// NewGaussianBlobs validates spec and creates the provider.
func NewGaussianBlobs(spec Spec) (*GaussianBlobs, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data spec: %w", err)
	}
	return &GaussianBlobs{spec: spec}, nil
}

// Dims returns the feature and class counts.
func (g *GaussianBlobs) Dims() (features, classes int) {
	return g.spec.Features, g.spec.Classes
}

// derivedSeed hashes the experiment seed with a stream tag and index.
func derivedSeed(seed int64, tag string, index int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(tag))
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	return int64(h.Sum64())
}

func (g *GaussianBlobs) centres(seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(derivedSeed(seed, "centres", 0)))
	out := make([][]float64, g.spec.Classes)
	for c := range out {
		out[c] = make([]float64, g.spec.Features)
		for f := range out[c] {
			out[c][f] = rng.NormFloat64() * g.spec.ClassSeparation
		}
	}
	return out
}

// group maps a client to the group whose class mix and offset it shares.
func (g *GaussianBlobs) group(clientID int) int {
	if g.spec.ClientGroups <= 0 {
		return clientID
	}
	return clientID % g.spec.ClientGroups
}

// clientProfile holds the non-IID characteristics of a client group.
type clientProfile struct {
	dominant []int
	shift    []float64
}

func (g *GaussianBlobs) profile(seed int64, group int) clientProfile {
	p := clientProfile{shift: make([]float64, g.spec.Features)}
	for k := 0; k < g.spec.ClassesPerClient; k++ {
		p.dominant = append(p.dominant, (group*g.spec.ClassesPerClient+k)%g.spec.Classes)
	}
	rng := rand.New(rand.NewSource(derivedSeed(seed, "shift", group)))
	for f := range p.shift {
		p.shift[f] = rng.NormFloat64() * g.spec.FeatureShift
	}
	return p
}

// Partition draws samples training examples and Spec.TestSamples test
// examples for one client. The result depends only on the arguments.
func (g *GaussianBlobs) Partition(clientID, samples int, iid bool, seed int64) (sim.Dataset, error) {
	if samples < 0 {
		return sim.Dataset{}, fmt.Errorf("client %d: negative sample count %d", clientID, samples)
	}
	centres := g.centres(seed)
	var prof *clientProfile
	if !iid {
		p := g.profile(seed, g.group(clientID))
		prof = &p
	}
	rng := rand.New(rand.NewSource(derivedSeed(seed, "client", clientID)))
	return sim.Dataset{
		Train: g.draw(samples, centres, prof, rng),
		Test:  g.draw(g.spec.TestSamples, centres, prof, rng),
	}, nil
}

func (g *GaussianBlobs) draw(n int, centres [][]float64, prof *clientProfile, rng *rand.Rand) sim.Partition {
	out := sim.Partition{
		Inputs: make([][]float64, n),
		Labels: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		label := g.label(prof, rng)
		x := make([]float64, g.spec.Features)
		for f := range x {
			x[f] = centres[label][f] + rng.NormFloat64()*g.spec.Spread
			if prof != nil {
				x[f] += prof.shift[f]
			}
		}
		onehot := make([]float64, g.spec.Classes)
		onehot[label] = 1
		out.Inputs[i] = x
		out.Labels[i] = onehot
	}
	return out
}

func (g *GaussianBlobs) label(prof *clientProfile, rng *rand.Rand) int {
	if prof != nil && rng.Float64() < g.spec.LabelSkew {
		return prof.dominant[rng.Intn(len(prof.dominant))]
	}
	return rng.Intn(g.spec.Classes)
}
