package sim

import "fmt"

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible experiment.
// Two experiments with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical round metrics.
type SimulationKey uint32

// NewSimulationKey creates a SimulationKey from a seed value.
// Only the low 32 bits of the seed are significant.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(uint32(seed))
}

// === Subsystems ===

// Subsystem names a consumer of an isolated random stream.
type Subsystem string

const (
	// SubsystemMain is the single experiment-wide stream: participant selection,
	// model initialisation, probabilistic assignment and per-client shuffle seeds.
	SubsystemMain Subsystem = "main"

	// SubsystemClustering drives node ordering and seeding in plain clustering.
	SubsystemClustering Subsystem = "clustering"

	// SubsystemConsensus drives the repeated runs of consensus clustering.
	SubsystemConsensus Subsystem = "consensus"
)

// Seed offsets for isolated streams. An isolated stream for subsystem S is
// seeded at key + offset(S). The offsets are distinct so that toggling one
// optional analysis never shifts another's sequence.
const (
	OffsetClustering uint32 = 7919
	OffsetConsensus  uint32 = 104729
)

var subsystemOffsets = map[Subsystem]uint32{
	SubsystemMain:       0,
	SubsystemClustering: OffsetClustering,
	SubsystemConsensus:  OffsetConsensus,
}

// SubsystemOffset returns the seed offset of a subsystem.
// Panics on unknown subsystems.
func SubsystemOffset(s Subsystem) uint32 {
	off, ok := subsystemOffsets[s]
	if !ok {
		panic(fmt.Sprintf("unknown random subsystem %q", s))
	}
	return off
}

// === Rand ===

// Rand is the handle every randomized algorithm accepts. Callers decide
// whether to pass the main stream or an isolated one.
// Method names follow math/rand.
type Rand interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n). Panics if n <= 0.
	Intn(n int) int
	// Shuffle permutes n elements using swap.
	Shuffle(n int, swap func(i, j int))
}

// === Stream ===

// zeroSeedState replaces an all-zero xorshift state, which would otherwise
// produce zeros forever.
const zeroSeedState uint32 = 0x6D2B79F5

// Stream is a 32-bit xorshift generator.
//
// Thread-safety: NOT thread-safe. Each goroutine must own its Stream.
type Stream struct {
	seed  uint32
	state uint32
	draws uint64
}

// NewStream creates a Stream. A seed of 0 is normalised to a non-zero state.
func NewStream(seed uint32) *Stream {
	state := seed
	if state == 0 {
		state = zeroSeedState
	}
	return &Stream{seed: seed, state: state}
}

// Uint32 advances the stream and returns the next raw value.
func (s *Stream) Uint32() uint32 {
	x := s.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.state = x
	s.draws++
	return x
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint32()) / 4294967296.0
}

// Intn returns a value in [0, n).
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		panic("Stream.Intn: n must be > 0")
	}
	v := int(s.Float64() * float64(n))
	if v >= n { // guards float rounding at the top of the range
		v = n - 1
	}
	return v
}

// Shuffle is a Fisher-Yates shuffle walking from the last element down.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		swap(i, j)
	}
}

// Skip advances the stream by n draws.
func (s *Stream) Skip(n uint64) {
	for i := uint64(0); i < n; i++ {
		s.Uint32()
	}
}

// Derive returns a new, independent Stream seeded at Seed()+offset.
// The receiver is not advanced.
func (s *Stream) Derive(offset uint32) *Stream {
	return NewStream(s.seed + offset)
}

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() uint32 {
	return s.seed
}

// Draws returns how many values have been consumed from the stream.
func (s *Stream) Draws() uint64 {
	return s.draws
}

// === PartitionedRNG ===

// PartitionedRNG owns the main stream of an experiment and hands out isolated
// streams per subsystem.
//
// Derivation formula:
//   - SubsystemMain: seeded at the key directly, created once and cached.
//   - All other subsystems: a fresh Stream seeded at key + SubsystemOffset(name)
//     on every call, so each consumer starts from the same documented state.
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine.
type PartitionedRNG struct {
	key  SimulationKey
	main *Stream
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:  key,
		main: NewStream(uint32(key)),
	}
}

// Main returns the cached main stream. Never returns nil.
func (p *PartitionedRNG) Main() *Stream {
	return p.main
}

// Isolated returns a freshly derived stream for the named subsystem.
// Asking for SubsystemMain returns the main stream itself.
func (p *PartitionedRNG) Isolated(name Subsystem) *Stream {
	if name == SubsystemMain {
		return p.main
	}
	return p.main.Derive(SubsystemOffset(name))
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}
