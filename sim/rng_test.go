package sim

import (
	"math"
	"testing"
)

// === SimulationKey Tests ===

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
		want SimulationKey
	}{
		{"positive seed", 42, 42},
		{"zero seed", 0, 0},
		{"negative seed wraps to low 32 bits", -1, math.MaxUint32},
		{"high bits discarded", 1<<32 + 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSimulationKey(tt.seed); got != tt.want {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, got, tt.want)
			}
		})
	}
}

// === Stream Tests ===

func TestStream_KnownSequence(t *testing.T) {
	// BDD: xorshift32 seeded at 1 yields the canonical first value
	s := NewStream(1)
	if got := s.Uint32(); got != 270369 {
		t.Errorf("first Uint32() from seed 1 = %d, want 270369", got)
	}
	if s.Draws() != 1 {
		t.Errorf("Draws() = %d, want 1", s.Draws())
	}
}

func TestStream_SameSeedSameSequence(t *testing.T) {
	a, b := NewStream(42), NewStream(42)
	for i := 0; i < 100; i++ {
		if va, vb := a.Float64(), b.Float64(); va != vb {
			t.Fatalf("draw %d: %v != %v", i, va, vb)
		}
	}
}

func TestStream_ZeroSeedIsNotDegenerate(t *testing.T) {
	// GIVEN a stream seeded at 0
	s := NewStream(0)

	// WHEN drawing values
	// THEN the generator does not get stuck at zero
	nonZero := false
	for i := 0; i < 10; i++ {
		if s.Uint32() != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("zero-seeded stream produced only zeros")
	}
	if s.Seed() != 0 {
		t.Errorf("Seed() = %d, want 0", s.Seed())
	}
}

func TestStream_Float64Range(t *testing.T) {
	s := NewStream(7)
	for i := 0; i < 10000; i++ {
		v := s.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("Float64() = %v, want [0, 1)", v)
		}
	}
}

func TestStream_IntnRange(t *testing.T) {
	s := NewStream(7)
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		v := s.Intn(5)
		if v < 0 || v >= 5 {
			t.Fatalf("Intn(5) = %d, want [0, 5)", v)
		}
		seen[v] = true
	}
	if len(seen) != 5 {
		t.Errorf("Intn(5) covered %d values in 1000 draws, want 5", len(seen))
	}
}

func TestStream_IntnPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for Intn(0)")
		}
	}()
	NewStream(1).Intn(0)
}

func TestStream_ShuffleIsPermutation(t *testing.T) {
	s := NewStream(99)
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	s.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })

	seen := make(map[int]bool)
	for _, x := range xs {
		seen[x] = true
	}
	if len(seen) != 8 {
		t.Errorf("shuffle lost elements: %v", xs)
	}
}

func TestStream_DeriveDoesNotAdvanceParent(t *testing.T) {
	// GIVEN two identical parents
	a, b := NewStream(42), NewStream(42)

	// WHEN one derives a child and draws from it
	child := a.Derive(OffsetClustering)
	for i := 0; i < 5; i++ {
		child.Float64()
	}

	// THEN the parent sequence is unchanged
	if a.Float64() != b.Float64() {
		t.Error("Derive advanced the parent stream")
	}
	if child.Seed() != 42+OffsetClustering {
		t.Errorf("child seed = %d, want %d", child.Seed(), 42+OffsetClustering)
	}
}

// === PartitionedRNG Tests ===

func TestPartitionedRNG_MainIsCached(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.Main() != rng.Main() {
		t.Error("Main() returned different instances")
	}
	if rng.Isolated(SubsystemMain) != rng.Main() {
		t.Error("Isolated(SubsystemMain) must return the main stream")
	}
}

func TestPartitionedRNG_IsolatedStreamsRestartEachCall(t *testing.T) {
	// BDD: every Isolated call starts from key + offset
	rng := NewPartitionedRNG(NewSimulationKey(42))
	first := rng.Isolated(SubsystemConsensus).Float64()
	second := rng.Isolated(SubsystemConsensus).Float64()
	if first != second {
		t.Errorf("Isolated streams differ across calls: %v != %v", first, second)
	}
}

func TestPartitionedRNG_IsolatedNeverTouchesMain(t *testing.T) {
	// GIVEN two experiments with the same key
	a := NewPartitionedRNG(NewSimulationKey(42))
	b := NewPartitionedRNG(NewSimulationKey(42))

	// WHEN one of them consumes heavily from isolated streams
	for i := 0; i < 100; i++ {
		a.Isolated(SubsystemClustering).Float64()
		a.Isolated(SubsystemConsensus).Float64()
	}

	// THEN both main streams still agree
	for i := 0; i < 10; i++ {
		if a.Main().Float64() != b.Main().Float64() {
			t.Fatalf("main streams diverged at draw %d", i)
		}
	}
	if a.Main().Draws() != 10 {
		t.Errorf("main Draws() = %d, want 10", a.Main().Draws())
	}
}

func TestPartitionedRNG_SubsystemsDiffer(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	main := NewStream(42).Float64()
	clustering := rng.Isolated(SubsystemClustering).Float64()
	consensus := rng.Isolated(SubsystemConsensus).Float64()
	if main == clustering || main == consensus || clustering == consensus {
		t.Errorf("subsystem streams collide: main=%v clustering=%v consensus=%v", main, clustering, consensus)
	}
}

func TestPartitionedRNG_Key(t *testing.T) {
	key := NewSimulationKey(123)
	if got := NewPartitionedRNG(key).Key(); got != key {
		t.Errorf("Key() = %d, want %d", got, key)
	}
}

func TestSubsystemOffset_UnknownPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unknown subsystem")
		}
	}()
	SubsystemOffset("bogus")
}

// === Benchmark ===

func BenchmarkStream_Float64(b *testing.B) {
	s := NewStream(42)
	for i := 0; i < b.N; i++ {
		s.Float64()
	}
}
