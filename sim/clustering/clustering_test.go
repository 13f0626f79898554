package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedsim/fedsim/sim"
)

// twoBlocks returns a 6-node graph of two dense triangles joined by weak edges.
func twoBlocks() [][]float64 {
	adj := make([][]float64, 6)
	for i := range adj {
		adj[i] = make([]float64, 6)
		for j := range adj[i] {
			switch {
			case i == j:
			case (i < 3) == (j < 3):
				adj[i][j] = 1
			default:
				adj[i][j] = 0.01
			}
		}
	}
	return adj
}

func edgeless(n int) [][]float64 {
	adj := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]float64, n)
	}
	return adj
}

func TestPartition_Normalize(t *testing.T) {
	p := Partition{7, 3, 7, 9, 3}
	assert.Equal(t, Partition{0, 1, 0, 2, 1}, p.Normalize())
	assert.Equal(t, Partition{7, 3, 7, 9, 3}, p, "receiver must not change")
	assert.Equal(t, 3, p.NumCommunities())
	assert.Equal(t, [][]int{{0, 2}, {1, 4}, {3}}, p.Communities())
}

func TestPartition_Validate(t *testing.T) {
	assert.NoError(t, Partition{0, 1, 0}.Validate(3))
	assert.Error(t, Partition{0, 1}.Validate(3))
	assert.Error(t, Partition{0, 2, 0}.Validate(3))
}

func TestModularity(t *testing.T) {
	adj := twoBlocks()
	split := Modularity(adj, Partition{0, 0, 0, 1, 1, 1}, 1)
	together := Modularity(adj, make(Partition, 6), 1)

	assert.Greater(t, split, 0.4)
	assert.InDelta(t, 0, together, 1e-12)
	assert.Zero(t, Modularity(edgeless(3), Singletons(3), 1))
}

func TestLouvain_ThreeSimilarPlusOutlier(t *testing.T) {
	// GIVEN three mutually similar clients and one client with no similarity
	adj := [][]float64{
		{0, 0.9, 0.9, 0},
		{0.9, 0, 0.9, 0},
		{0.9, 0.9, 0, 0},
		{0, 0, 0, 0},
	}

	// WHEN Louvain runs
	p := Louvain(adj, 1, sim.NewStream(42))

	// THEN the three form one community and the outlier its own
	assert.Equal(t, Partition{0, 0, 0, 1}, p)
}

func TestGraphAlgorithms_TwoBlocks(t *testing.T) {
	tests := []struct {
		name string
		run  func(adj [][]float64, rng sim.Rand) Partition
	}{
		{"louvain", func(adj [][]float64, rng sim.Rand) Partition { return Louvain(adj, 1, rng) }},
		{"leiden", func(adj [][]float64, rng sim.Rand) Partition { return Leiden(adj, 1, rng) }},
		{"spectral fixed k", func(adj [][]float64, rng sim.Rand) Partition { return Spectral(adj, 2, 0, rng) }},
		{"spectral eigengap", func(adj [][]float64, rng sim.Rand) Partition { return Spectral(adj, 0, 4, rng) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for seed := uint32(1); seed <= 5; seed++ {
				assert.Equal(t, Partition{0, 0, 0, 1, 1, 1}, tt.run(twoBlocks(), sim.NewStream(seed)), "seed %d", seed)
			}
		})
	}
}

func TestGraphAlgorithms_EdgelessGraphIsSingletons(t *testing.T) {
	adj := edgeless(4)
	assert.Equal(t, Singletons(4), Louvain(adj, 1, sim.NewStream(1)))
	assert.Equal(t, Singletons(4), Leiden(adj, 1, sim.NewStream(1)))
}

func TestLeiden_SplitsDisconnectedCommunity(t *testing.T) {
	// GIVEN a partition whose first community is two disconnected pairs
	adj := [][]float64{
		{0, 1, 0, 0},
		{1, 0, 0, 0},
		{0, 0, 0, 1},
		{0, 0, 1, 0},
	}

	// WHEN connectivity is enforced
	p := splitDisconnected(adj, Partition{0, 0, 0, 0})

	// THEN each connected pair gets its own label
	assert.Equal(t, Partition{0, 0, 1, 1}, p)
}

func TestMeanInternalWeight(t *testing.T) {
	adj := [][]float64{
		{0, 0.3, 0.6, 5},
		{0.3, 0, 0.9, 5},
		{0.6, 0.9, 0, 5},
		{5, 5, 5, 0},
	}
	assert.InDelta(t, 0.6, meanInternalWeight(adj, []int{0, 1, 2}), 1e-12)
	assert.InDelta(t, 0.3, meanInternalWeight(adj, []int{0, 1}), 1e-12)
}

func TestLeiden_SplitLoose(t *testing.T) {
	uniform := func(n int, w float64) [][]float64 {
		adj := edgeless(n)
		for i := range adj {
			for j := range adj[i] {
				if i != j {
					adj[i][j] = w
				}
			}
		}
		return adj
	}

	t.Run("community without internal weight loses every non-pivot member", func(t *testing.T) {
		for seed := uint32(1); seed <= 10; seed++ {
			// GIVEN three members with no edges between them
			// WHEN loose communities are split
			p := splitLoose(edgeless(3), Partition{0, 0, 0}, sim.NewStream(seed))

			// THEN the pivot stays alone and the other two share a new community
			require.NoError(t, p.Validate(3))
			require.Equal(t, 2, p.NumCommunities(), "seed %d", seed)
			sizes := []int{len(p.Communities()[0]), len(p.Communities()[1])}
			assert.ElementsMatch(t, []int{1, 2}, sizes, "seed %d", seed)
		}
	})

	t.Run("loose community splits the same way for a fixed seed", func(t *testing.T) {
		// GIVEN four members joined by weak uniform edges
		adj := uniform(4, 0.2)

		// WHEN the split runs twice from the same seed
		first := splitLoose(adj, Partition{0, 0, 0, 0}, sim.NewStream(11))
		second := splitLoose(adj, Partition{0, 0, 0, 0}, sim.NewStream(11))

		// THEN both runs agree and produce a valid partition
		require.NoError(t, first.Validate(4))
		assert.Equal(t, first, second)
		assert.LessOrEqual(t, first.NumCommunities(), 2)
	})

	tests := []struct {
		name string
		adj  [][]float64
		p    Partition
	}{
		{"two loose members", edgeless(2), Partition{0, 0}},
		{"tight community", uniform(3, 0.9), Partition{0, 0, 0}},
		{"weight at threshold", uniform(4, leidenSplitThreshold), Partition{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name+" is left alone", func(t *testing.T) {
			rng := sim.NewStream(3)
			assert.Equal(t, tt.p, splitLoose(tt.adj, tt.p, rng))
			assert.Zero(t, rng.Draws(), "no pivot should be drawn")
		})
	}
}

func TestLouvain_StrongestEdgeRefine(t *testing.T) {
	tests := []struct {
		name  string
		edges map[[2]int]float64
		p     Partition
		want  Partition
	}{
		{
			// node 0's strongest edge is to 2, and {2,3} holds 1.4 of its weight against 0.1 at home
			name:  "node joins heavier foreign community",
			edges: map[[2]int]float64{{1, 4}: 1, {0, 1}: 0.1, {2, 3}: 1, {0, 2}: 0.9, {0, 3}: 0.5},
			p:     Partition{0, 0, 1, 1, 0},
			want:  Partition{0, 1, 0, 0, 1},
		},
		{
			// node 0's strongest edge is to 3, but its home community holds 1.0 against 0.8
			name:  "node stays when home community is heavier",
			edges: map[[2]int]float64{{0, 1}: 0.5, {0, 2}: 0.5, {1, 2}: 1, {0, 3}: 0.8, {3, 4}: 1},
			p:     Partition{0, 0, 0, 1, 1},
			want:  Partition{0, 0, 0, 1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := edgeless(len(tt.p))
			for e, w := range tt.edges {
				adj[e[0]][e[1]] = w
				adj[e[1]][e[0]] = w
			}
			assert.Equal(t, tt.want, strongestEdgeRefine(adj, tt.p))
		})
	}
}

func TestKMeans_ForcedSingleCluster(t *testing.T) {
	vectors := [][]float64{{0, 0}, {10, 10}, {-5, 3}, {100, -100}}
	p := KMeans(vectors, 1, 0, sim.DistanceL2, sim.NewStream(3))
	assert.Equal(t, Partition{0, 0, 0, 0}, p)
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	vectors := [][]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {10, 10}, {10.1, 10}, {10, 10.1}}
	for _, metric := range []sim.DistanceMetric{sim.DistanceL1, sim.DistanceL2} {
		p := KMeans(vectors, 2, 0, metric, sim.NewStream(7))
		assert.Equal(t, Partition{0, 0, 0, 1, 1, 1}, p, "metric %s", metric)
	}
}

func TestKMeans_ClampsKAndHandlesEmpty(t *testing.T) {
	vectors := [][]float64{{0}, {5}}
	p := KMeans(vectors, 10, 0, sim.DistanceL2, sim.NewStream(1))
	require.NoError(t, p.Validate(2))
	assert.Equal(t, 2, p.NumCommunities())

	assert.Empty(t, KMeans(nil, 3, 0, sim.DistanceL2, sim.NewStream(1)))
}

func TestKMeans_AutoKIsValidPartition(t *testing.T) {
	vectors := [][]float64{{0, 0}, {0.2, 0}, {5, 5}, {5.1, 5}, {-5, 5}, {-5, 5.2}, {0, -6}}
	p := KMeans(vectors, 0, 5, sim.DistanceL2, sim.NewStream(11))
	require.NoError(t, p.Validate(len(vectors)))
	assert.GreaterOrEqual(t, p.NumCommunities(), 2)
}

func TestElbow(t *testing.T) {
	tests := []struct {
		name    string
		inertia []float64
		want    int
	}{
		{"single point", []float64{5}, 1},
		{"zero inertia", []float64{0, 0, 0}, 1},
		{"two points large drop", []float64{10, 2}, 2},
		{"two points small drop", []float64{10, 8}, 1},
		{"clear knee", []float64{100, 20, 5, 4, 3.5}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, elbow(tt.inertia))
		})
	}
}

func TestEigengap(t *testing.T) {
	assert.Equal(t, 2, eigengap([]float64{0, 0.02, 1.4, 1.5}))
	assert.Equal(t, 1, eigengap([]float64{0, 1.3, 1.4}))
}

func TestSpectral_ClampsKToNodeCount(t *testing.T) {
	// GIVEN a 3-node triangle and a requested cluster count above the node count
	adj := [][]float64{
		{0, 1, 0.5},
		{1, 0, 0.2},
		{0.5, 0.2, 0},
	}

	for seed := uint32(1); seed <= 5; seed++ {
		// WHEN spectral clustering runs with k=5
		var p Partition
		require.NotPanics(t, func() { p = Spectral(adj, 5, 0, sim.NewStream(seed)) })

		// THEN the result is a valid partition with at most one community per node
		require.NoError(t, p.Validate(3))
		assert.LessOrEqual(t, p.NumCommunities(), 3, "seed %d", seed)
	}
}

func TestAlgorithms_DeterministicPerSeed(t *testing.T) {
	// GIVEN noisy similarities
	rng := sim.NewStream(99)
	n := 9
	adj := edgeless(n)
	vectors := make([][]float64, n)
	for i := 0; i < n; i++ {
		vectors[i] = []float64{rng.Float64(), rng.Float64()}
		for j := i + 1; j < n; j++ {
			w := rng.Float64()
			adj[i][j], adj[j][i] = w, w
		}
	}
	in := Input{Vectors: vectors, Adjacency: adj, Metric: sim.DistanceL2}

	for method := range sim.ValidClusteringMethods {
		t.Run(string(method), func(t *testing.T) {
			algo := New(method, Options{Resolution: 1, MaxK: 4})

			// WHEN clustering twice from the same seed
			p1, err := algo.Cluster(in, sim.NewStream(5))
			require.NoError(t, err)
			p2, err := algo.Cluster(in, sim.NewStream(5))
			require.NoError(t, err)

			// THEN partitions are identical and valid
			assert.Equal(t, p1, p2)
			assert.NoError(t, p1.Validate(n))
		})
	}
}

func TestNew_UnknownMethodPanics(t *testing.T) {
	assert.Panics(t, func() { New("dbscan", Options{}) })
}

func TestAlgorithm_MissingInput(t *testing.T) {
	_, err := New(sim.ClusteringLouvain, Options{}).Cluster(Input{}, sim.NewStream(1))
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = New(sim.ClusteringKMeans, Options{K: 2}).Cluster(Input{}, sim.NewStream(1))
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestAlgorithm_DerivesAdjacencyFromDistances(t *testing.T) {
	d := [][]float64{
		{0, 0.1, 5, 5},
		{0.1, 0, 5, 5},
		{5, 5, 0, 0.1},
		{5, 5, 0.1, 0},
	}
	p, err := New(sim.ClusteringLouvain, Options{}).Cluster(Input{Distances: d}, sim.NewStream(1))
	require.NoError(t, err)
	assert.Equal(t, Partition{0, 0, 1, 1}, p)
}

func TestSilhouette(t *testing.T) {
	d := [][]float64{
		{0, 1, 10, 10},
		{1, 0, 10, 10},
		{10, 10, 0, 1},
		{10, 10, 1, 0},
	}
	score, ok := Silhouette(d, Partition{0, 0, 1, 1})
	require.True(t, ok)
	assert.InDelta(t, 0.9, score, 1e-12)

	_, ok = Silhouette(d, Partition{0, 0, 0, 0})
	assert.False(t, ok)
	_, ok = Silhouette(d, Singletons(4))
	assert.False(t, ok)
}

func TestClusterModels_DataSizeWeighted(t *testing.T) {
	model := func(v float64) sim.ModelWeights {
		return sim.ModelWeights{Layers: [][]float64{{v, v}}, Bias: []float64{v}}
	}
	models := []sim.ModelWeights{model(0), model(4), model(10)}

	out, err := ClusterModels(models, []int{1, 3, 5}, Partition{0, 0, 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDeltaSlice(t, []float64{3, 3}, out[0].Layers[0], 1e-12)
	assert.InDeltaSlice(t, []float64{10}, out[1].Bias, 1e-12)

	out, err = ClusterModels(models[:2], []int{0, 0}, Partition{0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2}, out[0].Bias, 1e-12)
}
