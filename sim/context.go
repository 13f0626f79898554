package sim

import "sort"

// ClusterModelStore holds the cluster-averaged models of the latest
// clustering and which cluster each client was placed in.
type ClusterModelStore struct {
	models   []ModelWeights
	byClient map[int]int
}

// NewClusterModelStore creates an empty store.
func NewClusterModelStore() *ClusterModelStore {
	return &ClusterModelStore{byClient: make(map[int]int)}
}

// Set replaces the store's contents. members[c] lists the client ids placed
// in cluster c, whose averaged model is models[c].
func (s *ClusterModelStore) Set(models []ModelWeights, members [][]int) {
	s.models = models
	s.byClient = make(map[int]int)
	for c, ids := range members {
		for _, id := range ids {
			s.byClient[id] = c
		}
	}
}

// Get returns the cluster model stored for a client.
func (s *ClusterModelStore) Get(clientID int) (ModelWeights, bool) {
	c, ok := s.byClient[clientID]
	if !ok {
		return ModelWeights{}, false
	}
	return s.models[c], true
}

// ClusterOf returns the index of the cluster a client was placed in.
func (s *ClusterModelStore) ClusterOf(clientID int) (int, bool) {
	c, ok := s.byClient[clientID]
	return c, ok
}

// Models returns the cluster models indexed by cluster.
func (s *ClusterModelStore) Models() []ModelWeights {
	return s.models
}

// NumClusters returns the number of stored cluster models.
func (s *ClusterModelStore) NumClusters() int {
	return len(s.models)
}

// Reset drops every entry.
func (s *ClusterModelStore) Reset() {
	s.models = nil
	s.byClient = make(map[int]int)
}

// Len returns the number of clients with a stored model.
func (s *ClusterModelStore) Len() int {
	return len(s.byClient)
}

// ClientIDs returns the stored client ids in ascending order.
func (s *ClusterModelStore) ClientIDs() []int {
	ids := make([]int, 0, len(s.byClient))
	for id := range s.byClient {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SimulationContext owns the state that strategies share across a run.
// The orchestrator creates one per experiment and resets it at start.
type SimulationContext struct {
	ClusterModels *ClusterModelStore
	partitions    map[int]Dataset
}

// NewSimulationContext creates an empty context.
func NewSimulationContext() *SimulationContext {
	return &SimulationContext{
		ClusterModels: NewClusterModelStore(),
		partitions:    make(map[int]Dataset),
	}
}

// Reset clears every cached store.
func (c *SimulationContext) Reset() {
	c.ClusterModels.Reset()
	c.partitions = make(map[int]Dataset)
}

// Partition returns the cached data partition of a client.
func (c *SimulationContext) Partition(clientID int) (Dataset, bool) {
	ds, ok := c.partitions[clientID]
	return ds, ok
}

// SetPartition caches a client's data partition.
func (c *SimulationContext) SetPartition(clientID int, ds Dataset) {
	c.partitions[clientID] = ds
}
