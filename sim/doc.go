// Package sim provides the core types of the federated-learning simulator.
//
// # Reading Guide
//
// Start with these files to understand the data model:
//   - config.go: ServerConfig, the closed method enums and validation
//   - weights.go: ModelWeights, the immutable parameter snapshot exchanged by clients and server
//   - rng.go: the deterministic random substrate shared by every strategy
//
// # Architecture
//
// The sim package defines leaf types and interfaces; implementations live in
// sub-packages:
//   - sim/nn/: two-layer network used for local training and evaluation
//   - sim/distance/: model distance metrics and similarity graphs
//   - sim/clustering/: Louvain, Leiden, K-means and Spectral community detection
//   - sim/consensus/: agreement matrix over a resolution sweep
//   - sim/strategy/: server aggregation, client blending and model assignment
//   - sim/federation/: the round orchestrator
//   - sim/data/: reference synthetic data provider
//   - sim/trace/: decision trace recording
//   - sim/sink/: per-round metrics sinks
//
// sim imports none of its sub-packages.
//
// # Determinism
//
// Every random draw comes from a PartitionedRNG keyed by the experiment seed.
// The main stream is consumed at fixed points of each round; clustering and
// consensus draw from isolated streams that never advance it.
package sim
