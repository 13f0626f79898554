// Package trace provides decision-trace recording for per-round strategy analysis.
// It stores plain data and imports nothing from sim/
package trace

// AssignmentRecord captures which model one client received in one round.
type AssignmentRecord struct {
	Round         int
	ClientID      int
	Source        string    // "global", "cluster" or "sampled"
	Cluster       int       // -1 for the global model
	Probabilities []float64 // per-cluster sampling distribution; nil unless sampled
}

// BlendRecord captures a client-side blend of received and previous models.
type BlendRecord struct {
	Round          int
	ClientID       int
	Method         string
	PreviousWeight float64 // share kept from the previous local model
	Overridden     bool    // an override rule set the weight
	Frozen         bool    // the client submitted its pre-training model
}

// ClusteringRecord captures the outcome of one round's clustering phase.
type ClusteringRecord struct {
	Round     int
	Method    string
	Consensus bool
	Clusters  int
	Skipped   []int  // clients left out for malformed weights
	Error     string // non-empty when the phase degraded
}
