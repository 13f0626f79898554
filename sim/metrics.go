// Per-round experiment metrics and the exportable experiment state.

package sim

// AssignmentSource records where a client's distributed model came from.
type AssignmentSource string

const (
	SourceGlobal  AssignmentSource = "global"
	SourceCluster AssignmentSource = "cluster"
	SourceSampled AssignmentSource = "sampled"
)

// ClientRoundMetrics captures one participant's outcome in one round.
type ClientRoundMetrics struct {
	ClientID     int              `json:"client_id"`
	Loss         float64          `json:"loss"`
	Accuracy     float64          `json:"accuracy"`
	TestAccuracy float64          `json:"test_accuracy"`
	GradientNorm float64          `json:"gradient_norm"`
	Assignment   AssignmentSource `json:"assignment"`
	BlendWeight  float64          `json:"blend_weight"` // share kept from the previous local model
	Frozen       bool             `json:"frozen,omitempty"`
}

// RoundMetrics is emitted once per completed round. Clustering-derived fields
// are empty when the clustering phase degraded.
type RoundMetrics struct {
	Round          int     `json:"round"` // 1-based
	GlobalLoss     float64 `json:"global_loss"`
	GlobalAccuracy float64 `json:"global_accuracy"`
	Participants   []int   `json:"participants"`

	// MatrixClientIDs[i] is the client behind row i of DistanceMatrix and
	// AgreementMatrix. Clients skipped for malformed weights are absent.
	MatrixClientIDs []int       `json:"matrix_client_ids,omitempty"`
	DistanceMatrix  [][]float64 `json:"distance_matrix,omitempty"`
	Clusters        [][]int     `json:"clusters,omitempty"` // client ids per community
	AgreementMatrix [][]int     `json:"agreement_matrix,omitempty"`
	Silhouette      *float64    `json:"silhouette,omitempty"`
	ClusterAccuracy []float64   `json:"cluster_accuracy,omitempty"`

	Clients []ClientRoundMetrics `json:"clients"`
}

// NumClusters returns the number of detected communities, 0 if clustering
// did not run.
func (m RoundMetrics) NumClusters() int {
	return len(m.Clusters)
}

// ExperimentState is the shape persisted between sessions: enough to resume
// an experiment bit-identically or inspect its outcome.
type ExperimentState struct {
	RunID        string               `json:"run_id"`
	Config       ServerConfig         `json:"config"`
	GlobalModel  ModelWeights         `json:"global_model"`
	History      []RoundMetrics       `json:"history"`
	ClientModels map[int]ModelWeights `json:"client_models"` // last local model per client

	// Latest clustering, read by model assignment in the next round.
	ClusterModels  []ModelWeights `json:"cluster_models,omitempty"`
	ClusterMembers [][]int        `json:"cluster_members,omitempty"`

	// MainDraws is how far the main random stream has advanced.
	MainDraws uint64 `json:"main_draws"`
}
