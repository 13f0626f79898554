package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AggregationMethod selects the server-side aggregation rule.
type AggregationMethod string

const (
	AggregationFedAvg  AggregationMethod = "fedavg"
	AggregationFedProx AggregationMethod = "fedprox"
	AggregationSimple  AggregationMethod = "simple"
	AggregationMedian  AggregationMethod = "median"
)

// ClientAggregationMethod selects how a client blends a received model with its
// previous local model before training.
type ClientAggregationMethod string

const (
	ClientAggregationNone       ClientAggregationMethod = "none"
	ClientAggregationFiftyFifty ClientAggregationMethod = "50-50"
	ClientAggregationGravity    ClientAggregationMethod = "gravity"
)

// AssignmentMethod selects which model variant a client receives.
type AssignmentMethod string

const (
	AssignmentNearest       AssignmentMethod = "1nn"
	AssignmentProbabilistic AssignmentMethod = "probabilistic"
	AssignmentGlobal        AssignmentMethod = "global"
)

// ClusteringMethod selects the community detection algorithm.
type ClusteringMethod string

const (
	ClusteringLouvain  ClusteringMethod = "louvain"
	ClusteringLeiden   ClusteringMethod = "leiden"
	ClusteringKMeans   ClusteringMethod = "kmeans"
	ClusteringSpectral ClusteringMethod = "spectral"
)

// IsGraphBased reports whether the method consumes a similarity graph
// rather than raw vectors.
func (m ClusteringMethod) IsGraphBased() bool {
	return m == ClusteringLouvain || m == ClusteringLeiden
}

// DistanceMetric selects how model vectors are compared.
type DistanceMetric string

const (
	DistanceL1     DistanceMetric = "l1"
	DistanceL2     DistanceMetric = "l2"
	DistanceCosine DistanceMetric = "cosine"
)

// ValidAggregationMethods is the set of recognized server aggregation names.
// Shared by Validate() and strategy.NewAggregator().
var ValidAggregationMethods = map[AggregationMethod]bool{
	AggregationFedAvg: true, AggregationFedProx: true, AggregationSimple: true, AggregationMedian: true,
}

// ValidClientAggregationMethods is the set of recognized client blend names.
var ValidClientAggregationMethods = map[ClientAggregationMethod]bool{
	ClientAggregationNone: true, ClientAggregationFiftyFifty: true, ClientAggregationGravity: true,
}

// ValidAssignmentMethods is the set of recognized assignment names.
var ValidAssignmentMethods = map[AssignmentMethod]bool{
	AssignmentNearest: true, AssignmentProbabilistic: true, AssignmentGlobal: true,
}

// ValidClusteringMethods is the set of recognized clustering names.
var ValidClusteringMethods = map[ClusteringMethod]bool{
	ClusteringLouvain: true, ClusteringLeiden: true, ClusteringKMeans: true, ClusteringSpectral: true,
}

// ValidDistanceMetrics is the set of recognized distance metric names.
var ValidDistanceMetrics = map[DistanceMetric]bool{
	DistanceL1: true, DistanceL2: true, DistanceCosine: true,
}

// OverrideRule pins the client-side blend of one client for a window of
// rounds. Weights are the share given to the client's previous local model;
// nil leaves the configured client aggregation method in charge.
type OverrideRule struct {
	ClientID      int      `yaml:"client_id"`
	FromRound     int      `yaml:"from_round"` // inclusive
	ToRound       int      `yaml:"to_round"`   // exclusive
	InsideWeight  *float64 `yaml:"inside_weight,omitempty"`
	OutsideWeight *float64 `yaml:"outside_weight,omitempty"`
	// FreezeInside makes the client submit its pre-training model for rounds
	// inside the window.
	FreezeInside bool `yaml:"freeze_inside,omitempty"`
}

// Contains reports whether round falls in [FromRound, ToRound).
func (r OverrideRule) Contains(round int) bool {
	return round >= r.FromRound && round < r.ToRound
}

// ClientTuning overrides training hyperparameters for one client.
type ClientTuning struct {
	LearningRate *float64 `yaml:"learning_rate,omitempty"`
	LocalEpochs  *int     `yaml:"local_epochs,omitempty"`
}

// ServerConfig holds every tuning knob of an experiment.
type ServerConfig struct {
	Aggregation              AggregationMethod       `yaml:"aggregation"`
	ClientAggregation        ClientAggregationMethod `yaml:"client_aggregation"`
	Assignment               AssignmentMethod        `yaml:"assignment"`
	Clustering               ClusteringMethod        `yaml:"clustering"`
	NumClusters              int                     `yaml:"num_clusters"` // 0 = auto-select
	DistanceMetric           DistanceMetric          `yaml:"distance_metric"`
	DistanceRelativeToGlobal bool                    `yaml:"distance_relative_to_global"`
	ConsensusClustering      bool                    `yaml:"consensus_clustering"`

	Rounds             int   `yaml:"rounds"`
	NumClients         int   `yaml:"num_clients"`
	ClientsPerRound    int   `yaml:"clients_per_round"`
	MinClientsRequired int   `yaml:"min_clients_required"`
	Seed               int64 `yaml:"seed"`

	// Local training
	HiddenSize       int     `yaml:"hidden_size"`
	LearningRate     float64 `yaml:"learning_rate"`
	LocalEpochs      int     `yaml:"local_epochs"`
	BatchSize        int     `yaml:"batch_size"`
	SamplesPerClient int     `yaml:"samples_per_client"`
	IID              bool    `yaml:"iid"`
	Workers          int     `yaml:"workers"` // LocalTrain fan-out limit

	// Strategy parameters
	ProximalMu             float64 `yaml:"proximal_mu"`
	ProbabilisticRounds    int     `yaml:"probabilistic_rounds"`
	Resolution             float64 `yaml:"resolution"`
	MaxClusters            int     `yaml:"max_clusters"` // upper bound for auto-selected k
	ConsensusRuns          int     `yaml:"consensus_runs"`
	ConsensusMinResolution float64 `yaml:"consensus_min_resolution"`
	ConsensusMaxResolution float64 `yaml:"consensus_max_resolution"`
	ConsensusThreshold     float64 `yaml:"consensus_threshold"`
	GravityEpsilon         float64 `yaml:"gravity_epsilon"`

	Overrides    []OverrideRule       `yaml:"overrides,omitempty"`
	ClientTuning map[int]ClientTuning `yaml:"client_tuning,omitempty"`
}

// DefaultServerConfig returns the configuration used when no file is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Aggregation:       AggregationFedAvg,
		ClientAggregation: ClientAggregationNone,
		Assignment:        AssignmentNearest,
		Clustering:        ClusteringLouvain,
		DistanceMetric:    DistanceL2,

		Rounds:             10,
		NumClients:         10,
		ClientsPerRound:    10,
		MinClientsRequired: 2,
		Seed:               42,

		HiddenSize:       16,
		LearningRate:     0.1,
		LocalEpochs:      1,
		BatchSize:        16,
		SamplesPerClient: 200,
		Workers:          4,

		ProximalMu:             0.01,
		ProbabilisticRounds:    5,
		Resolution:             1.0,
		MaxClusters:            8,
		ConsensusRuns:          20,
		ConsensusMinResolution: 0.5,
		ConsensusMaxResolution: 2.5,
		ConsensusThreshold:     0.6,
		GravityEpsilon:         1.0,
	}
}

// LoadServerConfig reads a YAML server configuration. Fields absent from the
// file keep their DefaultServerConfig values; unknown fields are errors.
func LoadServerConfig(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("reading server config: %w", err)
	}
	cfg := DefaultServerConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parsing server config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all method names and parameter ranges are valid.
func (c *ServerConfig) Validate() error {
	if !ValidAggregationMethods[c.Aggregation] {
		return fmt.Errorf("unknown aggregation method %q", c.Aggregation)
	}
	if !ValidClientAggregationMethods[c.ClientAggregation] {
		return fmt.Errorf("unknown client aggregation method %q", c.ClientAggregation)
	}
	if !ValidAssignmentMethods[c.Assignment] {
		return fmt.Errorf("unknown assignment method %q", c.Assignment)
	}
	if !ValidClusteringMethods[c.Clustering] {
		return fmt.Errorf("unknown clustering method %q", c.Clustering)
	}
	if !ValidDistanceMetrics[c.DistanceMetric] {
		return fmt.Errorf("unknown distance metric %q", c.DistanceMetric)
	}
	if c.NumClusters < 0 {
		return fmt.Errorf("num_clusters must be non-negative, got %d", c.NumClusters)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds must be >= 1, got %d", c.Rounds)
	}
	if c.NumClients < 1 {
		return fmt.Errorf("num_clients must be >= 1, got %d", c.NumClients)
	}
	if c.ClientsPerRound < 1 || c.ClientsPerRound > c.NumClients {
		return fmt.Errorf("clients_per_round must be in [1, %d], got %d", c.NumClients, c.ClientsPerRound)
	}
	if c.MinClientsRequired < 1 || c.MinClientsRequired > c.ClientsPerRound {
		return fmt.Errorf("min_clients_required must be in [1, %d], got %d", c.ClientsPerRound, c.MinClientsRequired)
	}
	if c.HiddenSize < 1 {
		return fmt.Errorf("hidden_size must be >= 1, got %d", c.HiddenSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", c.LearningRate)
	}
	if c.LocalEpochs < 1 {
		return fmt.Errorf("local_epochs must be >= 1, got %d", c.LocalEpochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.SamplesPerClient < 1 {
		return fmt.Errorf("samples_per_client must be >= 1, got %d", c.SamplesPerClient)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.ProximalMu < 0 || c.ProximalMu > 1 {
		return fmt.Errorf("proximal_mu must be in [0, 1], got %f", c.ProximalMu)
	}
	if c.ProbabilisticRounds < 0 {
		return fmt.Errorf("probabilistic_rounds must be non-negative, got %d", c.ProbabilisticRounds)
	}
	if c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %f", c.Resolution)
	}
	if c.MaxClusters < 1 {
		return fmt.Errorf("max_clusters must be >= 1, got %d", c.MaxClusters)
	}
	if c.ConsensusRuns < 1 {
		return fmt.Errorf("consensus_runs must be >= 1, got %d", c.ConsensusRuns)
	}
	if c.ConsensusMinResolution <= 0 || c.ConsensusMaxResolution < c.ConsensusMinResolution {
		return fmt.Errorf("consensus resolution range [%f, %f] is invalid", c.ConsensusMinResolution, c.ConsensusMaxResolution)
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in (0, 1], got %f", c.ConsensusThreshold)
	}
	if c.GravityEpsilon <= 0 {
		return fmt.Errorf("gravity_epsilon must be positive, got %f", c.GravityEpsilon)
	}
	overridden := make(map[int]bool, len(c.Overrides))
	for i, r := range c.Overrides {
		if r.ClientID < 0 || r.ClientID >= c.NumClients {
			return fmt.Errorf("overrides[%d]: unknown client %d", i, r.ClientID)
		}
		if overridden[r.ClientID] {
			return fmt.Errorf("overrides[%d]: client %d already has a rule", i, r.ClientID)
		}
		overridden[r.ClientID] = true
		if r.ToRound <= r.FromRound {
			return fmt.Errorf("overrides[%d]: to_round (%d) must exceed from_round (%d)", i, r.ToRound, r.FromRound)
		}
		if r.InsideWeight != nil && (*r.InsideWeight < 0 || *r.InsideWeight > 1) {
			return fmt.Errorf("overrides[%d]: inside_weight must be in [0, 1], got %f", i, *r.InsideWeight)
		}
		if r.OutsideWeight != nil && (*r.OutsideWeight < 0 || *r.OutsideWeight > 1) {
			return fmt.Errorf("overrides[%d]: outside_weight must be in [0, 1], got %f", i, *r.OutsideWeight)
		}
	}
	for id, t := range c.ClientTuning {
		if id < 0 || id >= c.NumClients {
			return fmt.Errorf("client_tuning: unknown client %d", id)
		}
		if t.LearningRate != nil && *t.LearningRate <= 0 {
			return fmt.Errorf("client_tuning[%d]: learning_rate must be positive, got %f", id, *t.LearningRate)
		}
		if t.LocalEpochs != nil && *t.LocalEpochs < 1 {
			return fmt.Errorf("client_tuning[%d]: local_epochs must be >= 1, got %d", id, *t.LocalEpochs)
		}
	}
	return nil
}
