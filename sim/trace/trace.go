package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every assignment and client blend decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// Enabled reports whether records should be collected.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelDecisions
}

// ExperimentTrace collects decision records during an experiment.
type ExperimentTrace struct {
	Config      TraceConfig
	Assignments []AssignmentRecord
	Blends      []BlendRecord
	Clusterings []ClusteringRecord
}

// NewExperimentTrace creates an ExperimentTrace ready for recording.
func NewExperimentTrace(config TraceConfig) *ExperimentTrace {
	return &ExperimentTrace{
		Config:      config,
		Assignments: make([]AssignmentRecord, 0),
		Blends:      make([]BlendRecord, 0),
		Clusterings: make([]ClusteringRecord, 0),
	}
}

// RecordAssignment appends a model assignment decision.
func (et *ExperimentTrace) RecordAssignment(record AssignmentRecord) {
	et.Assignments = append(et.Assignments, record)
}

// RecordBlend appends a client-side blend decision.
func (et *ExperimentTrace) RecordBlend(record BlendRecord) {
	et.Blends = append(et.Blends, record)
}

// RecordClustering appends the outcome of one clustering phase.
func (et *ExperimentTrace) RecordClustering(record ClusteringRecord) {
	et.Clusterings = append(et.Clusterings, record)
}
