package federation

// Phase is a step of the round state machine. Phases run strictly in order.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelect
	PhaseDistribute
	PhaseLocalTrain
	PhaseCollect
	PhaseCluster
	PhaseAggregate
	PhaseEvaluate
	PhaseRecord
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseSelect:     "select",
	PhaseDistribute: "distribute",
	PhaseLocalTrain: "local-train",
	PhaseCollect:    "collect",
	PhaseCluster:    "cluster",
	PhaseAggregate:  "aggregate",
	PhaseEvaluate:   "evaluate",
	PhaseRecord:     "record",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
