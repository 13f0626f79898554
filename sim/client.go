package sim

// HistoryLimit bounds the local and received model histories of a client.
const HistoryLimit = 3

// ClientStatus is the lifecycle state of a simulated client.
type ClientStatus int

const (
	StatusIdle ClientStatus = iota
	StatusReceiving
	StatusTraining
	StatusSending
	StatusEvaluating
	StatusCompleted
	StatusError
)

var clientStatusNames = [...]string{
	StatusIdle:       "idle",
	StatusReceiving:  "receiving",
	StatusTraining:   "training",
	StatusSending:    "sending",
	StatusEvaluating: "evaluating",
	StatusCompleted:  "completed",
	StatusError:      "error",
}

func (s ClientStatus) String() string {
	if s < 0 || int(s) >= len(clientStatusNames) {
		return "unknown"
	}
	return clientStatusNames[s]
}

// ClientRecord is the server-side view of one simulated participant.
type ClientRecord struct {
	ID       int
	DataSize int
	Status   ClientStatus

	// LocalModel is the model produced by the client's last local training,
	// nil before the client has participated.
	LocalModel *ModelWeights

	// Most recent last; never longer than HistoryLimit.
	LocalHistory    []ModelWeights
	ReceivedHistory []ModelWeights

	// Optional per-client overrides; nil means use the server defaults.
	LearningRate *float64
	LocalEpochs  *int

	ClientAggregation ClientAggregationMethod
}

// NewClientRecord creates an idle client.
func NewClientRecord(id, dataSize int, method ClientAggregationMethod) *ClientRecord {
	return &ClientRecord{
		ID:                id,
		DataSize:          dataSize,
		Status:            StatusIdle,
		ClientAggregation: method,
	}
}

// PushLocal records a freshly trained model as the client's local model.
func (c *ClientRecord) PushLocal(m ModelWeights) {
	local := m
	c.LocalModel = &local
	c.LocalHistory = trimHistory(append(c.LocalHistory, m))
}

// PushReceived records a model distributed to the client.
func (c *ClientRecord) PushReceived(m ModelWeights) {
	c.ReceivedHistory = trimHistory(append(c.ReceivedHistory, m))
}

// LastReceived returns the most recently received model, if any.
func (c *ClientRecord) LastReceived() (ModelWeights, bool) {
	if len(c.ReceivedHistory) == 0 {
		return ModelWeights{}, false
	}
	return c.ReceivedHistory[len(c.ReceivedHistory)-1], true
}

// EffectiveLearningRate returns the client override or def.
func (c *ClientRecord) EffectiveLearningRate(def float64) float64 {
	if c.LearningRate != nil {
		return *c.LearningRate
	}
	return def
}

// EffectiveLocalEpochs returns the client override or def.
func (c *ClientRecord) EffectiveLocalEpochs(def int) int {
	if c.LocalEpochs != nil {
		return *c.LocalEpochs
	}
	return def
}

func trimHistory(h []ModelWeights) []ModelWeights {
	if len(h) <= HistoryLimit {
		return h
	}
	out := make([]ModelWeights, HistoryLimit)
	copy(out, h[len(h)-HistoryLimit:])
	return out
}
