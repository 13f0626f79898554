package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedsim/fedsim/sim"
)

func ptr[T any](v T) *T { return &v }

func sampleRound(round int, acc float64) sim.RoundMetrics {
	return sim.RoundMetrics{
		Round:          round,
		GlobalLoss:     1 - acc,
		GlobalAccuracy: acc,
		Participants:   []int{2, 0},
		Clusters:       [][]int{{0}, {2}},
		Silhouette:     ptr(0.5),
		Clients: []sim.ClientRoundMetrics{
			{ClientID: 2, Loss: 0.3, Accuracy: 0.8, Assignment: sim.SourceGlobal, BlendWeight: 0.25},
			{ClientID: 0, Loss: 0.4, Accuracy: 0.7, Assignment: sim.SourceGlobal},
		},
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Emit(sampleRound(1, 0.5)))
	require.NoError(t, r.Emit(sampleRound(2, 0.6)))
	require.Len(t, r.Rounds, 2)
	assert.Equal(t, 2, r.Rounds[1].Round)
}

func TestJSONLines_OneObjectPerRound(t *testing.T) {
	// GIVEN a JSON lines sink over a buffer
	var buf bytes.Buffer
	s := NewJSONLines(&buf)

	// WHEN two rounds are emitted
	require.NoError(t, s.Emit(sampleRound(1, 0.5)))
	require.NoError(t, s.Emit(sampleRound(2, 0.75)))

	// THEN each line decodes to its round
	scanner := bufio.NewScanner(&buf)
	var rounds []sim.RoundMetrics
	for scanner.Scan() {
		var m sim.RoundMetrics
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		rounds = append(rounds, m)
	}
	require.Len(t, rounds, 2)
	assert.Equal(t, 0.75, rounds[1].GlobalAccuracy)
	assert.Equal(t, [][]int{{0}, {2}}, rounds[1].Clusters)
}

type failingSink struct{}

func (failingSink) Emit(sim.RoundMetrics) error { return errors.New("disk full") }

func TestMulti_ContinuesPastFailures(t *testing.T) {
	r := &Recorder{}
	err := Multi{failingSink{}, r}.Emit(sampleRound(1, 0.5))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, r.Rounds, 1)
}

func TestPrometheus_GaugesTrackLatestRound(t *testing.T) {
	// GIVEN a prometheus sink
	p := NewPrometheus()

	// WHEN two rounds are emitted
	require.NoError(t, p.Emit(sampleRound(1, 0.5)))
	require.NoError(t, p.Emit(sampleRound(2, 0.75)))

	// THEN gauges reflect the latest round and the counter both
	assert.Equal(t, 2.0, testutil.ToFloat64(p.round))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.rounds))
	assert.Equal(t, 0.75, testutil.ToFloat64(p.globalAccuracy))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.clusters))
	assert.Equal(t, 0.5, testutil.ToFloat64(p.silhouette))
	assert.Equal(t, 0.8, testutil.ToFloat64(p.clientAccuracy.WithLabelValues("2")))
	assert.Equal(t, 0.25, testutil.ToFloat64(p.blendWeight.WithLabelValues("2")))
}

func TestPrometheus_RegistryExposesPerClientSeries(t *testing.T) {
	// GIVEN a round with two clients
	p := NewPrometheus()
	require.NoError(t, p.Emit(sampleRound(1, 0.5)))

	// WHEN the registry is gathered
	accuracy, err := testutil.GatherAndCount(p.Registry(), "fedsim_client_accuracy")
	require.NoError(t, err)
	round, err := testutil.GatherAndCount(p.Registry(), "fedsim_round")
	require.NoError(t, err)

	// THEN there is one accuracy series per client and a single round gauge
	assert.Equal(t, 2, accuracy)
	assert.Equal(t, 1, round)
}

func TestPrometheus_WriteTextfile(t *testing.T) {
	p := NewPrometheus()
	require.NoError(t, p.Emit(sampleRound(3, 0.9)))

	path := filepath.Join(t.TempDir(), "fedsim.prom")
	require.NoError(t, p.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "fedsim_global_accuracy 0.9"))
	assert.True(t, strings.Contains(string(raw), `fedsim_client_accuracy{client="0"} 0.7`))
}

func TestSummarize(t *testing.T) {
	// GIVEN a history with one degraded round
	degraded := sampleRound(2, 0.9)
	degraded.Clusters = nil
	degraded.Silhouette = nil
	history := []sim.RoundMetrics{sampleRound(1, 0.5), degraded, sampleRound(3, 0.7)}
	history[2].Silhouette = ptr(0.3)

	// WHEN summarised
	s := Summarize(history)

	// THEN best, final and means skip the degraded round
	assert.Equal(t, 3, s.Rounds)
	assert.Equal(t, 0.7, s.FinalAccuracy)
	assert.InDelta(t, 0.3, s.FinalLoss, 1e-12)
	assert.Equal(t, 0.9, s.BestAccuracy)
	assert.Equal(t, 2, s.BestRound)
	assert.Equal(t, 2.0, s.MeanClusters)
	assert.InDelta(t, 0.4, s.MeanSilhouette, 1e-12)
	assert.Equal(t, 1, s.DegradedRounds)

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "Best accuracy    : 0.9000 (round 2)")
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, ExperimentSummary{}, Summarize(nil))
}
