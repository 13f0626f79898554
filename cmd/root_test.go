package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedsim/fedsim/sim"
)

func newTestRunCommand() (*cobra.Command, *runFlags) {
	cmd := &cobra.Command{Use: "run"}
	f := &runFlags{}
	registerRunFlags(cmd, f)
	return cmd, f
}

func TestRunFlags_OnlyChangedFlagsOverride(t *testing.T) {
	// GIVEN a config file value and a flag left at its default
	cmd, f := newTestRunCommand()
	cfg := sim.DefaultServerConfig()
	cfg.Rounds = 7
	cfg.Seed = 9

	// WHEN only --seed and --clustering are set
	require.NoError(t, cmd.Flags().Set("seed", "123"))
	require.NoError(t, cmd.Flags().Set("clustering", "spectral"))
	f.apply(cmd, &cfg)

	// THEN those override and the file's rounds survive
	assert.Equal(t, int64(123), cfg.Seed)
	assert.Equal(t, sim.ClusteringSpectral, cfg.Clustering)
	assert.Equal(t, 7, cfg.Rounds)
}

func TestRunFlags_BooleanOverrides(t *testing.T) {
	cmd, f := newTestRunCommand()
	cfg := sim.DefaultServerConfig()

	require.NoError(t, cmd.Flags().Set("consensus", "true"))
	require.NoError(t, cmd.Flags().Set("relative-to-global", "true"))
	require.NoError(t, cmd.Flags().Set("iid", "true"))
	f.apply(cmd, &cfg)

	assert.True(t, cfg.ConsensusClustering)
	assert.True(t, cfg.DistanceRelativeToGlobal)
	assert.True(t, cfg.IID)
}

func TestRunFlags_DefaultsMatchServerDefaults(t *testing.T) {
	cmd, _ := newTestRunCommand()
	def := sim.DefaultServerConfig()

	rounds, err := cmd.Flags().GetInt("rounds")
	require.NoError(t, err)
	assert.Equal(t, def.Rounds, rounds)
	agg, err := cmd.Flags().GetString("aggregation")
	require.NoError(t, err)
	assert.Equal(t, string(def.Aggregation), agg)
}

func smallExperiment() ExperimentConfig {
	exp := DefaultExperimentConfig()
	exp.Server.NumClients = 4
	exp.Server.ClientsPerRound = 4
	exp.Server.Rounds = 2
	exp.Server.HiddenSize = 4
	exp.Server.SamplesPerClient = 20
	exp.Data.TestSamples = 10
	return exp
}

func TestRunExperiment_WritesOutputs(t *testing.T) {
	// GIVEN a small experiment with every output enabled
	dir := t.TempDir()
	f := runFlags{
		traceLevel: "decisions",
		metricsOut: filepath.Join(dir, "rounds.jsonl"),
		promFile:   filepath.Join(dir, "fedsim.prom"),
	}
	var out bytes.Buffer

	// WHEN it runs
	require.NoError(t, runExperiment(context.Background(), smallExperiment(), f, &out))

	// THEN the summaries are printed
	assert.Contains(t, out.String(), "=== Experiment Summary ===")
	assert.Contains(t, out.String(), "Rounds completed : 2")
	assert.Contains(t, out.String(), "=== Trace Summary ===")

	// AND one JSON object per round is written
	file, err := os.Open(f.metricsOut)
	require.NoError(t, err)
	defer file.Close()
	var rounds []sim.RoundMetrics
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var m sim.RoundMetrics
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		rounds = append(rounds, m)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, rounds, 2)
	assert.Equal(t, 2, rounds[1].Round)

	// AND the Prometheus textfile holds the final round
	prom, err := os.ReadFile(f.promFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(prom), "fedsim_round 2"))
}

func TestRunExperiment_CancelledStillPrintsSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	err := runExperiment(ctx, smallExperiment(), runFlags{traceLevel: "none"}, &out)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, out.String(), "Rounds completed : 0")
	assert.NotContains(t, out.String(), "Trace Summary")
}

func TestRunFlags_ServerConfigReplacesServerSection(t *testing.T) {
	// GIVEN an experiment file with both sections and a server-only file
	f := runFlags{
		configPath:       writeTempYAML(t, "server:\n  rounds: 9\n  seed: 5\ndata:\n  classes: 3\n"),
		serverConfigPath: writeTempYAML(t, "clustering: kmeans\nnum_clusters: 2\n"),
	}

	// WHEN the configuration is resolved
	exp, err := f.loadConfig()
	require.NoError(t, err)

	// THEN the server section comes from the server file over the defaults
	assert.Equal(t, sim.ClusteringKMeans, exp.Server.Clustering)
	assert.Equal(t, 2, exp.Server.NumClusters)
	assert.Equal(t, sim.DefaultServerConfig().Rounds, exp.Server.Rounds)
	assert.Equal(t, sim.DefaultServerConfig().Seed, exp.Server.Seed)
	// AND the data section still comes from the experiment file
	assert.Equal(t, 3, exp.Data.Classes)
	assert.NoError(t, exp.Validate())
}

func TestRunFlags_LoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		flags   runFlags
		wantErr string
	}{
		{"unknown server field", runFlags{serverConfigPath: writeTempYAML(t, "server:\n  rounds: 3\n")}, "server"},
		{"missing server file", runFlags{serverConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}, "reading server config"},
		{"missing experiment file", runFlags{configPath: filepath.Join(t.TempDir(), "absent.yaml")}, "reading experiment config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.loadConfig()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunFlags_NoFilesUseDefaults(t *testing.T) {
	exp, err := (&runFlags{}).loadConfig()

	require.NoError(t, err)
	assert.Equal(t, DefaultExperimentConfig(), exp)
}
