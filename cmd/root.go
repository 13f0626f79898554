package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/data"
	"github.com/fedsim/fedsim/sim/federation"
	"github.com/fedsim/fedsim/sim/sink"
	"github.com/fedsim/fedsim/sim/trace"
)

// runFlags holds the `run` command's flags. Server flags only override the
// experiment file when set explicitly.
type runFlags struct {
	configPath       string
	serverConfigPath string // server-only YAML, replaces the experiment file's server section
	logLevel         string
	traceLevel       string
	metricsOut       string // JSON lines, one object per round
	promFile         string // Prometheus textfile written at the end of the run

	seed                     int64
	rounds                   int
	numClients               int
	clientsPerRound          int
	minClients               int
	aggregation              string
	clientAggregation        string
	assignment               string
	clustering               string
	numClusters              int
	distanceMetric           string
	distanceRelativeToGlobal bool
	consensus                bool
	iid                      bool
	workers                  int
	learningRate             float64
	localEpochs              int
}

var flags runFlags

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "fedsim",
	Short: "Deterministic federated-learning round simulator",
}

// runCmd executes one experiment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a federated-learning experiment",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(flags.logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", flags.logLevel)
		}
		logrus.SetLevel(level)

		if !trace.IsValidTraceLevel(flags.traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", flags.traceLevel)
		}

		exp, err := flags.loadConfig()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		flags.apply(cmd, &exp.Server)
		if err := exp.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runExperiment(ctx, exp, flags, os.Stdout); err != nil {
			logrus.Fatalf("Experiment failed: %v", err)
		}
		logrus.Info("Experiment complete.")
	},
}

// loadConfig reads the experiment file, if any, then swaps in the server-only
// file, if any. With neither flag set the defaults are used.
func (f *runFlags) loadConfig() (ExperimentConfig, error) {
	exp := DefaultExperimentConfig()
	if f.configPath != "" {
		var err error
		if exp, err = loadExperimentConfig(f.configPath); err != nil {
			return ExperimentConfig{}, err
		}
	}
	if f.serverConfigPath != "" {
		server, err := sim.LoadServerConfig(f.serverConfigPath)
		if err != nil {
			return ExperimentConfig{}, err
		}
		exp.Server = server
	}
	return exp, nil
}

// apply copies explicitly set flags into cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *sim.ServerConfig) {
	changed := cmd.Flags().Changed
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("rounds") {
		cfg.Rounds = f.rounds
	}
	if changed("clients") {
		cfg.NumClients = f.numClients
	}
	if changed("clients-per-round") {
		cfg.ClientsPerRound = f.clientsPerRound
	}
	if changed("min-clients") {
		cfg.MinClientsRequired = f.minClients
	}
	if changed("aggregation") {
		cfg.Aggregation = sim.AggregationMethod(f.aggregation)
	}
	if changed("client-aggregation") {
		cfg.ClientAggregation = sim.ClientAggregationMethod(f.clientAggregation)
	}
	if changed("assignment") {
		cfg.Assignment = sim.AssignmentMethod(f.assignment)
	}
	if changed("clustering") {
		cfg.Clustering = sim.ClusteringMethod(f.clustering)
	}
	if changed("num-clusters") {
		cfg.NumClusters = f.numClusters
	}
	if changed("distance-metric") {
		cfg.DistanceMetric = sim.DistanceMetric(f.distanceMetric)
	}
	if changed("relative-to-global") {
		cfg.DistanceRelativeToGlobal = f.distanceRelativeToGlobal
	}
	if changed("consensus") {
		cfg.ConsensusClustering = f.consensus
	}
	if changed("iid") {
		cfg.IID = f.iid
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("learning-rate") {
		cfg.LearningRate = f.learningRate
	}
	if changed("local-epochs") {
		cfg.LocalEpochs = f.localEpochs
	}
}

// runExperiment builds the data provider, sinks and simulator for exp, runs
// it and prints the summaries to w.
func runExperiment(ctx context.Context, exp ExperimentConfig, f runFlags, w io.Writer) error {
	provider, err := data.NewGaussianBlobs(exp.Data)
	if err != nil {
		return err
	}

	var sinks []sink.RoundSink
	if f.metricsOut != "" {
		out, err := os.Create(f.metricsOut)
		if err != nil {
			return fmt.Errorf("creating metrics output: %w", err)
		}
		defer func() {
			if err := out.Close(); err != nil {
				logrus.Warnf("closing %s: %v", f.metricsOut, err)
			}
		}()
		sinks = append(sinks, sink.NewJSONLines(out))
	}
	var prom *sink.Prometheus
	if f.promFile != "" {
		prom = sink.NewPrometheus()
		sinks = append(sinks, prom)
	}
	tr := trace.NewExperimentTrace(trace.TraceConfig{Level: trace.TraceLevel(f.traceLevel)})

	s, err := federation.NewSimulator(exp.Server, provider, federation.WithSinks(sinks...), federation.WithTrace(tr))
	if err != nil {
		return err
	}
	cfg := exp.Server
	logrus.Infof("Starting experiment %s: %d rounds, %d/%d clients per round, aggregation=%s, client-aggregation=%s, assignment=%s, clustering=%s, seed=%d",
		s.RunID(), cfg.Rounds, cfg.ClientsPerRound, cfg.NumClients, cfg.Aggregation, cfg.ClientAggregation, cfg.Assignment, cfg.Clustering, cfg.Seed)

	start := time.Now()
	runErr := s.Run(ctx)
	logrus.Infof("Ran %d rounds in %s", len(s.History()), time.Since(start).Round(time.Millisecond))

	sink.Summarize(s.History()).Print(w)
	if tr.Config.Enabled() {
		printTraceSummary(w, trace.Summarize(tr))
	}
	if prom != nil {
		if err := prom.WriteTextfile(f.promFile); err != nil {
			return err
		}
	}
	return runErr
}

func printTraceSummary(w io.Writer, ts *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Assignments      : %d\n", ts.TotalAssignments)
	for _, src := range []sim.AssignmentSource{sim.SourceGlobal, sim.SourceCluster, sim.SourceSampled} {
		if n := ts.SourceDistribution[string(src)]; n > 0 {
			fmt.Fprintf(w, "  %-15s: %d\n", src, n)
		}
	}
	fmt.Fprintf(w, "Mean blend weight: %.4f (max %.4f)\n", ts.MeanBlendWeight, ts.MaxBlendWeight)
	if ts.OverriddenBlends > 0 || ts.FrozenSubmissions > 0 {
		fmt.Fprintf(w, "Overridden blends: %d, frozen submissions: %d\n", ts.OverriddenBlends, ts.FrozenSubmissions)
	}
	fmt.Fprintf(w, "Cluster changes  : %d\n", ts.ClusterChanges)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerRunFlags binds f to cmd's flag set.
func registerRunFlags(cmd *cobra.Command, f *runFlags) {
	def := sim.DefaultServerConfig()

	cmd.Flags().StringVar(&f.configPath, "config", "", "Experiment YAML with server: and data: sections")
	cmd.Flags().StringVar(&f.serverConfigPath, "server-config", "", "Server-only YAML; replaces the server: section of --config")
	cmd.Flags().StringVar(&f.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	cmd.Flags().StringVar(&f.traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write per-round metrics as JSON lines to this file")
	cmd.Flags().StringVar(&f.promFile, "prom-textfile", "", "Write final Prometheus gauges to this textfile")

	// Experiment shape
	cmd.Flags().Int64Var(&f.seed, "seed", def.Seed, "Seed for every random stream")
	cmd.Flags().IntVar(&f.rounds, "rounds", def.Rounds, "Number of rounds")
	cmd.Flags().IntVar(&f.numClients, "clients", def.NumClients, "Number of simulated clients")
	cmd.Flags().IntVar(&f.clientsPerRound, "clients-per-round", def.ClientsPerRound, "Participants selected per round")
	cmd.Flags().IntVar(&f.minClients, "min-clients", def.MinClientsRequired, "Minimum idle clients required to start a round")
	cmd.Flags().BoolVar(&f.iid, "iid", def.IID, "Partition data IID instead of label-skewed")
	cmd.Flags().IntVar(&f.workers, "workers", def.Workers, "Concurrent local training workers")
	cmd.Flags().Float64Var(&f.learningRate, "learning-rate", def.LearningRate, "Local SGD learning rate")
	cmd.Flags().IntVar(&f.localEpochs, "local-epochs", def.LocalEpochs, "Local epochs per round")

	// Strategies
	cmd.Flags().StringVar(&f.aggregation, "aggregation", string(def.Aggregation), "Server aggregation (fedavg, fedprox, simple, median)")
	cmd.Flags().StringVar(&f.clientAggregation, "client-aggregation", string(def.ClientAggregation), "Client blend (none, 50-50, gravity)")
	cmd.Flags().StringVar(&f.assignment, "assignment", string(def.Assignment), "Model assignment (1nn, probabilistic, global)")
	cmd.Flags().StringVar(&f.clustering, "clustering", string(def.Clustering), "Clustering (louvain, leiden, kmeans, spectral)")
	cmd.Flags().IntVar(&f.numClusters, "num-clusters", def.NumClusters, "Fixed cluster count for kmeans/spectral; 0 selects automatically")
	cmd.Flags().StringVar(&f.distanceMetric, "distance-metric", string(def.DistanceMetric), "Model distance (l1, l2, cosine)")
	cmd.Flags().BoolVar(&f.distanceRelativeToGlobal, "relative-to-global", def.DistanceRelativeToGlobal, "Measure distances between updates relative to the global model")
	cmd.Flags().BoolVar(&f.consensus, "consensus", def.ConsensusClustering, "Use consensus clustering over a resolution sweep")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd, &flags)
	rootCmd.AddCommand(runCmd)
}
