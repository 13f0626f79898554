// Package federation runs federated-learning experiments: a server selects
// clients each round, distributes models, collects the locally trained
// updates, detects client communities and aggregates a new global model.
package federation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/clustering"
	"github.com/fedsim/fedsim/sim/consensus"
	"github.com/fedsim/fedsim/sim/distance"
	"github.com/fedsim/fedsim/sim/nn"
	"github.com/fedsim/fedsim/sim/sink"
	"github.com/fedsim/fedsim/sim/strategy"
	"github.com/fedsim/fedsim/sim/trace"
)

// Option configures a Simulator.
type Option func(*Simulator)

// WithSinks adds sinks that receive every completed round.
func WithSinks(sinks ...sink.RoundSink) Option {
	return func(s *Simulator) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithTrace records assignment, blend and clustering decisions into t.
func WithTrace(t *trace.ExperimentTrace) Option {
	return func(s *Simulator) {
		s.trace = t
	}
}

// Simulator orchestrates one experiment. Rounds run strictly sequentially;
// only local training fans out across goroutines.
type Simulator struct {
	config  sim.ServerConfig
	arch    nn.Architecture
	trainer *nn.Trainer
	rng     *sim.PartitionedRNG
	simCtx  *sim.SimulationContext

	clients []*sim.ClientRecord
	heldOut sim.Partition
	global  sim.ModelWeights

	aggregator strategy.Aggregator
	assigner   strategy.Assigner
	blenders   map[sim.ClientAggregationMethod]*strategy.Overrides

	sinks   sink.Multi
	trace   *trace.ExperimentTrace
	history []sim.RoundMetrics
	runID   string
	phase   Phase
	hasRun  bool
}

// NewSimulator validates cfg, partitions every client's data through provider
// and initialises the global model from the main random stream.
func NewSimulator(cfg sim.ServerConfig, provider sim.DataPartitionProvider, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	features, classes := provider.Dims()
	arch := nn.Architecture{Inputs: features, Hidden: cfg.HiddenSize, Outputs: classes}
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model architecture: %w", err)
	}

	s := &Simulator{
		config:     cfg,
		arch:       arch,
		trainer:    nn.NewTrainer(arch, cfg.BatchSize),
		rng:        sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed)),
		simCtx:     sim.NewSimulationContext(),
		aggregator: strategy.NewAggregator(cfg.Aggregation, cfg.ProximalMu),
		assigner:   strategy.NewAssigner(cfg.Assignment, cfg.ProbabilisticRounds, cfg.DistanceMetric),
		blenders:   make(map[sim.ClientAggregationMethod]*strategy.Overrides),
		runID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.simCtx.Reset()
	tests := make([]sim.Partition, 0, cfg.NumClients)
	for id := 0; id < cfg.NumClients; id++ {
		ds, err := provider.Partition(id, cfg.SamplesPerClient, cfg.IID, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("partitioning client %d: %w", id, err)
		}
		s.simCtx.SetPartition(id, ds)
		tests = append(tests, ds.Test)

		c := sim.NewClientRecord(id, ds.Train.Len(), cfg.ClientAggregation)
		if t, ok := cfg.ClientTuning[id]; ok {
			c.LearningRate = t.LearningRate
			c.LocalEpochs = t.LocalEpochs
		}
		s.clients = append(s.clients, c)
	}
	s.heldOut = sim.ConcatPartitions(tests...)
	s.global = arch.Init(s.rng.Main())

	logrus.Debugf("simulator %s: %d clients, %d held-out samples, model %d→%d→%d",
		s.runID, len(s.clients), s.heldOut.Len(), arch.Inputs, arch.Hidden, arch.Outputs)
	return s, nil
}

// blenderFor returns the client aggregator for method with override rules
// applied. Not safe for concurrent use.
func (s *Simulator) blenderFor(method sim.ClientAggregationMethod) *strategy.Overrides {
	if b, ok := s.blenders[method]; ok {
		return b
	}
	b := strategy.WithOverrides(strategy.NewClientAggregator(method, s.config.GravityEpsilon), s.config.Overrides)
	s.blenders[method] = b
	return b
}

// Run executes rounds until the configured count is reached, a round fails,
// or ctx is cancelled. Cancellation is checked between rounds only.
// Panics if called more than once.
func (s *Simulator) Run(ctx context.Context) error {
	if s.hasRun {
		panic("Simulator.Run() called more than once")
	}
	s.hasRun = true

	for len(s.history) < s.config.Rounds {
		if err := ctx.Err(); err != nil {
			logrus.Infof("stopping after round %d: %v", len(s.history), err)
			return err
		}
		if _, err := s.RunRound(); err != nil {
			return err
		}
	}
	return nil
}

// roundState is the scratch data passed between the phases of one round.
type roundState struct {
	round        int
	participants []*sim.ClientRecord
	assignments  []strategy.Assignment
	jobs         []trainJob
	outcomes     []trainOutcome
	updates      []strategy.Update
	metrics      sim.RoundMetrics
}

// RunRound executes the next round through every phase and returns its
// metrics. The round counter advances only when all phases succeed.
func (s *Simulator) RunRound() (sim.RoundMetrics, error) {
	if len(s.history) >= s.config.Rounds {
		return sim.RoundMetrics{}, fmt.Errorf("all %d rounds already completed", s.config.Rounds)
	}
	rs := &roundState{round: len(s.history) + 1}
	rs.metrics.Round = rs.round

	phases := []struct {
		phase Phase
		run   func(*roundState) error
	}{
		{PhaseSelect, s.selectParticipants},
		{PhaseDistribute, s.distribute},
		{PhaseLocalTrain, s.localTrain},
		{PhaseCollect, s.collect},
		{PhaseCluster, s.cluster},
		{PhaseAggregate, s.aggregate},
		{PhaseEvaluate, s.evaluate},
		{PhaseRecord, s.record},
	}
	for _, p := range phases {
		s.phase = p.phase
		logrus.Debugf("round %d: %s", rs.round, p.phase)
		if err := p.run(rs); err != nil {
			s.phase = PhaseIdle
			return sim.RoundMetrics{}, err
		}
	}
	s.phase = PhaseIdle

	m := rs.metrics
	logrus.Infof("round %d/%d: loss=%.4f accuracy=%.4f clients=%d clusters=%d",
		m.Round, s.config.Rounds, m.GlobalLoss, m.GlobalAccuracy, len(m.Participants), m.NumClusters())
	return m, nil
}

// 1. Shuffle the idle clients with the main stream and take the first
// ClientsPerRound of them.
func (s *Simulator) selectParticipants(rs *roundState) error {
	var idle []*sim.ClientRecord
	for _, c := range s.clients {
		if c.Status == sim.StatusCompleted {
			c.Status = sim.StatusIdle
		}
		if c.Status == sim.StatusIdle {
			idle = append(idle, c)
		}
	}
	if len(idle) < s.config.MinClientsRequired {
		return &sim.InsufficientClientsError{Round: rs.round, Required: s.config.MinClientsRequired, Available: len(idle)}
	}

	s.rng.Main().Shuffle(len(idle), func(i, j int) { idle[i], idle[j] = idle[j], idle[i] })
	n := min(s.config.ClientsPerRound, len(idle))
	rs.participants = idle[:n]
	rs.metrics.Participants = make([]int, n)
	for i, c := range rs.participants {
		c.Status = sim.StatusReceiving
		rs.metrics.Participants[i] = c.ID
	}
	return nil
}

// 2. Pick each participant's starting model, in participant order.
func (s *Simulator) distribute(rs *roundState) error {
	main := s.rng.Main()
	rs.assignments = make([]strategy.Assignment, len(rs.participants))
	for i, c := range rs.participants {
		a := s.assigner.Assign(c, rs.round, s.global, s.simCtx.ClusterModels, main)
		c.PushReceived(a.Model)
		rs.assignments[i] = a
		if s.tracing() {
			s.trace.RecordAssignment(trace.AssignmentRecord{
				Round:         rs.round,
				ClientID:      c.ID,
				Source:        string(a.Source),
				Cluster:       a.Cluster,
				Probabilities: a.Probabilities,
			})
		}
	}
	return nil
}

// trainJob is everything one worker needs; workers never touch a ClientRecord.
type trainJob struct {
	clientID int
	received sim.ModelWeights
	previous *sim.ModelWeights
	blender  *strategy.Overrides
	data     sim.Dataset
	epochs   int
	lr       float64
	seed     uint32
}

type trainOutcome struct {
	result      nn.TrainResult
	start       sim.ModelWeights // blended model training started from
	blendWeight float64
	err         error
}

// 3. Blend and train every participant concurrently. Shuffle seeds are drawn
// from the main stream in participant order before fan-out, so outcomes do
// not depend on the worker count.
func (s *Simulator) localTrain(rs *roundState) error {
	main := s.rng.Main()
	rs.jobs = make([]trainJob, len(rs.participants))
	for i, c := range rs.participants {
		ds, _ := s.simCtx.Partition(c.ID)
		rs.jobs[i] = trainJob{
			clientID: c.ID,
			received: rs.assignments[i].Model,
			previous: c.LocalModel,
			blender:  s.blenderFor(c.ClientAggregation),
			data:     ds,
			epochs:   c.EffectiveLocalEpochs(s.config.LocalEpochs),
			lr:       c.EffectiveLearningRate(s.config.LearningRate),
			seed:     main.Uint32(),
		}
		c.Status = sim.StatusTraining
	}

	rs.outcomes = make([]trainOutcome, len(rs.jobs))
	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for i := range rs.jobs {
		i := i
		g.Go(func() error {
			rs.outcomes[i] = s.train(rs.round, rs.jobs[i])
			if err := rs.outcomes[i].err; err != nil {
				return fmt.Errorf("client %d: %w", rs.jobs[i].clientID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	for i, c := range rs.participants {
		if rs.outcomes[i].err != nil {
			c.Status = sim.StatusError
		}
	}
	if err != nil {
		return fmt.Errorf("round %d: local training: %w", rs.round, err)
	}
	return nil
}

func (s *Simulator) train(round int, job trainJob) trainOutcome {
	start, weight := job.received, 0.0
	if job.previous != nil && job.previous.SameShape(job.received) {
		blended, w, err := job.blender.Blend(job.received, *job.previous, strategy.BlendContext{ClientID: job.clientID, Round: round})
		if err != nil {
			return trainOutcome{err: err}
		}
		start, weight = blended, w
	}
	res, err := s.trainer.Train(start, job.data, job.epochs, job.lr, sim.NewStream(job.seed))
	if err != nil {
		return trainOutcome{err: err}
	}
	return trainOutcome{result: res, start: start, blendWeight: weight}
}

// 4. Gather updates in participant order. A frozen client submits the model
// it started training from.
func (s *Simulator) collect(rs *roundState) error {
	rs.updates = make([]strategy.Update, 0, len(rs.participants))
	rs.metrics.Clients = make([]sim.ClientRoundMetrics, 0, len(rs.participants))
	for i, c := range rs.participants {
		out := rs.outcomes[i]
		job := rs.jobs[i]
		c.PushLocal(out.result.Weights)

		submitted := out.result.Weights
		frozen := job.blender.Frozen(c.ID, rs.round)
		if frozen {
			submitted = out.start
		}
		rs.updates = append(rs.updates, strategy.Update{ClientID: c.ID, Weights: submitted, DataSize: c.DataSize})
		rs.metrics.Clients = append(rs.metrics.Clients, sim.ClientRoundMetrics{
			ClientID:     c.ID,
			Loss:         out.result.Loss,
			Accuracy:     out.result.Accuracy,
			TestAccuracy: out.result.TestAccuracy,
			GradientNorm: out.result.GradientNorm,
			Assignment:   rs.assignments[i].Source,
			BlendWeight:  out.blendWeight,
			Frozen:       frozen,
		})
		if s.tracing() {
			s.trace.RecordBlend(trace.BlendRecord{
				Round:          rs.round,
				ClientID:       c.ID,
				Method:         string(c.ClientAggregation),
				PreviousWeight: out.blendWeight,
				Overridden:     job.blender.Pinned(c.ID, rs.round),
				Frozen:         frozen,
			})
		}
		c.Status = sim.StatusSending
	}
	return nil
}

// 5. Detect client communities. Failures degrade the round instead of
// aborting it: the store is emptied and clustering fields stay unset.
func (s *Simulator) cluster(rs *roundState) error {
	rec := trace.ClusteringRecord{
		Round:     rs.round,
		Method:    string(s.config.Clustering),
		Consensus: s.config.ConsensusClustering,
	}
	if err := s.detectCommunities(rs, &rec); err != nil {
		logrus.Warnf("round %d: clustering degraded: %v", rs.round, err)
		s.simCtx.ClusterModels.Reset()
		rs.metrics.MatrixClientIDs = nil
		rs.metrics.DistanceMatrix = nil
		rs.metrics.Clusters = nil
		rs.metrics.AgreementMatrix = nil
		rs.metrics.Silhouette = nil
		rs.metrics.ClusterAccuracy = nil
		rec.Clusters = 0
		rec.Error = err.Error()
	}
	if s.tracing() {
		s.trace.RecordClustering(rec)
	}
	return nil
}

func (s *Simulator) detectCommunities(rs *roundState, rec *trace.ClusteringRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var reference []float64
	if s.config.DistanceRelativeToGlobal {
		reference = s.global.Flatten()
	}
	var (
		ids     []int
		models  []sim.ModelWeights
		sizes   []int
		vectors [][]float64
	)
	for _, u := range rs.updates {
		if !wellFormed(u.Weights, s.global) {
			logrus.Warnf("round %d: skipping client %d in clustering: malformed weights", rs.round, u.ClientID)
			rec.Skipped = append(rec.Skipped, u.ClientID)
			continue
		}
		v := u.Weights.Flatten()
		if reference != nil {
			floats.Sub(v, reference)
		}
		ids = append(ids, u.ClientID)
		models = append(models, u.Weights)
		sizes = append(sizes, u.DataSize)
		vectors = append(vectors, v)
	}
	if len(ids) == 0 {
		return errors.New("no well-formed client models")
	}

	d := distance.PairwiseMatrix(vectors, s.config.DistanceMetric, nil)
	var p clustering.Partition
	var agreement [][]int
	if s.config.ConsensusClustering {
		opts := consensus.Options{
			Runs:          s.config.ConsensusRuns,
			MinResolution: s.config.ConsensusMinResolution,
			MaxResolution: s.config.ConsensusMaxResolution,
		}
		agreement, err = consensus.BuildAgreement(d, s.config.Clustering, opts, s.rng.Isolated(sim.SubsystemConsensus))
		if err != nil {
			return err
		}
		p = consensus.ExtractClusters(agreement, opts.Runs, s.config.ConsensusThreshold)
	} else {
		algo := clustering.New(s.config.Clustering, clustering.Options{
			Resolution: s.config.Resolution,
			K:          s.config.NumClusters,
			MaxK:       s.config.MaxClusters,
		})
		in := clustering.Input{Vectors: vectors, Distances: d, Metric: s.config.DistanceMetric}
		p, err = algo.Cluster(in, s.rng.Isolated(sim.SubsystemClustering))
		if err != nil {
			return err
		}
	}
	p = p.Normalize()
	if err := p.Validate(len(ids)); err != nil {
		return err
	}

	clusterModels, err := clustering.ClusterModels(models, sizes, p)
	if err != nil {
		return err
	}
	communities := p.Communities()
	members := make([][]int, len(communities))
	accuracy := make([]float64, len(communities))
	for c, nodes := range communities {
		tests := make([]sim.Partition, 0, len(nodes))
		for _, node := range nodes {
			members[c] = append(members[c], ids[node])
			ds, _ := s.simCtx.Partition(ids[node])
			tests = append(tests, ds.Test)
		}
		_, acc, err := s.trainer.Evaluate(clusterModels[c], sim.ConcatPartitions(tests...))
		if err != nil {
			return fmt.Errorf("cluster %d: %w", c, err)
		}
		accuracy[c] = acc
	}
	s.simCtx.ClusterModels.Set(clusterModels, members)

	rs.metrics.MatrixClientIDs = ids
	rs.metrics.DistanceMatrix = d
	rs.metrics.Clusters = members
	rs.metrics.AgreementMatrix = agreement
	rs.metrics.ClusterAccuracy = accuracy
	if score, ok := clustering.Silhouette(d, p); ok {
		rs.metrics.Silhouette = &score
	}
	rec.Clusters = len(members)
	logrus.Debugf("round %d: %d communities over %d clients", rs.round, len(members), len(ids))
	return nil
}

// wellFormed reports whether w matches the global model's shape and holds
// only finite values.
func wellFormed(w, global sim.ModelWeights) bool {
	if !w.SameShape(global) {
		return false
	}
	for _, v := range w.Flatten() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// 6. Aggregate the collected updates into the next global model.
func (s *Simulator) aggregate(rs *roundState) error {
	next, err := s.aggregator.Aggregate(rs.updates, s.global)
	if err != nil {
		return fmt.Errorf("round %d: aggregation: %w", rs.round, err)
	}
	s.global = next
	return nil
}

// 7. Evaluate the new global model on the union of client test splits.
func (s *Simulator) evaluate(rs *roundState) error {
	for _, c := range rs.participants {
		c.Status = sim.StatusEvaluating
	}
	loss, acc, err := s.trainer.Evaluate(s.global, s.heldOut)
	if err != nil {
		return fmt.Errorf("round %d: evaluation: %w", rs.round, err)
	}
	rs.metrics.GlobalLoss = loss
	rs.metrics.GlobalAccuracy = acc
	return nil
}

// 8. Emit the round to every sink and append it to the history.
func (s *Simulator) record(rs *roundState) error {
	if err := s.sinks.Emit(rs.metrics); err != nil {
		return fmt.Errorf("round %d: emitting metrics: %w", rs.round, err)
	}
	s.history = append(s.history, rs.metrics)
	for _, c := range rs.participants {
		c.Status = sim.StatusCompleted
	}
	return nil
}

func (s *Simulator) tracing() bool {
	return s.trace != nil && s.trace.Config.Enabled()
}

// History returns the metrics of every completed round, in order.
func (s *Simulator) History() []sim.RoundMetrics {
	return s.history
}

// GlobalModel returns the current global model.
func (s *Simulator) GlobalModel() sim.ModelWeights {
	return s.global
}

// Clients returns the client records, indexed by client id.
func (s *Simulator) Clients() []*sim.ClientRecord {
	return s.clients
}

// Phase returns the phase currently executing, PhaseIdle between rounds.
func (s *Simulator) Phase() Phase {
	return s.phase
}

// RunID returns the experiment's unique identifier.
func (s *Simulator) RunID() string {
	return s.runID
}
