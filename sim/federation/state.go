package federation

import (
	"errors"
	"fmt"

	"github.com/fedsim/fedsim/sim"
)

// State exports what is needed to resume the experiment or inspect it.
// Every model is cloned.
func (s *Simulator) State() sim.ExperimentState {
	clientModels := make(map[int]sim.ModelWeights)
	for _, c := range s.clients {
		if c.LocalModel != nil {
			clientModels[c.ID] = c.LocalModel.Clone()
		}
	}

	store := s.simCtx.ClusterModels
	var clusterModels []sim.ModelWeights
	var members [][]int
	if store.NumClusters() > 0 {
		clusterModels = make([]sim.ModelWeights, store.NumClusters())
		for i, m := range store.Models() {
			clusterModels[i] = m.Clone()
		}
		members = make([][]int, store.NumClusters())
		for _, id := range store.ClientIDs() {
			c, _ := store.ClusterOf(id)
			members[c] = append(members[c], id)
		}
	}

	return sim.ExperimentState{
		RunID:          s.runID,
		Config:         s.config,
		GlobalModel:    s.global.Clone(),
		History:        append([]sim.RoundMetrics(nil), s.history...),
		ClientModels:   clientModels,
		ClusterModels:  clusterModels,
		ClusterMembers: members,
		MainDraws:      s.rng.Main().Draws(),
	}
}

// Restore loads state into a simulator that has not run any round yet. The
// simulator must have been built from the same seed and client count; the
// main stream is fast-forwarded so the remaining rounds match an
// uninterrupted run.
func (s *Simulator) Restore(state sim.ExperimentState) error {
	if s.hasRun || len(s.history) > 0 {
		return errors.New("restore: simulator has already run")
	}
	if state.Config.Seed != s.config.Seed || state.Config.NumClients != s.config.NumClients {
		return fmt.Errorf("restore: state is for seed %d with %d clients, simulator has seed %d with %d clients",
			state.Config.Seed, state.Config.NumClients, s.config.Seed, s.config.NumClients)
	}
	if len(state.History) > s.config.Rounds {
		return fmt.Errorf("restore: state has %d rounds, simulator is configured for %d", len(state.History), s.config.Rounds)
	}
	if !state.GlobalModel.SameShape(s.global) {
		return fmt.Errorf("restore: global model: %w", sim.ErrShapeMismatch)
	}
	for id, m := range state.ClientModels {
		if id < 0 || id >= len(s.clients) {
			return fmt.Errorf("restore: unknown client %d", id)
		}
		if !m.SameShape(s.global) {
			return fmt.Errorf("restore: client %d model: %w", id, sim.ErrShapeMismatch)
		}
	}
	if len(state.ClusterModels) != len(state.ClusterMembers) {
		return fmt.Errorf("restore: %d cluster models for %d member lists", len(state.ClusterModels), len(state.ClusterMembers))
	}
	main := s.rng.Main()
	if state.MainDraws < main.Draws() {
		return fmt.Errorf("restore: main stream at %d draws, state at %d", main.Draws(), state.MainDraws)
	}

	main.Skip(state.MainDraws - main.Draws())
	s.global = state.GlobalModel.Clone()
	s.history = append([]sim.RoundMetrics(nil), state.History...)
	for id, m := range state.ClientModels {
		s.clients[id].PushLocal(m.Clone())
	}
	clusterModels := make([]sim.ModelWeights, len(state.ClusterModels))
	for i, m := range state.ClusterModels {
		clusterModels[i] = m.Clone()
	}
	s.simCtx.ClusterModels.Set(clusterModels, state.ClusterMembers)
	if state.RunID != "" {
		s.runID = state.RunID
	}
	return nil
}
