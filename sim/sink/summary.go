package sink

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"

	"github.com/fedsim/fedsim/sim"
)

// ExperimentSummary condenses a run's history.
type ExperimentSummary struct {
	Rounds         int
	FinalLoss      float64
	FinalAccuracy  float64
	BestAccuracy   float64
	BestRound      int
	MeanClusters   float64 // over rounds whose clustering succeeded
	MeanSilhouette float64 // over rounds with a defined silhouette
	DegradedRounds int     // rounds without clustering output
}

// Summarize computes an ExperimentSummary. Safe for an empty history.
func Summarize(history []sim.RoundMetrics) ExperimentSummary {
	var s ExperimentSummary
	if len(history) == 0 {
		return s
	}
	s.Rounds = len(history)
	last := history[len(history)-1]
	s.FinalLoss = last.GlobalLoss
	s.FinalAccuracy = last.GlobalAccuracy

	var clusters, silhouettes []float64
	for _, m := range history {
		if m.GlobalAccuracy > s.BestAccuracy || s.BestRound == 0 {
			s.BestAccuracy = m.GlobalAccuracy
			s.BestRound = m.Round
		}
		if m.NumClusters() == 0 {
			s.DegradedRounds++
		} else {
			clusters = append(clusters, float64(m.NumClusters()))
		}
		if m.Silhouette != nil {
			silhouettes = append(silhouettes, *m.Silhouette)
		}
	}
	if len(clusters) > 0 {
		s.MeanClusters = stat.Mean(clusters, nil)
	}
	if len(silhouettes) > 0 {
		s.MeanSilhouette = stat.Mean(silhouettes, nil)
	}
	return s
}

// Print writes a human-readable summary to w.
func (s ExperimentSummary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Experiment Summary ===")
	fmt.Fprintf(w, "Rounds completed : %d\n", s.Rounds)
	fmt.Fprintf(w, "Final loss       : %.4f\n", s.FinalLoss)
	fmt.Fprintf(w, "Final accuracy   : %.4f\n", s.FinalAccuracy)
	fmt.Fprintf(w, "Best accuracy    : %.4f (round %d)\n", s.BestAccuracy, s.BestRound)
	fmt.Fprintf(w, "Mean clusters    : %.2f\n", s.MeanClusters)
	fmt.Fprintf(w, "Mean silhouette  : %.4f\n", s.MeanSilhouette)
	if s.DegradedRounds > 0 {
		fmt.Fprintf(w, "Degraded rounds  : %d\n", s.DegradedRounds)
	}
}
