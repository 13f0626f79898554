package trace

// TraceSummary aggregates statistics from an ExperimentTrace.
type TraceSummary struct {
	TotalAssignments   int
	SourceDistribution map[string]int // assignment source → count
	SampledCount       int
	MeanBlendWeight    float64
	MaxBlendWeight     float64
	OverriddenBlends   int
	FrozenSubmissions  int
	DegradedRounds     int
	ClusterChanges     int // rounds whose cluster count differs from the previous round
}

// Summarize computes aggregate statistics from an ExperimentTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(et *ExperimentTrace) *TraceSummary {
	summary := &TraceSummary{
		SourceDistribution: make(map[string]int),
	}
	if et == nil {
		return summary
	}

	summary.TotalAssignments = len(et.Assignments)
	for _, a := range et.Assignments {
		summary.SourceDistribution[a.Source]++
	}
	summary.SampledCount = summary.SourceDistribution["sampled"]

	if len(et.Blends) > 0 {
		total := 0.0
		for _, b := range et.Blends {
			total += b.PreviousWeight
			if b.PreviousWeight > summary.MaxBlendWeight {
				summary.MaxBlendWeight = b.PreviousWeight
			}
			if b.Overridden {
				summary.OverriddenBlends++
			}
			if b.Frozen {
				summary.FrozenSubmissions++
			}
		}
		summary.MeanBlendWeight = total / float64(len(et.Blends))
	}

	prev := -1
	for _, c := range et.Clusterings {
		if c.Error != "" {
			summary.DegradedRounds++
			continue
		}
		if prev >= 0 && c.Clusters != prev {
			summary.ClusterChanges++
		}
		prev = c.Clusters
	}

	return summary
}
