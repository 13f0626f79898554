// Package sink receives per-round experiment metrics: in memory, as JSON
// lines, or as Prometheus gauges.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fedsim/fedsim/sim"
)

// RoundSink consumes one RoundMetrics per completed round, in round order.
type RoundSink interface {
	Emit(m sim.RoundMetrics) error
}

// Recorder keeps every emitted round in memory.
type Recorder struct {
	Rounds []sim.RoundMetrics
}

func (r *Recorder) Emit(m sim.RoundMetrics) error {
	r.Rounds = append(r.Rounds, m)
	return nil
}

// JSONLines writes each round as one JSON object per line.
type JSONLines struct {
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Emit(m sim.RoundMetrics) error {
	if err := j.enc.Encode(m); err != nil {
		return fmt.Errorf("writing round %d: %w", m.Round, err)
	}
	return nil
}

// Multi fans each round out to every sink, continuing past failures and
// returning them joined.
type Multi []RoundSink

func (ms Multi) Emit(m sim.RoundMetrics) error {
	var errs []error
	for _, s := range ms {
		if err := s.Emit(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
