// Package data provides the reference DataPartitionProvider: a synthetic
// classification task of Gaussian class blobs, partitioned across clients
// either IID or with per-client label skew and covariate shift.
package data

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec describes the synthetic task. Loaded from the `data:` section of an
// experiment file.
type Spec struct {
	Features int `yaml:"features"`
	Classes  int `yaml:"classes"`

	// ClassSeparation scales the random class centres.
	ClassSeparation float64 `yaml:"class_separation"`
	// Spread is the per-feature standard deviation around a class centre.
	Spread float64 `yaml:"spread"`
	// TestSamples is the size of each client's held-out split.
	TestSamples int `yaml:"test_samples"`

	// Non-IID knobs, ignored for IID partitions.
	LabelSkew        float64 `yaml:"label_skew"`         // probability a sample comes from the client's dominant classes
	ClassesPerClient int     `yaml:"classes_per_client"` // number of dominant classes
	FeatureShift     float64 `yaml:"feature_shift"`      // stddev of the per-client input offset
	ClientGroups     int     `yaml:"client_groups"`      // clients sharing a group share dominant classes and shift; 0 = one group per client
}

// DefaultSpec returns a small 4-class problem.
func DefaultSpec() Spec {
	return Spec{
		Features:         8,
		Classes:          4,
		ClassSeparation:  3.0,
		Spread:           1.0,
		TestSamples:      50,
		LabelSkew:        0.8,
		ClassesPerClient: 2,
		FeatureShift:     0.5,
		ClientGroups:     2,
	}
}

// LoadSpec reads a Spec from YAML over DefaultSpec. Unknown fields are errors.
func LoadSpec(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("reading data spec: %w", err)
	}
	spec := DefaultSpec()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("parsing data spec: %w", err)
	}
	return spec, nil
}

// Validate checks ranges.
func (s *Spec) Validate() error {
	if s.Features < 1 {
		return fmt.Errorf("features must be >= 1, got %d", s.Features)
	}
	if s.Classes < 2 {
		return fmt.Errorf("classes must be >= 2, got %d", s.Classes)
	}
	if err := validateFiniteNonNegative("class_separation", s.ClassSeparation); err != nil {
		return err
	}
	if err := validateFiniteNonNegative("spread", s.Spread); err != nil {
		return err
	}
	if s.TestSamples < 0 {
		return fmt.Errorf("test_samples must be non-negative, got %d", s.TestSamples)
	}
	if s.LabelSkew < 0 || s.LabelSkew > 1 {
		return fmt.Errorf("label_skew must be in [0, 1], got %f", s.LabelSkew)
	}
	if s.ClassesPerClient < 1 || s.ClassesPerClient > s.Classes {
		return fmt.Errorf("classes_per_client must be in [1, %d], got %d", s.Classes, s.ClassesPerClient)
	}
	if err := validateFiniteNonNegative("feature_shift", s.FeatureShift); err != nil {
		return err
	}
	if s.ClientGroups < 0 {
		return fmt.Errorf("client_groups must be non-negative, got %d", s.ClientGroups)
	}
	return nil
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
		return fmt.Errorf("%s must be a finite non-negative number, got %f", name, val)
	}
	return nil
}
