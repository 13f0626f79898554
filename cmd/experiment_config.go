package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fedsim/fedsim/sim"
	"github.com/fedsim/fedsim/sim/data"
)

// ExperimentConfig is the experiment file layout. Both sections are optional;
// absent fields keep their defaults.
type ExperimentConfig struct {
	Server sim.ServerConfig `yaml:"server"`
	Data   data.Spec        `yaml:"data"`
}

// DefaultExperimentConfig returns the configuration used without --config.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Server: sim.DefaultServerConfig(),
		Data:   data.DefaultSpec(),
	}
}

// loadExperimentConfig parses an experiment file over the defaults.
// Uses strict field checking: typos are errors. An empty file yields the
// defaults.
func loadExperimentConfig(path string) (ExperimentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExperimentConfig{}, fmt.Errorf("reading experiment config: %w", err)
	}
	cfg := DefaultExperimentConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ExperimentConfig{}, fmt.Errorf("parsing experiment config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks both sections.
func (c *ExperimentConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Data.Validate(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return nil
}
