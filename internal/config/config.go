// Package config holds the YAML run configuration of the ctceval command.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/labels"
	"github.com/ieee0824/ctceval/language"
)

// Decoder names.
const (
	DecoderGreedy = "greedy"
	DecoderBeam   = "beam"
)

// Config is a complete evaluation run configuration.
type Config struct {
	// Labels is the path of the label file (JSON array or YAML list).
	Labels string `yaml:"labels"`
	// Blank is the blank label.
	Blank string `yaml:"blank,omitempty"`

	// Decoder is "greedy" or "beam".
	Decoder string `yaml:"decoder"`
	Beam    Beam   `yaml:"beam"`
	LM      LM     `yaml:"lm,omitempty"`

	// BatchSize is the number of dump records per batch.
	BatchSize int `yaml:"batch_size"`
	// Prefetch is the number of batches read ahead of scoring.
	Prefetch int `yaml:"prefetch"`
	// NoSpaceCER scores characters with spaces removed.
	NoSpaceCER bool `yaml:"no_space_cer,omitempty"`

	Output Output `yaml:"output,omitempty"`
}

// Beam holds the beam search parameters.
type Beam struct {
	Width int `yaml:"width"`
	// CutoffTopN of 0 expands up to decoder.DefaultTopN labels, capped by the label count.
	CutoffTopN int     `yaml:"cutoff_top_n,omitempty"`
	CutoffProb float64 `yaml:"cutoff_prob"`
	Workers    int     `yaml:"workers"`
}

// LM configures optional language model rescoring.
type LM struct {
	// Path is an ARPA file. Empty disables rescoring.
	Path  string  `yaml:"path,omitempty"`
	Alpha float64 `yaml:"alpha,omitempty"`
	Beta  float64 `yaml:"beta,omitempty"`
	// OOVLog10 is the log10 floor for unseen words; 0 keeps them at zero probability.
	// Defaults to language.DefaultOOVLog10.
	OOVLog10 float64 `yaml:"oov_log10"`
}

// Output configures where decoded samples are saved.
type Output struct {
	// File is a msgpack dump file.
	File string `yaml:"file,omitempty"`
	// Badger is a BadgerDB directory.
	Badger string `yaml:"badger,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	bc := decoder.DefaultBeamConfig(0)
	return &Config{
		Blank:   labels.DefaultBlank,
		Decoder: DecoderGreedy,
		Beam: Beam{
			Width:      bc.BeamWidth,
			CutoffProb: bc.CutoffProb,
			Workers:    bc.NumWorkers,
		},
		LM:        LM{Alpha: 0.8, Beta: 1.0, OOVLog10: language.DefaultOOVLog10},
		BatchSize: 20,
		Prefetch:  2,
	}
}

// Parse reads a YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Validate checks values that do not depend on the label set. Beam limits
// relative to the label count are checked by decoder.NewBeamSearch.
func (c *Config) Validate() error {
	var errs []error
	switch c.Decoder {
	case DecoderGreedy, DecoderBeam:
	default:
		errs = append(errs, fmt.Errorf("unknown decoder %q", c.Decoder))
	}
	if c.Blank == "" {
		errs = append(errs, errors.New("blank label is empty"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size %d < 1", c.BatchSize))
	}
	if c.Prefetch < 0 {
		errs = append(errs, fmt.Errorf("prefetch %d < 0", c.Prefetch))
	}
	if c.Decoder == DecoderBeam {
		if c.Beam.Width < 1 {
			errs = append(errs, fmt.Errorf("beam.width %d < 1", c.Beam.Width))
		}
		if c.Beam.CutoffTopN < 0 {
			errs = append(errs, fmt.Errorf("beam.cutoff_top_n %d < 0", c.Beam.CutoffTopN))
		}
		if c.Beam.CutoffProb < 0 || c.Beam.CutoffProb > 1 {
			errs = append(errs, fmt.Errorf("beam.cutoff_prob %g outside [0, 1]", c.Beam.CutoffProb))
		}
		if c.Beam.Workers < 1 {
			errs = append(errs, fmt.Errorf("beam.workers %d < 1", c.Beam.Workers))
		}
	}
	if c.LM.Path != "" && c.Decoder != DecoderBeam {
		errs = append(errs, errors.New("lm.path requires the beam decoder"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BeamConfig converts the beam section for a set of numLabels labels,
// without a language model.
func (c *Config) BeamConfig(numLabels int) decoder.BeamConfig {
	topN := c.Beam.CutoffTopN
	if topN == 0 {
		topN = min(decoder.DefaultTopN, numLabels)
	}
	return decoder.BeamConfig{
		BeamWidth:  c.Beam.Width,
		CutoffTopN: topN,
		CutoffProb: c.Beam.CutoffProb,
		NumWorkers: c.Beam.Workers,
		LM:         decoder.NoLanguageModel{},
	}
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
