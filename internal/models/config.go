package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultScoreThreshold is the detection confidence floor handed to the
// inference backend. It replaces SCORE_THRESH_TEST from the model config,
// so every model's scores are recorded against the same floor.
const DefaultScoreThreshold = 0.5

// Config is the subset of a model's YAML config the agent reads. The
// rest of the file is consumed by the inference backend.
type Config struct {
	Datasets struct {
		Train []string `yaml:"TRAIN"`
	} `yaml:"DATASETS"`
	Model struct {
		ROIHeads struct {
			ScoreThreshTest *float64 `yaml:"SCORE_THRESH_TEST"`
			NumClasses      int      `yaml:"NUM_CLASSES"`
		} `yaml:"ROI_HEADS"`
	} `yaml:"MODEL"`
}

// LoadConfig parses the model config at path.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, ErrNoConfig
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config %s: %w", path, err)
	}
	return &cfg, nil
}

// Dataset returns the first training dataset name, used for class labels.
func (c *Config) Dataset() string {
	if len(c.Datasets.Train) == 0 {
		return ""
	}
	return c.Datasets.Train[0]
}

// FileScoreThreshold returns SCORE_THRESH_TEST as written in the config.
// It is reported for diagnostics only; the backend always runs with the
// agent's own threshold.
func (c *Config) FileScoreThreshold() (float64, bool) {
	if t := c.Model.ROIHeads.ScoreThreshTest; t != nil {
		return *t, true
	}
	return 0, false
}

func (c *Config) NumClasses() int {
	return c.Model.ROIHeads.NumClasses
}
