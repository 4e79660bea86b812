// Package models discovers segmentation models on disk and holds the
// shared selection state used by the daemon and the web API.
package models

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/framemark/framemark-agent/internal/fsutil"
)

var (
	WeightsExts = []string{".pth", ".pkl"}
	ConfigExts  = []string{".yaml", ".yml"}
)

// ErrNoConfig is returned when a model has no config file next to its weights.
var ErrNoConfig = errors.New("model has no config file")

// Descriptor identifies one model: a weights file plus the config that
// describes its architecture.
type Descriptor struct {
	ID          int
	Name        string
	WeightsPath string
	ConfigPath  string
	Dir         string
}

// HasConfig reports whether the descriptor can be loaded.
func (d Descriptor) HasConfig() bool {
	return d.ConfigPath != ""
}

// Active filters out descriptors lacking a config.
func Active(descs []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if d.HasConfig() {
			out = append(out, d)
		}
	}
	return out
}

// Usable keeps the models a batch can run: a config is present and
// parses.
func Usable(descs []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if !d.HasConfig() {
			continue
		}
		if _, err := LoadConfig(d.ConfigPath); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Scan resolves a weights file or a folder of weights into descriptors.
// Each weights file found is its own model; its config is the first
// config file in the same directory and may be missing.
func Scan(path string) ([]Descriptor, error) {
	weights, err := fsutil.ListFiles(path, WeightsExts...)
	if err != nil {
		return nil, err
	}

	descs := make([]Descriptor, 0, len(weights))
	for i, w := range weights {
		dir := filepath.Dir(w)
		cfg, err := fsutil.FirstFile(dir, ConfigExts...)
		if err != nil {
			return nil, err
		}
		descs = append(descs, Descriptor{
			ID:          i,
			Name:        fsutil.Stem(w),
			WeightsPath: w,
			ConfigPath:  cfg,
			Dir:         dir,
		})
	}
	return descs, nil
}

// Discover reads a models root laid out as one subdirectory per model.
// Subdirectories without both a weights file and a config are left out.
// IDs follow subdirectory order, so a skipped folder leaves a gap.
func Discover(root string, logger *slog.Logger) ([]Descriptor, error) {
	dirs, err := fsutil.Subdirs(root)
	if err != nil {
		return nil, fmt.Errorf("discover models: %w", err)
	}

	var descs []Descriptor
	for i, dir := range dirs {
		weights, err := fsutil.ListFiles(dir, WeightsExts...)
		if err != nil {
			return nil, err
		}
		configs, err := fsutil.ListFiles(dir, ConfigExts...)
		if err != nil {
			return nil, err
		}
		if len(weights) == 0 || len(configs) == 0 {
			if logger != nil {
				logger.Warn("skipping model folder",
					"dir", dir, "weights", len(weights), "configs", len(configs))
			}
			continue
		}
		descs = append(descs, Descriptor{
			ID:          i,
			Name:        fsutil.Stem(weights[0]),
			WeightsPath: weights[0],
			ConfigPath:  configs[0],
			Dir:         dir,
		})
	}

	if logger != nil {
		logger.Info("discovered models", "root", root, "count", len(descs))
	}
	return descs, nil
}
