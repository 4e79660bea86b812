package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/models"
)

const outputSuffix = "_out"

var errSameRoot = errors.New("input root cannot be the same as output root")

type inputs struct {
	VideoRoot  string
	OutputRoot string
	Videos     []batch.Video
	Models     []models.Descriptor
}

// resolveInputs expands the -i/-m/-o flags. A video file's root is its
// directory; the output root defaults to the video root plus "_out".
func resolveInputs(in, model, out string) (*inputs, error) {
	if strings.TrimSpace(in) == "" {
		return nil, errors.New("input path is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("model path is required")
	}

	in = filepath.Clean(in)
	info, err := os.Stat(in)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", in, err)
	}
	root := in
	if !info.IsDir() {
		root = filepath.Dir(in)
	}

	outRoot := out
	if outRoot == "" {
		outRoot = root + outputSuffix
	}
	outRoot = filepath.Clean(outRoot)
	if fsutil.SameDir(root, outRoot) {
		return nil, errSameRoot
	}

	videos, err := batch.DiscoverVideos(in)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	descs, err := models.Scan(filepath.Clean(model))
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	return &inputs{
		VideoRoot:  root,
		OutputRoot: outRoot,
		Videos:     videos,
		Models:     descs,
	}, nil
}
