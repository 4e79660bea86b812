// Package batch decides, for every (model, video) pair, what still has to
// be done and drives the annotation pipeline and the indicator renderer to
// get there. Outputs double as the cache: a pair whose artifacts are all on
// disk is never touched again.
package batch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/models"
)

const (
	sidecarExt      = ".json"
	indicatedSuffix = "_indicated"
	barSuffix       = "_bar.png"
)

// Video is a discovered input video.
type Video struct {
	Path string
	// RelDir is the directory of Path relative to the video root, "." at
	// the top level.
	RelDir string
}

// DiscoverVideos lists the videos under root in walk order.
func DiscoverVideos(root string) ([]Video, error) {
	paths, err := fsutil.ListFiles(root, fsutil.VideoExts...)
	if err != nil {
		return nil, err
	}
	videos := make([]Video, len(paths))
	for i, p := range paths {
		videos[i] = Video{Path: p, RelDir: fsutil.RelDir(p, root)}
	}
	return videos, nil
}

// Artifacts are the output paths of one (model, video) pair.
type Artifacts struct {
	Dir       string
	Video     string
	Sidecar   string
	Indicated string
	Bar       string
}

// Layout computes the artifacts of model applied to video under
// outputRoot. outputExt replaces the source extension when set.
func Layout(outputRoot string, video Video, model models.Descriptor, outputExt string) Artifacts {
	videoStem := fsutil.Stem(video.Path)
	modelStem := model.Name
	if modelStem == "" {
		modelStem = fsutil.Stem(model.WeightsPath)
	}

	ext := outputExt
	if ext == "" {
		ext = filepath.Ext(video.Path)
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	rel := video.RelDir
	if rel == "" {
		rel = "."
	}
	dir := filepath.Join(outputRoot, rel, videoStem, modelStem)
	base := filepath.Join(dir, modelStem+"_"+videoStem)
	return Artifacts{
		Dir:       dir,
		Video:     base + ext,
		Sidecar:   base + sidecarExt,
		Indicated: base + indicatedSuffix + ext,
		Bar:       base + barSuffix,
	}
}

// Probe records which artifacts exist.
type Probe struct {
	Video     bool
	Sidecar   bool
	Indicated bool
}

// Inspect checks the filesystem for art. It never writes.
func Inspect(art Artifacts) Probe {
	return Probe{
		Video:     fsutil.FileExists(art.Video),
		Sidecar:   fsutil.FileExists(art.Sidecar),
		Indicated: fsutil.FileExists(art.Indicated),
	}
}

// State is the completion state of a pair.
type State int

const (
	// Missing: nothing usable exists.
	Missing State = iota
	// Partial: an annotated video without its sidecar, left by an
	// interrupted run.
	Partial
	// Orphaned: a sidecar whose videos are gone. The indicator cannot run
	// without the annotated video.
	Orphaned
	// CompleteUnindicated: annotation finished, indicator video missing.
	CompleteUnindicated
	// Complete: nothing left to do.
	Complete
)

var stateNames = [...]string{
	Missing:             "missing",
	Partial:             "partial",
	Orphaned:            "orphaned",
	CompleteUnindicated: "unindicated",
	Complete:            "complete",
}

func (s State) String() string {
	if s < Missing || s > Complete {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Classify derives the state from a probe. The sidecar is the commit
// marker of annotation and the indicated video the commit marker of the
// overlay.
func Classify(p Probe) State {
	switch {
	case p.Sidecar && p.Indicated:
		return Complete
	case p.Sidecar && p.Video:
		return CompleteUnindicated
	case p.Sidecar:
		return Orphaned
	case p.Video:
		return Partial
	default:
		return Missing
	}
}

// PairStatus is the state of one pair, as shown by status listings.
type PairStatus struct {
	Model     string
	Video     string
	State     State
	Artifacts Artifacts
}
