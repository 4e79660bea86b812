package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/indicator"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/predictor"
)

var (
	// ErrNoInput is wrapped by every empty-input error.
	ErrNoInput  = errors.New("nothing to process")
	ErrNoVideos = fmt.Errorf("%w: no videos found", ErrNoInput)
	ErrNoModels = fmt.Errorf("%w: no models found", ErrNoInput)
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) (bool, error)

func (f ConfirmFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// Request describes one batch.
type Request struct {
	Videos     []Video
	Models     []models.Descriptor
	OutputRoot string
	// ConfirmOverwrite asks Confirm whether to wipe OutputRoot first.
	ConfirmOverwrite bool
	Confirm          Confirmer
	// Skip leaves a pair untouched when it returns true. Skipped pairs are
	// not counted.
	Skip func(model models.Descriptor, video Video) bool
}

// Failure records a pair that failed, or a model that could not be used
// when Video is empty.
type Failure struct {
	Model string `json:"model"`
	Video string `json:"video,omitempty"`
	Error string `json:"error"`
}

// Summary counts what a batch did.
type Summary struct {
	Processed     int       `json:"processed"` // pairs annotated
	Indicated     int       `json:"indicated"` // indicator videos written
	Skipped       int       `json:"skipped"`   // pairs already complete
	Repaired      int       `json:"repaired"`  // stale artifacts purged
	Failed        int       `json:"failed"`
	SkippedModels []string  `json:"skipped_models,omitempty"`
	Failures      []Failure `json:"failures,omitempty"`
}

// Config wires a Controller.
type Config struct {
	Factory   predictor.Factory
	Pipeline  *annotate.Pipeline
	Renderer  *indicator.Renderer
	OutputExt string
	Logger    *slog.Logger
}

// Controller runs batches. It holds no per-batch state and may be shared,
// but batches writing to the same output root must not overlap.
type Controller struct {
	factory   predictor.Factory
	pipeline  *annotate.Pipeline
	renderer  *indicator.Renderer
	outputExt string
	logger    *slog.Logger
}

// New creates a Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		factory:   cfg.Factory,
		pipeline:  cfg.Pipeline,
		renderer:  cfg.Renderer,
		outputExt: cfg.OutputExt,
		logger:    logging.WithComponent(logger, "batch"),
	}
}

// Layout computes the artifacts of a pair with the controller's output
// extension.
func (c *Controller) Layout(outputRoot string, video Video, model models.Descriptor) Artifacts {
	return Layout(outputRoot, video, model, c.outputExt)
}

// HasPendingWork reports whether any pair would be worked on by Run. It
// only reads the filesystem. Models Run would skip (no config, or one that
// does not parse) are ignored.
func (c *Controller) HasPendingWork(outputRoot string, videos []Video, descs []models.Descriptor) bool {
	return len(c.Pending(outputRoot, videos, descs)) > 0
}

// Pending returns the pairs of usable models that are not Complete.
func (c *Controller) Pending(outputRoot string, videos []Video, descs []models.Descriptor) []PairStatus {
	if len(videos) == 0 || len(descs) == 0 {
		return nil
	}
	var out []PairStatus
	for _, m := range models.Usable(descs) {
		for _, v := range videos {
			art := c.Layout(outputRoot, v, m)
			if state := Classify(Inspect(art)); state != Complete {
				out = append(out, PairStatus{Model: m.Name, Video: v.Path, State: state, Artifacts: art})
			}
		}
	}
	return out
}

// Status returns the state of every pair, models outer.
func (c *Controller) Status(outputRoot string, videos []Video, descs []models.Descriptor) []PairStatus {
	out := make([]PairStatus, 0, len(videos)*len(descs))
	for _, m := range descs {
		for _, v := range videos {
			art := c.Layout(outputRoot, v, m)
			out = append(out, PairStatus{
				Model:     m.Name,
				Video:     v.Path,
				State:     Classify(Inspect(art)),
				Artifacts: art,
			})
		}
	}
	return out
}

// Run processes every pair in req, models outer and videos inner. A pair
// failure is logged and counted; the batch goes on. Run returns early only
// for empty inputs, an unusable output root or a cancelled context.
func (c *Controller) Run(ctx context.Context, req Request) (Summary, error) {
	var sum Summary
	if len(req.Videos) == 0 {
		return sum, ErrNoVideos
	}
	if len(req.Models) == 0 {
		return sum, ErrNoModels
	}

	if req.ConfirmOverwrite && fsutil.DirExists(req.OutputRoot) {
		if err := c.confirmOverwrite(req); err != nil {
			return sum, err
		}
	}
	if err := fsutil.EnsureDir(req.OutputRoot); err != nil {
		return sum, fmt.Errorf("output root: %w", err)
	}

	start := time.Now()
	c.logger.Info("batch started",
		"videos", len(req.Videos),
		"models", len(req.Models),
		"output_root", logging.SanitizePath(req.OutputRoot),
	)

	for _, m := range req.Models {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := c.runModel(ctx, req, m, &sum); err != nil {
			return sum, err
		}
	}

	c.logger.Info("batch finished",
		"processed", sum.Processed,
		"indicated", sum.Indicated,
		"skipped", sum.Skipped,
		"repaired", sum.Repaired,
		"failed", sum.Failed,
		"skipped_models", len(sum.SkippedModels),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

func (c *Controller) confirmOverwrite(req Request) error {
	yes := false
	if req.Confirm != nil {
		var err error
		yes, err = req.Confirm.Confirm(fmt.Sprintf("Output directory %s exists. Delete it and start over?", req.OutputRoot))
		if err != nil {
			return fmt.Errorf("confirm overwrite: %w", err)
		}
	}
	if !yes {
		c.logger.Info("keeping existing outputs, finished pairs will be skipped")
		return nil
	}
	c.logger.Warn("deleting output root", "output_root", logging.SanitizePath(req.OutputRoot))
	if err := fsutil.RemoveDir(req.OutputRoot); err != nil {
		return fmt.Errorf("delete output root: %w", err)
	}
	return nil
}

// runModel processes every video with one model. The predictor is loaded
// on the first pair that needs inference and closed when the loop ends.
// Only context cancellation is returned as an error.
func (c *Controller) runModel(ctx context.Context, req Request, m models.Descriptor, sum *Summary) error {
	log := logging.WithModel(c.logger, m.Name)

	if !m.HasConfig() {
		log.Warn("model skipped, no config file next to weights", "weights", logging.SanitizePath(m.WeightsPath))
		sum.SkippedModels = append(sum.SkippedModels, m.Name)
		return nil
	}
	cfg, err := models.LoadConfig(m.ConfigPath)
	if err != nil {
		log.Warn("model skipped, unreadable config", "error", err)
		sum.SkippedModels = append(sum.SkippedModels, m.Name)
		sum.Failures = append(sum.Failures, Failure{Model: m.Name, Error: err.Error()})
		return nil
	}
	log.Debug("model config", "dataset", cfg.Dataset(), "classes", cfg.NumClasses())

	lp := &lazyPredictor{factory: c.factory, desc: m}
	defer func() {
		if err := lp.Close(); err != nil {
			log.Warn("predictor close failed", "error", err)
		}
	}()

	for _, v := range req.Videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Skip != nil && req.Skip(m, v) {
			continue
		}
		art := c.Layout(req.OutputRoot, v, m)
		vlog := log.With("video", v.Path)

		err := c.processPair(ctx, art, v, lp, sum, vlog)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errLoad):
			log.Error("model skipped, predictor failed to load", "error", err)
			sum.SkippedModels = append(sum.SkippedModels, m.Name)
			sum.Failures = append(sum.Failures, Failure{Model: m.Name, Error: err.Error()})
			return nil
		default:
			vlog.Error("pair failed", "error", err)
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Model: m.Name, Video: v.Path, Error: err.Error()})
		}
	}
	return nil
}

var errLoad = errors.New("load predictor")

func (c *Controller) processPair(ctx context.Context, art Artifacts, v Video, lp *lazyPredictor, sum *Summary, log *slog.Logger) error {
	state := Classify(Inspect(art))
	log.Debug("pair state", "state", state.String())

	switch state {
	case Complete:
		sum.Skipped++
		return nil
	case CompleteUnindicated:
		if err := c.indicate(ctx, art); err != nil {
			return err
		}
		sum.Indicated++
		return nil
	case Partial, Orphaned:
		log.Info("purging stale artifacts", "state", state.String())
		sum.Repaired++
	}
	if err := purge(art); err != nil {
		return err
	}

	if err := fsutil.EnsureDir(art.Dir); err != nil {
		return err
	}
	loaded, err := lp.Get(ctx)
	if err != nil {
		return err
	}
	if _, err := c.pipeline.Process(ctx, v.Path, annotate.Outputs{Video: art.Video, Sidecar: art.Sidecar}, loaded.Predictor, loaded.Visualizer); err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	sum.Processed++

	if err := c.indicate(ctx, art); err != nil {
		return err
	}
	sum.Indicated++
	return nil
}

func (c *Controller) indicate(ctx context.Context, art Artifacts) error {
	err := c.renderer.Render(ctx, indicator.Paths{
		Video:     art.Video,
		Sidecar:   art.Sidecar,
		Indicated: art.Indicated,
		Bar:       art.Bar,
	})
	if err != nil {
		return fmt.Errorf("indicator: %w", err)
	}
	return nil
}

// purge removes every artifact of a pair that is about to be redone.
func purge(art Artifacts) error {
	for _, p := range []string{art.Video, art.Sidecar, art.Indicated, indicator.PartialPath(art.Indicated), art.Bar} {
		if err := fsutil.RemoveFile(p); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
	}
	return nil
}

type lazyPredictor struct {
	factory predictor.Factory
	desc    models.Descriptor
	loaded  *predictor.Loaded
}

func (l *lazyPredictor) Get(ctx context.Context) (*predictor.Loaded, error) {
	if l.loaded != nil {
		return l.loaded, nil
	}
	loaded, err := l.factory.Load(ctx, l.desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLoad, err)
	}
	l.loaded = loaded
	return loaded, nil
}

func (l *lazyPredictor) Close() error {
	return l.loaded.Close()
}
