package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/config"
	"github.com/framemark/framemark-agent/internal/indicator"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/predictor"
	"github.com/framemark/framemark-agent/internal/videoio"
)

// renderFlags override the render section of the configuration.
type renderFlags struct {
	maxFrames int
	outputExt string
	barHeight int
	style     string
}

type stack struct {
	backend    *videoio.FFmpeg
	factory    *predictor.WorkerFactory
	pipeline   *annotate.Pipeline
	renderer   *indicator.Renderer
	controller *batch.Controller
}

func workerConfig(cfg config.Config, logger *slog.Logger) predictor.WorkerConfig {
	wc := predictor.DefaultWorkerConfig(logger)
	wc.PythonPath = cfg.PredictorPython()
	wc.ModuleName = cfg.PredictorModule()
	wc.LoadTimeout = cfg.PredictorTimeoutLoad()
	wc.DoctorTimeout = cfg.PredictorTimeoutDoctor()
	wc.ScoreThreshold = cfg.ScoreThreshold()
	return wc
}

// newStack wires the video backend, predictor and batch controller.
// Progress bars are only drawn when interactive is set and stderr is a
// terminal.
func newStack(cfg config.Config, flags renderFlags, interactive bool, logger *slog.Logger) (*stack, error) {
	backend, err := videoio.NewFFmpeg(logger)
	if err != nil {
		return nil, err
	}

	maxFrames := cfg.MaxFrames()
	if flags.maxFrames > 0 {
		maxFrames = flags.maxFrames
	}
	outputExt := cfg.OutputExt()
	if flags.outputExt != "" {
		outputExt = flags.outputExt
	}
	barHeight := cfg.BarHeight()
	if flags.barHeight > 0 {
		barHeight = flags.barHeight
	}
	style := indicator.Style(cfg.StripStyle())
	if flags.style != "" {
		style = indicator.Style(flags.style)
	}
	if style != indicator.StyleBand && style != indicator.StyleArea {
		return nil, fmt.Errorf("invalid strip style %q: want band or area", style)
	}

	var progress annotate.Progress
	if interactive && logging.IsTerminal(os.Stderr) {
		progress = newBarProgress(os.Stderr)
	}

	factory := predictor.NewWorkerFactory(workerConfig(cfg, logger))
	pipeline := annotate.New(backend, annotate.Options{MaxFrames: maxFrames, Progress: progress}, logger)
	renderer := indicator.NewRenderer(backend, indicator.Options{
		BarHeight: barHeight,
		Style:     style,
		Progress:  progress,
	}, logger)

	return &stack{
		backend:  backend,
		factory:  factory,
		pipeline: pipeline,
		renderer: renderer,
		controller: batch.New(batch.Config{
			Factory:   factory,
			Pipeline:  pipeline,
			Renderer:  renderer,
			OutputExt: outputExt,
			Logger:    logger,
		}),
	}, nil
}
