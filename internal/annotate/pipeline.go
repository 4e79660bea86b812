// Package annotate runs a predictor over every frame of a video. It writes
// the annotated video as frames go by and the results sidecar once the
// whole video went through, so the sidecar marks a finished video.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/predictor"
	"github.com/framemark/framemark-agent/internal/videoio"
)

// ErrNoFrames is returned when a video yields no decodable frame.
var ErrNoFrames = errors.New("no frames decoded")

// Progress receives frame-level progress. Implementations must tolerate
// a total of zero when the frame count is unknown.
type Progress interface {
	Begin(label string, total int)
	Advance()
	End()
}

// Options tune a Pipeline.
type Options struct {
	// MaxFrames stops after this many frames. Zero processes everything.
	MaxFrames int
	Progress  Progress
}

// Outputs names the files a run produces.
type Outputs struct {
	Video   string
	Sidecar string
}

// Result summarises a processed video.
type Result struct {
	Width     int
	Height    int
	NumFrames int // value written to the sidecar
	Processed int // frames actually run through the predictor
	Predicted int // frames with at least one detection
	Duration  time.Duration
}

// Pipeline is the per-video frame loop.
type Pipeline struct {
	backend videoio.Backend
	opts    Options
	logger  *slog.Logger
}

// New creates a Pipeline reading and writing through backend.
func New(backend videoio.Backend, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{backend: backend, opts: opts, logger: logger}
}

// Process annotates src into out. The sidecar is only written when every
// frame was read, predicted and encoded, and the encoder closed cleanly.
func (p *Pipeline) Process(ctx context.Context, src string, out Outputs, pred predictor.Predictor, vis predictor.Visualizer) (Result, error) {
	start := time.Now()
	log := p.logger.With("video", filepath.Base(src))

	info, err := p.backend.Probe(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}

	reader, err := p.backend.OpenReader(ctx, src, info)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer reader.Close()

	writer, err := p.backend.OpenWriter(ctx, out.Video, videoio.WriterOptions{
		Width:  info.Width,
		Height: info.Height,
		FPS:    info.FPS,
	})
	if err != nil {
		return Result{}, fmt.Errorf("open output: %w", err)
	}
	writerOpen := true
	defer func() {
		if writerOpen {
			writer.Close()
		}
	}()

	total := info.NumFrames
	if p.opts.MaxFrames > 0 && (total == 0 || p.opts.MaxFrames < total) {
		total = p.opts.MaxFrames
	}
	if p.opts.Progress != nil {
		p.opts.Progress.Begin(filepath.Base(src), total)
		defer p.opts.Progress.End()
	}

	predictions := make(map[string]FramePrediction)
	capped := false
	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read frame %d: %w", idx, err)
		}

		t0 := time.Now()
		dets, err := pred.Predict(ctx, frame)
		if err != nil {
			return Result{}, fmt.Errorf("predict frame %d: %w", idx, err)
		}
		log.Debug("frame predicted", "frame", idx, "detections", len(dets),
			"prediction_ms", time.Since(t0).Milliseconds())

		if len(dets) > 0 {
			predictions[strconv.Itoa(idx)] = toFramePrediction(dets)
		}

		annotated := frame
		if vis != nil {
			annotated = vis.Draw(frame, dets)
		}
		if err := writer.WriteFrame(annotated); err != nil {
			return Result{}, fmt.Errorf("write frame %d: %w", idx, err)
		}
		if p.opts.Progress != nil {
			p.opts.Progress.Advance()
		}

		idx++
		if p.opts.MaxFrames > 0 && idx >= p.opts.MaxFrames {
			capped = true
			break
		}
		// Containers may carry more frames than they report; the
		// reported count bounds the loop.
		if info.NumFrames > 0 && idx > info.NumFrames {
			break
		}
	}

	if idx == 0 {
		return Result{}, ErrNoFrames
	}

	writerOpen = false
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("finish output: %w", err)
	}

	numFrames := info.NumFrames
	if capped || numFrames <= 0 {
		numFrames = idx
	}
	results := &Results{
		Height:      info.Height,
		Width:       info.Width,
		NumFrames:   numFrames,
		Predictions: predictions,
	}
	if err := WriteResults(out.Sidecar, results); err != nil {
		return Result{}, fmt.Errorf("write sidecar: %w", err)
	}

	res := Result{
		Width:     info.Width,
		Height:    info.Height,
		NumFrames: numFrames,
		Processed: idx,
		Predicted: len(predictions),
		Duration:  time.Since(start),
	}
	log.Info("video annotated",
		"frames", res.Processed,
		"frames_with_detections", res.Predicted,
		"duration_ms", res.Duration.Milliseconds(),
		"sidecar", filepath.Base(out.Sidecar),
	)
	return res, nil
}

func toFramePrediction(dets []predictor.Detection) FramePrediction {
	fp := FramePrediction{
		NumPredictions: len(dets),
		Scores:         make([]float64, len(dets)),
		PredClasses:    make([]int, len(dets)),
		PredBoxes:      make([][4]float64, len(dets)),
	}
	for i, d := range dets {
		fp.Scores[i] = d.Score
		fp.PredClasses[i] = d.Class
		fp.PredBoxes[i] = d.Box
	}
	return fp
}
