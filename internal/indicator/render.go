package indicator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fogleman/gg"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/videoio"
)

// Paths are the files the renderer reads and writes.
type Paths struct {
	Video     string // annotated video, read
	Sidecar   string // results sidecar, read
	Indicated string // video with strip, written
	Bar       string // strip image, written when set
}

// Options tune a Renderer.
type Options struct {
	BarHeight int
	Style     Style
	Progress  annotate.Progress
}

// Renderer produces indicated videos. It never runs inference.
type Renderer struct {
	backend videoio.Backend
	opts    Options
	logger  *slog.Logger
}

// NewRenderer creates a Renderer over backend.
func NewRenderer(backend videoio.Backend, opts Options, logger *slog.Logger) *Renderer {
	if opts.BarHeight <= 0 {
		opts.BarHeight = DefaultBarHeight
	}
	if opts.Style == "" {
		opts.Style = StyleBand
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Renderer{backend: backend, opts: opts, logger: logger}
}

// Render writes p.Indicated from p.Video and p.Sidecar. Frames go to a
// partial file that is renamed once the encoder finished, so the
// indicated video only ever exists complete.
func (r *Renderer) Render(ctx context.Context, p Paths) error {
	start := time.Now()

	results, err := annotate.ReadResults(p.Sidecar)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	avgs := Averages(results)

	info, err := r.backend.Probe(ctx, p.Video)
	if err != nil {
		return fmt.Errorf("probe annotated video: %w", err)
	}

	strip := RenderStrip(avgs, info.Width, r.opts.BarHeight, r.opts.Style)
	if p.Bar != "" {
		if err := gg.SavePNG(p.Bar, strip); err != nil {
			return fmt.Errorf("save bar: %w", err)
		}
	}

	reader, err := r.backend.OpenReader(ctx, p.Video, info)
	if err != nil {
		return fmt.Errorf("open annotated video: %w", err)
	}
	defer reader.Close()

	partial := PartialPath(p.Indicated)
	writer, err := r.backend.OpenWriter(ctx, partial, videoio.WriterOptions{
		Width:  info.Width,
		Height: info.Height + r.opts.BarHeight,
		FPS:    info.FPS,
	})
	if err != nil {
		return fmt.Errorf("open indicated video: %w", err)
	}
	committed := false
	writerOpen := true
	defer func() {
		if writerOpen {
			writer.Close()
		}
		if !committed {
			os.Remove(partial)
		}
	}()

	total := results.NumFrames
	if total <= 0 {
		total = info.NumFrames
	}
	if r.opts.Progress != nil {
		r.opts.Progress.Begin("indicator", total)
		defer r.opts.Progress.End()
	}

	var out *image.RGBA
	i := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", i, err)
		}
		out = Compose(out, frame, strip, i, total)
		if err := writer.WriteFrame(out); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		if r.opts.Progress != nil {
			r.opts.Progress.Advance()
		}
		i++
	}
	if i == 0 {
		return annotate.ErrNoFrames
	}

	writerOpen = false
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish indicated video: %w", err)
	}
	if err := os.Rename(partial, p.Indicated); err != nil {
		return fmt.Errorf("commit indicated video: %w", err)
	}
	committed = true

	r.logger.Info("indicator video written",
		"output", filepath.Base(p.Indicated),
		"frames", i,
		"flagged_frames", countFlagged(avgs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// PartialPath is where an indicated video is written before it is
// committed.
func PartialPath(indicated string) string {
	return fsutil.WithSuffix(indicated, ".partial")
}

func countFlagged(avgs []float64) int {
	n := 0
	for _, a := range avgs {
		if BucketFor(a) != None {
			n++
		}
	}
	return n
}
