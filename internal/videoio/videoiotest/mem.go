// Package videoiotest provides an in-memory videoio.Backend for tests.
// Videos live in memory keyed by path; a small placeholder file naming
// that key is kept on disk so directory scans, existence probes and
// renames behave as with real files.
package videoiotest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/framemark/framemark-agent/internal/videoio"
)

// Backend is a concurrency-safe in-memory video store.
type Backend struct {
	mu     sync.Mutex
	videos map[string]*video

	// FailReadAt makes the reader of a path fail at the given frame index.
	FailReadAt map[string]int

	Reads  atomic.Int32
	Writes atomic.Int32
}

type video struct {
	info   videoio.Info
	frames []*image.RGBA
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		videos:     make(map[string]*video),
		FailReadAt: make(map[string]int),
	}
}

// AddVideo stores frames under path and writes a placeholder file.
func (b *Backend) AddVideo(path string, frames []*image.RGBA, fps float64) error {
	if len(frames) == 0 {
		return errors.New("videoiotest: no frames")
	}
	bounds := frames[0].Bounds()
	info := videoio.Info{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		FPS:       fps,
		NumFrames: len(frames),
	}
	b.mu.Lock()
	b.videos[path] = &video{info: info, frames: frames}
	b.mu.Unlock()
	return writePlaceholder(path)
}

// SetReportedFrames overrides the frame count Probe reports for path.
func (b *Backend) SetReportedFrames(path string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.lookup(path); ok {
		v.info.NumFrames = n
	}
}

// Frames returns the frames stored under path.
func (b *Backend) Frames(path string) []*image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.lookup(path); ok {
		return v.frames
	}
	return nil
}

func (b *Backend) Probe(_ context.Context, path string) (videoio.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.lookup(path)
	if !ok {
		return videoio.Info{}, fmt.Errorf("videoiotest: %s: %w", path, os.ErrNotExist)
	}
	return v.info, nil
}

func (b *Backend) OpenReader(_ context.Context, path string, _ videoio.Info) (videoio.FrameReader, error) {
	b.mu.Lock()
	v, ok := b.lookup(path)
	failAt, fail := b.FailReadAt[path]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("videoiotest: %s: %w", path, os.ErrNotExist)
	}
	b.Reads.Add(1)
	if !fail {
		failAt = -1
	}
	return &reader{frames: v.frames, failAt: failAt}, nil
}

func (b *Backend) OpenWriter(_ context.Context, path string, opts videoio.WriterOptions) (videoio.FrameWriter, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("videoiotest: invalid size %dx%d", opts.Width, opts.Height)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("videoiotest: %w", err)
	}
	b.Writes.Add(1)
	return &writer{backend: b, path: path, opts: opts}, nil
}

type reader struct {
	frames []*image.RGBA
	next   int
	failAt int
}

func (r *reader) Next() (*image.RGBA, error) {
	if r.next == r.failAt {
		return nil, errors.New("videoiotest: corrupt frame")
	}
	if r.next >= len(r.frames) {
		return nil, io.EOF
	}
	f := r.frames[r.next]
	r.next++
	return Clone(f), nil
}

func (r *reader) Close() error { return nil }

type writer struct {
	backend *Backend
	path    string
	opts    videoio.WriterOptions
	frames  []*image.RGBA
	closed  bool
}

func (w *writer) WriteFrame(frame *image.RGBA) error {
	if w.closed {
		return errors.New("videoiotest: write after close")
	}
	b := frame.Bounds()
	if b.Dx() != w.opts.Width || b.Dy() != w.opts.Height {
		return fmt.Errorf("videoiotest: frame %dx%d, writer %dx%d", b.Dx(), b.Dy(), w.opts.Width, w.opts.Height)
	}
	w.frames = append(w.frames, Clone(frame))
	return nil
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.frames) == 0 {
		return nil
	}
	w.backend.mu.Lock()
	w.backend.videos[w.path] = &video{
		info: videoio.Info{
			Width:     w.opts.Width,
			Height:    w.opts.Height,
			FPS:       w.opts.FPS,
			NumFrames: len(w.frames),
		},
		frames: w.frames,
	}
	w.backend.mu.Unlock()
	return writePlaceholder(w.path)
}

// Solid returns n frames of size w x h filled with c.
func Solid(n, w, h int, c color.RGBA) []*image.RGBA {
	frames := make([]*image.RGBA, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
		frames[i] = img
	}
	return frames
}

// Clone copies an RGBA image.
func Clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

const placeholderPrefix = "videoiotest:"

func writePlaceholder(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(placeholderPrefix+path), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// lookup finds the video for path through its placeholder, so deleted
// files are gone and moved files follow. Callers hold b.mu.
func (b *Backend) lookup(path string) (*video, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	key := path
	if strings.HasPrefix(string(data), placeholderPrefix) {
		key = strings.TrimPrefix(string(data), placeholderPrefix)
	}
	v, ok := b.videos[key]
	return v, ok
}
