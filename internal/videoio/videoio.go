// Package videoio decodes and encodes video as a stream of RGBA frames.
// The production backend shells out to ffmpeg and ffprobe.
package videoio

import (
	"context"
	"image"
)

// Info describes the video stream of a container.
type Info struct {
	Width     int
	Height    int
	FPS       float64
	NumFrames int // as reported by the container, 0 when unknown
	Duration  float64
	Codec     string
}

// FrameReader yields decoded frames in order. Next returns io.EOF after
// the last frame. A returned frame may be reused by the next call.
type FrameReader interface {
	Next() (*image.RGBA, error)
	Close() error
}

// FrameWriter encodes frames in the order they are written. The output
// is only complete once Close returns nil.
type FrameWriter interface {
	WriteFrame(frame *image.RGBA) error
	Close() error
}

// WriterOptions sizes an encoder.
type WriterOptions struct {
	Width  int
	Height int
	FPS    float64
}

// Backend opens readers and writers for paths on disk.
type Backend interface {
	Probe(ctx context.Context, path string) (Info, error)
	OpenReader(ctx context.Context, path string, info Info) (FrameReader, error)
	OpenWriter(ctx context.Context, path string, opts WriterOptions) (FrameWriter, error)
}

// DefaultFPS is used when a container reports no usable frame rate.
const DefaultFPS = 25.0
