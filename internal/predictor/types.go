// Package predictor adapts an external instance-segmentation backend to
// the per-frame contract used by the annotation pipeline: one frame in,
// a list of scored detections out.
package predictor

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/framemark/framemark-agent/internal/models"
)

// Detection is one predicted instance on a frame.
type Detection struct {
	Score    float64     `json:"score"`
	Class    int         `json:"class"`
	Box      [4]float64  `json:"box"`                // x1, y1, x2, y2 in pixels
	Polygons [][]float64 `json:"polygons,omitempty"` // flattened x,y pairs of mask contours
}

// Predictor runs inference on single frames.
type Predictor interface {
	Predict(ctx context.Context, frame *image.RGBA) ([]Detection, error)
	Close() error
}

// Visualizer composites detections onto a frame in place and returns it.
type Visualizer interface {
	Draw(frame *image.RGBA, dets []Detection) *image.RGBA
}

// Loaded is a model ready for a video loop.
type Loaded struct {
	Predictor  Predictor
	Visualizer Visualizer
	Classes    []string
	Threshold  float64
}

// Close releases the predictor.
func (l *Loaded) Close() error {
	if l == nil || l.Predictor == nil {
		return nil
	}
	return l.Predictor.Close()
}

// Factory loads a model once so it can serve many videos.
type Factory interface {
	Load(ctx context.Context, desc models.Descriptor) (*Loaded, error)
}

// ErrWorkerExited is returned when the backend process is gone.
var ErrWorkerExited = errors.New("predictor worker exited")

// Capabilities reports what the local inference environment can do, as
// returned by the backend's doctor command plus executable lookups.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`

	Ready    bool      `json:"ready"`
	ProbedAt time.Time `json:"probed_at"`
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GPUInfo holds GPU availability information.
type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}
