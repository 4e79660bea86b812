package annotate

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/framemark/framemark-agent/internal/fsutil"
)

// Results is the sidecar document written next to an annotated video.
// Frames without detections are absent from Predictions.
type Results struct {
	Height      int                        `json:"height"`
	Width       int                        `json:"width"`
	NumFrames   int                        `json:"num_frames"`
	Predictions map[string]FramePrediction `json:"predictions"`
}

// FramePrediction holds the detections of one frame.
type FramePrediction struct {
	NumPredictions int          `json:"num_predictions"`
	Scores         []float64    `json:"scores"`
	PredClasses    []int        `json:"pred_classes"`
	PredBoxes      [][4]float64 `json:"pred_boxes,omitempty"`
}

// Frame returns the prediction recorded for frame index i.
func (r *Results) Frame(i int) (FramePrediction, bool) {
	p, ok := r.Predictions[strconv.Itoa(i)]
	return p, ok
}

// FrameIndexes returns the recorded frame indexes in ascending order.
func (r *Results) FrameIndexes() []int {
	idx := make([]int, 0, len(r.Predictions))
	for k := range r.Predictions {
		if i, err := strconv.Atoi(k); err == nil {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	return idx
}

// ReadResults loads a sidecar from disk.
func ReadResults(path string) (*Results, error) {
	var r Results
	if err := fsutil.ReadJSON(path, &r); err != nil {
		return nil, err
	}
	if r.NumFrames < 0 || r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("sidecar %s: invalid dimensions %dx%d, %d frames", path, r.Width, r.Height, r.NumFrames)
	}
	if r.Predictions == nil {
		r.Predictions = map[string]FramePrediction{}
	}
	return &r, nil
}

// WriteResults stores a sidecar atomically.
func WriteResults(path string, r *Results) error {
	if r.Predictions == nil {
		r.Predictions = map[string]FramePrediction{}
	}
	return fsutil.WriteJSON(path, r)
}
