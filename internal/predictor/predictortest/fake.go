// Package predictortest provides scripted predictors for tests.
package predictortest

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/predictor"
)

// ScoreFunc returns the detection scores for frame index i.
type ScoreFunc func(i int) []float64

// Constant scores every frame with the same scores.
func Constant(scores ...float64) ScoreFunc {
	return func(int) []float64 { return scores }
}

// PerFrame scores frame i with scores[i]; frames past the end get none.
func PerFrame(scores ...[]float64) ScoreFunc {
	return func(i int) []float64 {
		if i < len(scores) {
			return scores[i]
		}
		return nil
	}
}

// Predictor answers from a ScoreFunc and counts calls. The frame index is
// the number of calls made so far.
type Predictor struct {
	Scores ScoreFunc
	FailAt int // -1 disables

	Calls  atomic.Int32
	Closed atomic.Bool
}

// NewPredictor returns a predictor that never fails.
func NewPredictor(scores ScoreFunc) *Predictor {
	return &Predictor{Scores: scores, FailAt: -1}
}

func (p *Predictor) Predict(ctx context.Context, frame *image.RGBA) ([]predictor.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := int(p.Calls.Add(1)) - 1
	if i == p.FailAt {
		return nil, errors.New("predictortest: inference failed")
	}
	var dets []predictor.Detection
	if p.Scores != nil {
		for k, s := range p.Scores(i) {
			dets = append(dets, predictor.Detection{Score: s, Class: k % 2})
		}
	}
	return dets, nil
}

func (p *Predictor) Close() error {
	p.Closed.Store(true)
	return nil
}

// Visualizer counts draws and leaves frames untouched.
type Visualizer struct {
	Draws atomic.Int32
}

func (v *Visualizer) Draw(frame *image.RGBA, dets []predictor.Detection) *image.RGBA {
	v.Draws.Add(1)
	return frame
}

// Factory hands out a fresh Predictor per Load and records the loads.
type Factory struct {
	Scores ScoreFunc
	// FailModels names models whose load fails.
	FailModels map[string]bool

	mu     sync.Mutex
	loads  []string
	issued []*Predictor
}

func (f *Factory) Load(ctx context.Context, desc models.Descriptor) (*predictor.Loaded, error) {
	if _, err := models.LoadConfig(desc.ConfigPath); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, desc.Name)
	if f.FailModels[desc.Name] {
		return nil, errors.New("predictortest: load failed")
	}
	p := NewPredictor(f.Scores)
	f.issued = append(f.issued, p)
	return &predictor.Loaded{Predictor: p, Visualizer: &Visualizer{}, Threshold: models.DefaultScoreThreshold}, nil
}

// Loads returns the model names loaded so far, in order.
func (f *Factory) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// PredictCalls sums inference calls over every issued predictor.
func (f *Factory) PredictCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.issued {
		n += int(p.Calls.Load())
	}
	return n
}

// AllClosed reports whether every issued predictor was closed.
func (f *Factory) AllClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.issued {
		if !p.Closed.Load() {
			return false
		}
	}
	return true
}
