// Package indicator turns per-frame detection scores into a confidence
// timeline strip and burns it, with a moving position marker, under every
// frame of an annotated video.
package indicator

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/framemark/framemark-agent/internal/annotate"
)

// Bucket is a discrete confidence level.
type Bucket int

const (
	None Bucket = iota
	Low
	MidLow
	MidHigh
	High
)

// Lower bounds of the buckets above None.
const (
	LowThreshold     = 0.5
	MidLowThreshold  = 0.625
	MidHighThreshold = 0.75
	HighThreshold    = 0.875
)

var bucketColors = [...]color.RGBA{
	None:    {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	Low:     {R: 0xfe, G: 0xd9, B: 0x76, A: 0xff},
	MidLow:  {R: 0xfd, G: 0x8d, B: 0x3c, A: 0xff},
	MidHigh: {R: 0xe3, G: 0x1a, B: 0x1c, A: 0xff},
	High:    {R: 0x80, G: 0x00, B: 0x26, A: 0xff},
}

var bucketNames = [...]string{
	None:    "NONE",
	Low:     "LOW",
	MidLow:  "MID_LOW",
	MidHigh: "MID_HIGH",
	High:    "HIGH",
}

// BucketFor maps an average score onto its bucket. Intervals are closed
// below and open above.
func BucketFor(score float64) Bucket {
	switch {
	case score < LowThreshold:
		return None
	case score < MidLowThreshold:
		return Low
	case score < MidHighThreshold:
		return MidLow
	case score < HighThreshold:
		return MidHigh
	default:
		return High
	}
}

// Color returns the strip colour of b.
func (b Bucket) Color() color.RGBA {
	if b < None || b > High {
		return bucketColors[None]
	}
	return bucketColors[b]
}

func (b Bucket) String() string {
	if b < None || b > High {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// ParseBucket accepts bucket names case-insensitively, with '-' or '_'.
func ParseBucket(s string) (Bucket, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for b, name := range bucketNames {
		if name == norm {
			return Bucket(b), nil
		}
	}
	return None, fmt.Errorf("unknown confidence level %q", s)
}

// Averages returns the mean detection score of every frame in
// [0, NumFrames). Frames absent from the sidecar, or recorded with zero
// predictions, average to 0.
func Averages(r *annotate.Results) []float64 {
	avgs := make([]float64, r.NumFrames)
	for i := range avgs {
		p, ok := r.Frame(i)
		if !ok || p.NumPredictions <= 0 {
			continue
		}
		sum := 0.0
		for _, s := range p.Scores {
			sum += s
		}
		avgs[i] = sum / float64(p.NumPredictions)
	}
	return avgs
}

// Buckets maps every average onto its bucket.
func Buckets(avgs []float64) []Bucket {
	out := make([]Bucket, len(avgs))
	for i, a := range avgs {
		out[i] = BucketFor(a)
	}
	return out
}
