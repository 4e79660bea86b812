// Package export turns flagged stretches of an annotated video into an
// edit decision list an NLE can import.
package export

import "github.com/framemark/framemark-agent/internal/indicator"

// Segment is a run of consecutive frames at or above a confidence level.
// End is exclusive.
type Segment struct {
	Start     int              `json:"start_frame"`
	End       int              `json:"end_frame"`
	Peak      indicator.Bucket `json:"-"`
	PeakLevel string           `json:"peak_level"`
	PeakScore float64          `json:"peak_score"`
}

// Frames is the segment length.
func (s Segment) Frames() int {
	return s.End - s.Start
}

// Clip is one EDL event.
type Clip struct {
	Name       string
	MediaPath  string
	StartFrame int
	EndFrame   int
	Comment    string
}

type Request struct {
	Title     string  `json:"title"`
	MinLevel  string  `json:"min_level"`
	FrameRate float64 `json:"frame_rate"`
	OutputDir string  `json:"output_dir"`
}

type Response struct {
	Status     string    `json:"status"`
	Format     string    `json:"format"`
	OutputPath string    `json:"output_path,omitempty"`
	ClipCount  int       `json:"clip_count"`
	Segments   []Segment `json:"segments"`
}
