package export

import (
	"fmt"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/indicator"
)

// Segments groups consecutive frames whose average is at least level.
// A level of None selects frames with any score at all.
func Segments(avgs []float64, level indicator.Bucket) []Segment {
	var out []Segment
	var cur *Segment
	for i, a := range avgs {
		b := indicator.BucketFor(a)
		flagged := b >= level && (level != indicator.None || a > 0)
		if !flagged {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &Segment{Start: i, Peak: b, PeakScore: a}
		}
		cur.End = i + 1
		if a > cur.PeakScore {
			cur.PeakScore = a
			cur.Peak = b
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	for i := range out {
		out[i].PeakLevel = out[i].Peak.String()
	}
	return out
}

// FromResults builds the clips of a sidecar for mediaPath.
func FromResults(r *annotate.Results, level indicator.Bucket, name, mediaPath string) ([]Clip, []Segment) {
	segs := Segments(indicator.Averages(r), level)
	clips := make([]Clip, len(segs))
	for i, s := range segs {
		clips[i] = Clip{
			Name:       fmt.Sprintf("%s_%03d", name, i+1),
			MediaPath:  mediaPath,
			StartFrame: s.Start,
			EndFrame:   s.End,
			Comment:    fmt.Sprintf("CONFIDENCE: %s %.2f", s.PeakLevel, s.PeakScore),
		}
	}
	return clips, segs
}
