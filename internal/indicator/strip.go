package indicator

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
)

// Style selects how the strip renders the score curve.
type Style string

const (
	// StyleBand fills each column with the bucket colour.
	StyleBand Style = "band"
	// StyleArea fills from the bottom up to the score, on white.
	StyleArea Style = "area"
)

// DefaultBarHeight is the strip height in pixels.
const DefaultBarHeight = 50

// MarkerColor and MarkerWidth describe the position marker.
var MarkerColor = color.RGBA{R: 0, G: 0xff, B: 0, A: 0xff}

const MarkerWidth = 2.0

// RenderStrip draws the timeline for avgs across width pixels. When
// several frames share a column the column shows the highest of them, so
// short spikes stay visible on long videos.
func RenderStrip(avgs []float64, width, height int, style Style) *image.RGBA {
	dc := gg.NewContext(width, height)
	dc.SetColor(None.Color())
	dc.Clear()

	n := len(avgs)
	if n == 0 || width <= 0 {
		return toRGBA(dc.Image())
	}

	for x := 0; x < width; x++ {
		score := columnScore(avgs, x, width)
		b := BucketFor(score)
		if b == None {
			continue
		}
		dc.SetColor(b.Color())
		switch style {
		case StyleArea:
			fill := clamp01(score) * float64(height)
			dc.DrawRectangle(float64(x), float64(height)-fill, 1, fill)
		default:
			dc.DrawRectangle(float64(x), 0, 1, float64(height))
		}
		dc.Fill()
	}
	return toRGBA(dc.Image())
}

// columnScore returns the highest average among the frames mapped onto
// column x.
func columnScore(avgs []float64, x, width int) float64 {
	n := len(avgs)
	from := x * n / width
	to := (x + 1) * n / width
	if to <= from {
		to = from + 1
	}
	if to > n {
		to = n
	}
	best := avgs[from]
	for _, a := range avgs[from+1 : to] {
		if a > best {
			best = a
		}
	}
	return best
}

// MarkerX is the marker position for frame i of total: (i+1)/total of the
// width.
func MarkerX(i, total, width int) float64 {
	if total <= 0 {
		return 0
	}
	x := float64(i+1) / float64(total) * float64(width)
	if x > float64(width) {
		x = float64(width)
	}
	return x
}

// Compose stacks frame over strip into dst, sized frame width by frame
// height plus strip height, and draws the marker for frame i of total.
// dst is reused when its size matches, otherwise a new image is returned.
func Compose(dst, frame, strip *image.RGBA, i, total int) *image.RGBA {
	fb := frame.Bounds()
	w, h := fb.Dx(), fb.Dy()
	sh := strip.Bounds().Dy()
	rect := image.Rect(0, 0, w, h+sh)
	if dst == nil || dst.Bounds() != rect {
		dst = image.NewRGBA(rect)
	}

	draw.Draw(dst, image.Rect(0, 0, w, h), frame, fb.Min, draw.Src)
	draw.Draw(dst, image.Rect(0, h, w, h+sh), strip, strip.Bounds().Min, draw.Src)

	x := MarkerX(i, total, w)
	dc := gg.NewContextForRGBA(dst)
	dc.SetColor(MarkerColor)
	dc.SetLineWidth(MarkerWidth)
	dc.SetLineCapButt()
	dc.DrawLine(x, float64(h), x, float64(h+sh))
	dc.Stroke()
	return dst
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
