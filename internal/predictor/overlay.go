package predictor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// palette cycles per class id.
var palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	{R: 0xe3, G: 0x77, B: 0xc2, A: 0xff},
	{R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
}

// ClassColor returns the overlay colour of a class id.
func ClassColor(class int) color.RGBA {
	if class < 0 {
		class = -class
	}
	return palette[class%len(palette)]
}

// Overlay draws translucent masks and labels. Boxes are off by default,
// they crowd small structures.
type Overlay struct {
	Classes   []string
	ShowBoxes bool
	Alpha     float64
}

// NewOverlay returns an overlay labelling classes by name.
func NewOverlay(classes []string) *Overlay {
	return &Overlay{Classes: classes, Alpha: 0.5}
}

// Label returns "name 87%" for a detection.
func (o *Overlay) Label(d Detection) string {
	name := fmt.Sprintf("class %d", d.Class)
	if d.Class >= 0 && d.Class < len(o.Classes) && o.Classes[d.Class] != "" {
		name = o.Classes[d.Class]
	}
	return fmt.Sprintf("%s %.0f%%", name, d.Score*100)
}

// Draw composites dets onto frame in place. Frames without detections are
// returned untouched.
func (o *Overlay) Draw(frame *image.RGBA, dets []Detection) *image.RGBA {
	if len(dets) == 0 {
		return frame
	}
	dc := gg.NewContextForRGBA(frame)
	for _, d := range dets {
		c := ClassColor(d.Class)
		r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255

		for _, poly := range d.Polygons {
			if len(poly) < 6 {
				continue
			}
			dc.NewSubPath()
			dc.MoveTo(poly[0], poly[1])
			for i := 2; i+1 < len(poly); i += 2 {
				dc.LineTo(poly[i], poly[i+1])
			}
			dc.ClosePath()
			dc.SetRGBA(r, g, b, o.Alpha)
			dc.FillPreserve()
			dc.SetRGBA(r, g, b, 1)
			dc.SetLineWidth(1.5)
			dc.Stroke()
		}

		x1, y1, x2, y2 := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		if o.ShowBoxes && x2 > x1 && y2 > y1 {
			dc.SetRGBA(r, g, b, 1)
			dc.SetLineWidth(2)
			dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
			dc.Stroke()
		}

		label := o.Label(d)
		lx, ly := labelAnchor(d)
		w, h := dc.MeasureString(label)
		if ly < h+2 {
			ly = h + 2
		}
		dc.SetRGBA(0, 0, 0, 0.6)
		dc.DrawRectangle(lx, ly-h-2, w+4, h+4)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, lx+2, ly)
	}
	return frame
}

// labelAnchor places the label at the top-left of the box, or of the
// first polygon when no box was reported.
func labelAnchor(d Detection) (float64, float64) {
	if d.Box[2] > d.Box[0] && d.Box[3] > d.Box[1] {
		return d.Box[0], d.Box[1]
	}
	for _, poly := range d.Polygons {
		if len(poly) < 2 {
			continue
		}
		minX, minY := poly[0], poly[1]
		for i := 0; i+1 < len(poly); i += 2 {
			if poly[i] < minX {
				minX = poly[i]
			}
			if poly[i+1] < minY {
				minY = poly[i+1]
			}
		}
		return minX, minY
	}
	return 0, 12
}
