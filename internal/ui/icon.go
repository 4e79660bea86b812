package ui

import (
	"bytes"

	"github.com/fogleman/gg"

	"github.com/framemark/framemark-agent/internal/indicator"
)

const iconSize = 64

// Icon draws the tray icon: a miniature confidence strip with the frame
// marker, on a dark rounded tile.
func Icon(size int) ([]byte, error) {
	if size <= 0 {
		size = iconSize
	}
	s := float64(size)
	dc := gg.NewContext(size, size)

	dc.DrawRoundedRectangle(0, 0, s, s, s/6)
	dc.SetRGB255(0x22, 0x22, 0x28)
	dc.Fill()

	levels := []indicator.Bucket{
		indicator.None, indicator.Low, indicator.MidLow, indicator.MidHigh,
		indicator.High, indicator.MidHigh, indicator.Low, indicator.None,
	}
	pad := s / 8
	colW := (s - 2*pad) / float64(len(levels))
	for i, b := range levels {
		h := (s - 2*pad) * float64(b+1) / float64(indicator.High+1)
		dc.DrawRectangle(pad+float64(i)*colW, s-pad-h, colW, h)
		dc.SetColor(b.Color())
		dc.Fill()
	}

	x := pad + 4.5*colW
	dc.SetLineCapButt()
	dc.SetLineWidth(s / 24)
	dc.SetRGB255(0x00, 0xff, 0x00)
	dc.DrawLine(x, pad/2, x, s-pad/2)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
