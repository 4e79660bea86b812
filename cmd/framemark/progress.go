package main

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// barProgress shows frame progress on a terminal.
type barProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{w: w}
}

func (p *barProgress) Begin(label string, total int) {
	if total <= 0 {
		total = -1 // spinner
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *barProgress) Advance() {
	if p.bar != nil {
		p.bar.Add(1)
	}
}

func (p *barProgress) End() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
