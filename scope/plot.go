// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scope

import (
	"fmt"
	"image/color"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/fogleman/gg"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	background = color.RGBA{0x14, 0x14, 0x1A, 0xFF}
	gridColor  = color.RGBA{0x3A, 0x3A, 0x46, 0xFF}
	textColor  = color.RGBA{0xC8, 0xC8, 0xD0, 0xFF}
	axisColors = [3]color.RGBA{
		{0xE8, 0x55, 0x4E, 0xFF}, // X
		{0x5B, 0xC2, 0x5B, 0xFF}, // Y
		{0x4F, 0x94, 0xE8, 0xFF}, // Z
	}
	axisNames = [3]string{"X", "Y", "Z"}
)

const (
	marginLeft   = 48
	marginRight  = 8
	marginTop    = 22
	marginBottom = 8
)

func loadFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("scope: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size, Hinting: font.HintingFull}), nil
}

// history is a ring of the last readings of one device.
type history struct {
	buf  []accel.Reading
	head int
	n    int
}

func newHistory(size int) history {
	return history{buf: make([]accel.Reading, size)}
}

func (h *history) push(r accel.Reading) {
	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

// appendTo appends the readings oldest first.
func (h *history) appendTo(out []accel.Reading) []accel.Reading {
	start := (h.head - h.n + len(h.buf)) % len(h.buf)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// magnitude returns the norm of the acceleration vector in g.
func magnitude(r accel.Reading) float32 {
	return mgl32.Vec3{r.X, r.Y, r.Z}.Len()
}

// plotter draws the traces of a window of samples. It is not safe for
// concurrent use.
type plotter struct {
	dc        *gg.Context
	window    int
	fullScale float64
	title     string
}

func newPlotter(width, height, window int, fullScale float64, title string) (*plotter, error) {
	face, err := loadFace(11)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(width, height)
	dc.SetFontFace(face)
	return &plotter{dc: dc, window: window, fullScale: fullScale, title: title}, nil
}

// draw renders samples, oldest first, and returns the context for access to
// the image. The newest sample is on the right edge once the window is full.
func (p *plotter) draw(samples []accel.Reading) *gg.Context {
	dc := p.dc
	w, h := float64(dc.Width()), float64(dc.Height())
	left, right := float64(marginLeft), w-marginRight
	top, bottom := float64(marginTop), h-marginBottom
	mid := (top + bottom) / 2
	half := (bottom - top) / 2

	dc.SetColor(background)
	dc.Clear()

	dc.SetLineWidth(1)
	for _, f := range []float64{-1, -0.5, 0, 0.5, 1} {
		y := mid - f*half
		dc.SetColor(gridColor)
		dc.DrawLine(left, y, right, y)
		dc.Stroke()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(fmt.Sprintf("%+.1fg", f*p.fullScale), left-4, y, 1, 0.5)
	}

	if len(samples) > p.window {
		samples = samples[len(samples)-p.window:]
	}
	step := (right - left) / float64(max(p.window-1, 1))
	x0 := right - float64(len(samples)-1)*step
	dc.SetLineWidth(1.5)
	for axis := range axisNames {
		dc.SetColor(axisColors[axis])
		for i, s := range samples {
			v := [3]float32{s.X, s.Y, s.Z}[axis]
			y := mid - clamp(float64(v)/p.fullScale)*half
			x := x0 + float64(i)*step
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.Stroke()
	}

	dc.SetColor(textColor)
	dc.DrawStringAnchored(p.title, left, marginTop/2, 0, 0.5)
	x := right
	if n := len(samples); n != 0 {
		last := samples[n-1]
		label := fmt.Sprintf("|a| %.3fg", magnitude(last))
		dc.DrawStringAnchored(label, x, marginTop/2, 1, 0.5)
		lw, _ := dc.MeasureString(label)
		x -= lw + 12
	}
	for axis := len(axisNames) - 1; axis >= 0; axis-- {
		dc.SetColor(axisColors[axis])
		dc.DrawStringAnchored(axisNames[axis], x, marginTop/2, 1, 0.5)
		x -= 14
	}
	return dc
}

func clamp(f float64) float64 {
	return min(max(f, -1), 1)
}
