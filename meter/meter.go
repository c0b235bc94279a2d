// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package meter shows the live acceleration of one device as bar graphs on
// the terminal, using ANSI 256 color codes.
//
// Useful to check that a sensor is alive and mounted the right way up
// without any client attached.
package meter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Opts represents the options available for a Meter.
type Opts struct {
	// Width is the number of cells per axis.
	Width int
	// FullScale is the acceleration in g that lights every cell.
	FullScale float32
	// Device is the index of the displayed accelerometer.
	Device uint32
	// Refresh is the period between two updates in Run.
	Refresh time.Duration
	Palette *ansi256.Palette
	// W defaults to stdout.
	W io.Writer
}

// Meter renders readings as one terminal line, updated in place.
type Meter struct {
	w       io.Writer
	opts    Opts
	palette ansi256.Palette
	buf     bytes.Buffer
}

var offColor = color.NRGBA{0x30, 0x30, 0x30, 255}

// New returns a Meter. A nil o shows device 0 with 20 cells per axis over
// ±2g.
func New(o *Opts) *Meter {
	var opts Opts
	if o != nil {
		opts = *o
	}
	if opts.Width <= 0 {
		opts.Width = 20
	}
	if opts.FullScale <= 0 {
		opts.FullScale = 2
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 100 * time.Millisecond
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Meter{w: w, opts: opts, palette: *p}
}

func (m *Meter) String() string {
	return fmt.Sprintf("Meter{%d}", m.opts.Device)
}

// Halt implements conn.Resource.
//
// It moves to the next line and resets the colors so the terminal is not
// left corrupted.
func (m *Meter) Halt() error {
	_, err := m.w.Write([]byte("\n\033[0m"))
	return err
}

// Render writes one reading, overwriting the previous line.
func (m *Meter) Render(r accel.Reading) error {
	// This code is designed to minimize the amount of memory allocated per call.
	m.buf.Reset()
	_, _ = m.buf.WriteString("\r\033[0m")
	for i, v := range [3]float32{r.X, r.Y, r.Z} {
		sign := '+'
		if v < 0 {
			sign = '-'
			v = -v
		}
		fmt.Fprintf(&m.buf, "\033[0m %c%c", "XYZ"[i], sign)
		lit := int(v / m.opts.FullScale * float32(m.opts.Width))
		for c := 0; c < m.opts.Width; c++ {
			if c < lit {
				_, _ = io.WriteString(&m.buf, m.palette.Block(cellColor(c, m.opts.Width)))
			} else {
				_, _ = io.WriteString(&m.buf, m.palette.Block(offColor))
			}
		}
	}
	mag := mgl32.Vec3{r.X, r.Y, r.Z}.Len()
	fmt.Fprintf(&m.buf, "\033[0m |a| %.3fg ", mag)
	_, err := m.buf.WriteTo(m.w)
	return err
}

// cellColor goes from green for the first cell to red for the last one.
func cellColor(c, width int) color.NRGBA {
	f := float32(c) / float32(max(width-1, 1))
	return color.NRGBA{R: byte(255 * min(2*f, 1)), G: byte(255 * min(2*(1-f), 1)), A: 255}
}

// Run displays the newest reading of the device every Refresh until ctx is
// done or ch is closed.
func (m *Meter) Run(ctx context.Context, ch *fanout.Channel[accel.Reading]) error {
	sub := ch.Subscribe()
	defer sub.Close()
	tick := time.NewTicker(m.opts.Refresh)
	defer tick.Stop()
	var last accel.Reading
	fresh := false
	for {
		v, err := sub.TryRecv()
		var lag *fanout.LagError
		switch {
		case err == nil:
			if v.Index == m.opts.Device {
				last, fresh = v, true
			}
			continue
		case errors.As(err, &lag):
			continue
		case errors.Is(err, fanout.ErrClosed):
			return m.Halt()
		}
		select {
		case <-sub.Ready():
		case <-tick.C:
			if fresh {
				if err := m.Render(last); err != nil {
					return err
				}
				fresh = false
			}
		case <-ctx.Done():
			m.Halt()
			return ctx.Err()
		}
	}
}
