// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scope renders a live oscilloscope of one accelerometer and serves
// it as an HTTP image stream.
//
// The protocol used is "MJPEG" (https://en.wikipedia.org/wiki/Motion_JPEG),
// understood by browsers and most video players. Frames are PNG by default;
// JPEG can be selected via Opts.Format or the "format" URL parameter.
//
// The scope only subscribes to the readings while at least one client is
// connected, so an unwatched scope never causes readings to be published.
package scope

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"sync"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/display"
)

// Opts configures a Scope.
type Opts struct {
	// Width and height of the frames.
	Width, Height int
	// Format of the frames sent to clients.
	Format ImageFormat
	// Device is the index of the plotted accelerometer.
	Device uint32
	// Window is the number of samples across the plot.
	Window int
	// FullScale is the acceleration in g at the top of the plot.
	FullScale float64
	// Refresh is the period between frames.
	Refresh time.Duration
	Logger  *logrus.Entry
}

// DefaultOpts plots the last 500 samples of device 0 at 10 frames per
// second.
var DefaultOpts = Opts{
	Width:     640,
	Height:    320,
	Format:    DefaultFormat,
	Window:    500,
	FullScale: 2,
	Refresh:   100 * time.Millisecond,
}

// Scope is a display.Drawer backed by an image buffer and an http.Handler
// streaming that buffer.
type Scope struct {
	opts    Opts
	log     *logrus.Entry
	plotter *plotter
	hist    history
	scratch []accel.Reading
	wake    chan struct{}

	mu       sync.Mutex
	buffer   *image.RGBA
	clients  map[*client]struct{}
	snapshot map[imageConfig][]byte
}

var _ display.Drawer = (*Scope)(nil)
var _ http.Handler = (*Scope)(nil)

// New returns a Scope. Zero fields of o take their value from DefaultOpts.
func New(o *Opts) (*Scope, error) {
	opts := DefaultOpts
	if o != nil {
		opts = *o
		if opts.Width <= 0 || opts.Height <= 0 {
			opts.Width, opts.Height = DefaultOpts.Width, DefaultOpts.Height
		}
		if opts.Window <= 0 {
			opts.Window = DefaultOpts.Window
		}
		if opts.FullScale <= 0 {
			opts.FullScale = DefaultOpts.FullScale
		}
		if opts.Refresh <= 0 {
			opts.Refresh = DefaultOpts.Refresh
		}
	}
	if !opts.Format.valid() {
		return nil, fmt.Errorf("scope: unhandled image format %s", opts.Format)
	}
	p, err := newPlotter(opts.Width, opts.Height, opts.Window, opts.FullScale, fmt.Sprintf("accelerometer %d", opts.Device))
	if err != nil {
		return nil, err
	}
	s := &Scope{
		opts:     opts,
		log:      opts.Logger,
		plotter:  p,
		hist:     newHistory(opts.Window),
		wake:     make(chan struct{}, 1),
		buffer:   image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		clients:  map[*client]struct{}{},
		snapshot: map[imageConfig][]byte{},
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("scope", opts.Device)
	// An empty plot until the first readings arrive.
	draw.Draw(s.buffer, s.buffer.Bounds(), p.draw(nil).Image(), image.Point{}, draw.Src)
	return s, nil
}

func (s *Scope) String() string {
	return fmt.Sprintf("Scope{%d, %dx%d}", s.opts.Device, s.opts.Width, s.opts.Height)
}

// Halt implements conn.Resource and terminates all running client requests
// asynchronously.
func (s *Scope) Halt() error {
	s.mu.Lock()
	s.terminateClientsLocked()
	s.mu.Unlock()
	return nil
}

// ColorModel implements display.Drawer.
func (s *Scope) ColorModel() color.Model {
	return s.buffer.ColorModel()
}

// Bounds implements display.Drawer.
func (s *Scope) Bounds() image.Rectangle {
	return s.buffer.Bounds()
}

// Draw implements display.Drawer. Connected clients are sent the new frame.
func (s *Scope) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	s.mu.Lock()
	draw.Draw(s.buffer, dstRect, src, srcPts, draw.Src)
	s.bufferChangedLocked()
	s.mu.Unlock()
	return nil
}

// Run plots the readings of ch while clients are connected. It returns nil
// once ch is closed, after terminating the clients.
func (s *Scope) Run(ctx context.Context, ch *fanout.Channel[accel.Reading]) error {
	for {
		if s.clientCount() == 0 {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := s.follow(ctx, ch)
		if errors.Is(err, fanout.ErrClosed) {
			return s.Halt()
		}
		if err != nil {
			return err
		}
	}
}

// follow consumes ch until the last client leaves.
func (s *Scope) follow(ctx context.Context, ch *fanout.Channel[accel.Reading]) error {
	sub := ch.Subscribe()
	defer sub.Close()
	s.log.Debug("following readings")
	tick := time.NewTicker(s.opts.Refresh)
	defer tick.Stop()
	dirty := false
	for {
		v, err := sub.TryRecv()
		var lag *fanout.LagError
		switch {
		case err == nil:
			if v.Index == s.opts.Device {
				s.hist.push(v)
				dirty = true
			}
			continue
		case errors.As(err, &lag):
			continue
		case errors.Is(err, fanout.ErrClosed):
			return err
		}
		select {
		case <-sub.Ready():
		case <-tick.C:
			if s.clientCount() == 0 {
				s.log.Debug("no more viewers")
				return nil
			}
			if dirty {
				s.refresh()
				dirty = false
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scope) refresh() {
	s.scratch = s.hist.appendTo(s.scratch[:0])
	dc := s.plotter.draw(s.scratch)
	s.Draw(s.Bounds(), dc.Image(), image.Point{})
}

func (s *Scope) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
