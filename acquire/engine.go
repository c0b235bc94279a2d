// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrSignalUnavailable is returned when edge triggered acquisition is
	// requested but the data-ready line cannot be resolved or armed.
	ErrSignalUnavailable = errors.New("acquire: data-ready signal unavailable")

	errRunning = errors.New("acquire: already started")
)

// Mode selects how the engine paces sampling.
type Mode int

const (
	// Polling reads the sensor in a loop, sleeping PollInterval in between.
	Polling Mode = iota
	// EdgeTriggered reads the sensor on every falling edge of DataReady.
	EdgeTriggered
)

func (m Mode) String() string {
	switch m {
	case Polling:
		return "polling"
	case EdgeTriggered:
		return "edge"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "polling" or "edge".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "polling", "poll", "":
		return Polling, nil
	case "edge", "interrupt", "edge-triggered":
		return EdgeTriggered, nil
	}
	return 0, fmt.Errorf("acquire: unknown mode %q", s)
}

// Sensor is the part of *adxl355.Dev used by the engine.
type Sensor interface {
	Start() error
	Standby() error
	Sense() (adxl355.Acceleration, error)
	String() string
}

// Publisher receives the readings. Publish must not block.
type Publisher interface {
	Publish(accel.Reading)
	ReceiverCount() int
}

// Opts configures an Engine.
type Opts struct {
	Mode Mode
	// DataReady is the sensor's data-ready line. Required in EdgeTriggered
	// mode, ignored otherwise.
	DataReady gpio.PinIn
	// PollInterval is the sleep between two reads in Polling mode.
	PollInterval time.Duration
	// SettleDelay is waited after starting the sensor, before the first read.
	SettleDelay time.Duration
	// EdgeTimeout bounds each wait for an edge so that Stop is noticed.
	EdgeTimeout time.Duration
	Clock       Clock
	Logger      *logrus.Entry
}

// DefaultOpts is the configuration used when New is passed nil.
var DefaultOpts = Opts{
	Mode:         Polling,
	PollInterval: 900 * time.Microsecond,
	SettleDelay:  100 * time.Millisecond,
	EdgeTimeout:  100 * time.Millisecond,
}

// Stats are the engine's counters since it was created.
type Stats struct {
	Index     uint32  `json:"index"`
	Mode      string  `json:"mode"`
	Published uint64  `json:"published"`
	Idle      uint64  `json:"idle"`   // Samples read while nobody was subscribed
	Failed    uint64  `json:"failed"` // Failed reads and recovered panics
	Rate      float64 `json:"rate_hz"`
}

// Engine samples one sensor and publishes the readings.
type Engine struct {
	index uint32
	s     Sensor
	sink  Publisher
	opts  Opts
	clock Clock
	log   *logrus.Entry

	past *TimestampSlot
	rate *RateTracker

	published atomic.Uint64
	idle      atomic.Uint64
	failed    atomic.Uint64

	// mu serializes Start and Stop. The sampling path never takes it.
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an engine publishing readings tagged with index. The sensor
// must already be configured; Start puts it in measurement mode.
func New(index uint32, s Sensor, sink Publisher, o *Opts) (*Engine, error) {
	if o == nil {
		o = &DefaultOpts
	}
	opts := *o
	if opts.Mode != Polling && opts.Mode != EdgeTriggered {
		return nil, fmt.Errorf("acquire: invalid mode %s", opts.Mode)
	}
	if opts.Mode == EdgeTriggered && opts.DataReady == nil {
		return nil, fmt.Errorf("%w: no pin for device %d", ErrSignalUnavailable, index)
	}
	if opts.PollInterval < 0 || opts.SettleDelay < 0 {
		return nil, errors.New("acquire: negative duration")
	}
	if opts.EdgeTimeout <= 0 {
		opts.EdgeTimeout = DefaultOpts.EdgeTimeout
	}
	e := &Engine{
		index: index,
		s:     s,
		sink:  sink,
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger,
		past:  NewTimestampSlot(),
		rate:  NewRateTracker(),
	}
	if e.clock == nil {
		e.clock = NewMonotonicClock()
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	e.log = e.log.WithField("device", index)
	return e, nil
}

func (e *Engine) String() string {
	return fmt.Sprintf("acquire{%d, %s, %s}", e.index, e.opts.Mode, e.s)
}

// Index returns the index stamped on every reading.
func (e *Engine) Index() uint32 {
	return e.index
}

// Start puts the sensor in measurement mode, waits for it to settle, logs one
// diagnostic sample and launches the sampling goroutine. The goroutine runs
// until ctx is done or Stop is called.
//
// When Start fails after the sensor was started, the sensor is put back in
// standby.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errRunning
	}
	if err := e.s.Start(); err != nil {
		return fmt.Errorf("acquire: start %s: %w", e.s, err)
	}
	defer func() {
		if err != nil {
			if serr := e.s.Standby(); serr != nil {
				e.log.WithError(serr).Warn("standby failed")
			}
		}
	}()
	if e.opts.SettleDelay > 0 {
		t := time.NewTimer(e.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if a, err := e.s.Sense(); err != nil {
		e.log.WithError(err).Warn("diagnostic read failed")
	} else {
		e.log.WithField("sample", a).Info("accelerometer started")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	switch e.opts.Mode {
	case EdgeTriggered:
		if err := e.opts.DataReady.In(gpio.PullNoChange, gpio.FallingEdge); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSignalUnavailable, e.opts.DataReady, err)
		}
		e.past.Clear()
		e.rate.Restart()
		go e.watch(ctx, stop, done)
	default:
		e.rate.Restart()
		go e.poll(ctx, stop, done)
	}
	e.stop, e.done, e.running = stop, done, true
	return nil
}

// Stop detaches the sampling goroutine and waits for it to exit. Once Stop
// returns no further reading is published. It is safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	close(e.stop)
	<-e.done
	e.running = false
	if e.opts.Mode == EdgeTriggered {
		if err := e.opts.DataReady.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("acquire: disarm %s: %w", e.opts.DataReady, err)
		}
	}
	return nil
}

// Rate returns the sampling rate measured over the last closed window.
func (e *Engine) Rate() float64 {
	return e.rate.Rate()
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Index:     e.index,
		Mode:      e.opts.Mode.String(),
		Published: e.published.Load(),
		Idle:      e.idle.Load(),
		Failed:    e.failed.Load(),
		Rate:      e.rate.Rate(),
	}
}

// watch waits for data-ready edges. It is the only caller of trigger, so
// trigger never runs concurrently with itself for a given engine.
func (e *Engine) watch(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if stopped(ctx, stop) {
			return
		}
		if !e.opts.DataReady.WaitForEdge(e.opts.EdgeTimeout) {
			continue
		}
		if stopped(ctx, stop) {
			return
		}
		e.trigger()
	}
}

// trigger handles one data-ready edge.
func (e *Engine) trigger() {
	defer e.rescue()
	now := e.clock.Now()
	var gap uint32
	if prev, ok := e.past.Swap(now); ok {
		gap = gapMicros(prev, now)
	}
	e.observe(now)
	e.sample(gap)
}

func (e *Engine) poll(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var prev time.Duration
	first := true
	for !stopped(ctx, stop) {
		e.pollOnce(&prev, &first)
		if e.opts.PollInterval > 0 {
			time.Sleep(e.opts.PollInterval)
		}
	}
}

// pollOnce reads one sample. prev and first are owned by the polling
// goroutine.
func (e *Engine) pollOnce(prev *time.Duration, first *bool) {
	defer e.rescue()
	a, err := e.s.Sense()
	if err != nil {
		e.failed.Add(1)
		e.log.WithError(err).Error("failed to read accelerometer")
		return
	}
	now := e.clock.Now()
	var gap uint32
	if !*first {
		gap = gapMicros(*prev, now)
	}
	*prev, *first = now, false
	e.observe(now)
	e.publish(a, gap)
}

func (e *Engine) sample(gap uint32) {
	a, err := e.s.Sense()
	if err != nil {
		e.failed.Add(1)
		e.log.WithError(err).Error("failed to read accelerometer")
		return
	}
	e.publish(a, gap)
}

func (e *Engine) publish(a adxl355.Acceleration, gap uint32) {
	if e.sink.ReceiverCount() == 0 {
		e.idle.Add(1)
		return
	}
	e.sink.Publish(accel.Reading{Index: e.index, Gap: gap, X: a.X, Y: a.Y, Z: a.Z})
	e.published.Add(1)
}

func (e *Engine) observe(now time.Duration) {
	if hz, ok := e.rate.Observe(now); ok {
		e.log.WithField("rate", fmt.Sprintf("%.3fHz", hz)).Debug("data rate")
	}
}

func (e *Engine) rescue() {
	if r := recover(); r != nil {
		e.failed.Add(1)
		e.log.WithField("panic", r).Error("sampling step panicked")
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

var _ Publisher = (*fanout.Channel[accel.Reading])(nil)
var _ Sensor = (*adxl355.Dev)(nil)
