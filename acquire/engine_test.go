// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package acquire

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi/spitest"
)

type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

type fakeSensor struct {
	a       adxl355.Acceleration
	started atomic.Int32
	standby atomic.Int32
	reads   atomic.Int32
	// fail, when set, is returned by the next Sense call.
	fail  atomic.Pointer[error]
	panic atomic.Bool
}

func (f *fakeSensor) Start() error {
	f.started.Add(1)
	return nil
}

func (f *fakeSensor) Standby() error {
	f.standby.Add(1)
	return nil
}

func (f *fakeSensor) Sense() (adxl355.Acceleration, error) {
	f.reads.Add(1)
	if f.panic.CompareAndSwap(true, false) {
		panic("bus exploded")
	}
	if err := f.fail.Swap(nil); err != nil {
		return adxl355.Acceleration{}, *err
	}
	return f.a, nil
}

func (f *fakeSensor) String() string {
	return "fake"
}

type recorder struct {
	mu        sync.Mutex
	got       []accel.Reading
	receivers int
}

func (r *recorder) Publish(v accel.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder) ReceiverCount() int {
	return r.receivers
}

func (r *recorder) readings() []accel.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]accel.Reading(nil), r.got...)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newEdgeEngine(t *testing.T, index uint32, s Sensor, sink Publisher, c Clock) *Engine {
	t.Helper()
	o := Opts{
		Mode:      EdgeTriggered,
		DataReady: &gpiotest.Pin{N: "DRDY", EdgesChan: make(chan gpio.Level, 1)},
		Clock:     c,
		Logger:    quietLogger(),
	}
	e, err := New(index, s, sink, &o)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestTriggerGaps(t *testing.T) {
	c := &fakeClock{}
	c.Advance(7 * time.Second)
	s := &fakeSensor{a: adxl355.Acceleration{X: 0.5, Y: -1, Z: 0.25}}
	r := &recorder{receivers: 1}
	e := newEdgeEngine(t, 3, s, r, c)

	for _, d := range []time.Duration{0, time.Millisecond, time.Millisecond, 1500 * time.Microsecond} {
		c.Advance(d)
		e.trigger()
	}
	want := []accel.Reading{
		{Index: 3, Gap: 0, X: 0.5, Y: -1, Z: 0.25},
		{Index: 3, Gap: 1000, X: 0.5, Y: -1, Z: 0.25},
		{Index: 3, Gap: 1000, X: 0.5, Y: -1, Z: 0.25},
		{Index: 3, Gap: 1500, X: 0.5, Y: -1, Z: 0.25},
	}
	if diff := cmp.Diff(r.readings(), want); diff != "" {
		t.Fatalf("readings difference (-got +want):\n%s", diff)
	}
}

func TestDevicesAreIndependent(t *testing.T) {
	c0, c1 := &fakeClock{}, &fakeClock{}
	r := &recorder{receivers: 1}
	e0 := newEdgeEngine(t, 0, &fakeSensor{}, r, c0)
	e1 := newEdgeEngine(t, 1, &fakeSensor{}, r, c1)

	e0.trigger()
	c1.Advance(time.Second)
	e1.trigger()
	c0.Advance(250 * time.Microsecond)
	e0.trigger()
	c1.Advance(4 * time.Millisecond)
	e1.trigger()

	want := []accel.Reading{
		{Index: 0, Gap: 0},
		{Index: 1, Gap: 0},
		{Index: 0, Gap: 250},
		{Index: 1, Gap: 4000},
	}
	if diff := cmp.Diff(r.readings(), want); diff != "" {
		t.Fatalf("readings difference (-got +want):\n%s", diff)
	}
}

func TestDevicesPublishConcurrently(t *testing.T) {
	const n = 500
	ch := fanout.New[accel.Reading](2 * n)
	sub := ch.Subscribe()
	defer sub.Close()
	periods := []time.Duration{time.Millisecond, 250 * time.Microsecond}
	var wg sync.WaitGroup
	for i, period := range periods {
		c := &fakeClock{}
		s := &fakeSensor{a: adxl355.Acceleration{X: float32(i)}}
		e := newEdgeEngine(t, uint32(i), s, ch, c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < n; k++ {
				e.trigger()
				c.Advance(period)
			}
		}()
	}
	wg.Wait()

	perDevice := make([][]accel.Reading, len(periods))
	for {
		v, err := sub.TryRecv()
		if errors.Is(err, fanout.ErrEmpty) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		perDevice[v.Index] = append(perDevice[v.Index], v)
	}
	for i, got := range perDevice {
		if len(got) != n {
			t.Fatalf("device %d: %d readings, want %d", i, len(got), n)
		}
		want := uint32(periods[i] / time.Microsecond)
		for k, r := range got {
			if r.X != float32(i) {
				t.Fatalf("device %d #%d: reading of another device %s", i, k, r)
			}
			if k == 0 && r.Gap != 0 || k > 0 && r.Gap != want {
				t.Fatalf("device %d #%d: gap %d", i, k, r.Gap)
			}
		}
	}
}

func TestNoReceivers(t *testing.T) {
	c := &fakeClock{}
	s := &fakeSensor{}
	r := &recorder{}
	e := newEdgeEngine(t, 0, s, r, c)
	for i := 0; i < 3; i++ {
		c.Advance(time.Millisecond)
		e.trigger()
	}
	if n := len(r.readings()); n != 0 {
		t.Fatalf("published %d readings without receivers", n)
	}
	if n := s.reads.Load(); n != 3 {
		t.Fatalf("sensor read %d times", n)
	}
	// The instant keeps advancing even though nothing was published.
	r.receivers = 1
	c.Advance(time.Millisecond)
	e.trigger()
	if diff := cmp.Diff(r.readings(), []accel.Reading{{Gap: 1000}}); diff != "" {
		t.Fatalf("readings difference (-got +want):\n%s", diff)
	}
	if st := e.Stats(); st.Idle != 3 || st.Published != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestReadFailureDropsSample(t *testing.T) {
	c := &fakeClock{}
	s := &fakeSensor{}
	r := &recorder{receivers: 1}
	e := newEdgeEngine(t, 0, s, r, c)

	e.trigger()
	c.Advance(time.Millisecond)
	err := errors.New("spi timeout")
	s.fail.Store(&err)
	e.trigger()
	c.Advance(time.Millisecond)
	e.trigger()

	// The failed edge still moved the previous instant.
	want := []accel.Reading{{Gap: 0}, {Gap: 1000}}
	if diff := cmp.Diff(r.readings(), want); diff != "" {
		t.Fatalf("readings difference (-got +want):\n%s", diff)
	}
	if st := e.Stats(); st.Failed != 1 || st.Published != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestTriggerRecoversPanic(t *testing.T) {
	s := &fakeSensor{}
	r := &recorder{receivers: 1}
	e := newEdgeEngine(t, 0, s, r, &fakeClock{})
	s.panic.Store(true)
	e.trigger()
	e.trigger()
	if n := len(r.readings()); n != 1 {
		t.Fatalf("got %d readings", n)
	}
	if st := e.Stats(); st.Failed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestPollOnce(t *testing.T) {
	c := &fakeClock{}
	s := &fakeSensor{}
	r := &recorder{receivers: 1}
	e, err := New(2, s, r, &Opts{Clock: c, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	var prev time.Duration
	first := true
	e.pollOnce(&prev, &first)
	c.Advance(900 * time.Microsecond)
	e.pollOnce(&prev, &first)
	c.Advance(1100 * time.Microsecond)
	e.pollOnce(&prev, &first)
	want := []accel.Reading{{Index: 2}, {Index: 2, Gap: 900}, {Index: 2, Gap: 1100}}
	if diff := cmp.Diff(r.readings(), want); diff != "" {
		t.Fatalf("readings difference (-got +want):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	r := &recorder{}
	if _, err := New(0, &fakeSensor{}, r, &Opts{Mode: EdgeTriggered}); !errors.Is(err, ErrSignalUnavailable) {
		t.Fatalf("expected ErrSignalUnavailable, got %v", err)
	}
	if _, err := New(0, &fakeSensor{}, r, &Opts{Mode: 7}); err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if _, err := New(0, &fakeSensor{}, r, &Opts{PollInterval: -1}); err == nil {
		t.Fatal("expected error for negative interval")
	}
	e, err := New(0, &fakeSensor{}, r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.opts.PollInterval != 900*time.Microsecond || e.opts.SettleDelay != 100*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", e.opts)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"polling": Polling, "": Polling, "Edge": EdgeTriggered, "interrupt": EdgeTriggered} {
		if got, err := ParseMode(in); err != nil || got != want {
			t.Errorf("ParseMode(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseMode("dma"); err == nil {
		t.Error("expected error")
	}
}

func recvN(t *testing.T, sub *fanout.Subscriber[accel.Reading], n int) []accel.Reading {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []accel.Reading
	for len(out) < n {
		v, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("after %d readings: %v", len(out), err)
		}
		out = append(out, v)
	}
	return out
}

func TestPollingRun(t *testing.T) {
	ch := fanout.New[accel.Reading](100)
	sub := ch.Subscribe()
	defer sub.Close()
	s := &fakeSensor{a: adxl355.Acceleration{Z: 1}}
	e, err := New(4, s, ch, &Opts{PollInterval: 100 * time.Microsecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}
	got := recvN(t, sub, 5)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if got[0].Gap != 0 {
		t.Errorf("first gap %d", got[0].Gap)
	}
	for i, r := range got {
		if r.Index != 4 || r.Z != 1 {
			t.Errorf("#%d: %s", i, r)
		}
		if i > 0 && r.Gap < 100 {
			t.Errorf("#%d: gap %dµs shorter than the poll interval", i, r.Gap)
		}
	}
	if n := s.started.Load(); n != 1 {
		t.Errorf("sensor started %d times", n)
	}
	reads := s.reads.Load()
	time.Sleep(5 * time.Millisecond)
	if n := s.reads.Load(); n != reads {
		t.Errorf("sensor read %d times after Stop", n-reads)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestPollingContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSensor{}
	e, err := New(0, s, &recorder{}, &Opts{PollInterval: 100 * time.Microsecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		t.Fatal("polling goroutine did not exit")
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStartCancelledWhileSettling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSensor{}
	e, err := New(0, s, &recorder{}, &Opts{SettleDelay: time.Hour, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := s.standby.Load(); n != 1 {
		t.Fatalf("sensor put in standby %d times", n)
	}
}

func TestEdgeRun(t *testing.T) {
	ch := fanout.New[accel.Reading](100)
	sub := ch.Subscribe()
	defer sub.Close()
	p := &gpiotest.Pin{N: "GPIO19", EdgesChan: make(chan gpio.Level, 4)}
	s := &fakeSensor{}
	o := Opts{Mode: EdgeTriggered, DataReady: p, EdgeTimeout: time.Millisecond, Logger: quietLogger()}
	e, err := New(1, s, ch, &o)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p.EdgesChan <- gpio.Low
	}
	got := recvN(t, sub, 3)
	if got[0].Gap != 0 || got[1].Index != 1 {
		t.Errorf("unexpected readings %v", got)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	// Once detached, edges are not serviced.
	reads := s.reads.Load()
	p.EdgesChan <- gpio.Low
	time.Sleep(10 * time.Millisecond)
	if n := s.reads.Load(); n != reads {
		t.Fatalf("edge serviced after Stop")
	}
	if _, err := sub.TryRecv(); !errors.Is(err, fanout.ErrEmpty) {
		t.Fatalf("expected nothing after Stop, got %v", err)
	}
}

func TestEdgeArmFailure(t *testing.T) {
	// gpiotest refuses edge detection without an edge channel.
	p := &gpiotest.Pin{N: "GPIO19"}
	s := &fakeSensor{}
	e, err := New(0, s, &recorder{}, &Opts{Mode: EdgeTriggered, DataReady: p, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrSignalUnavailable) {
		t.Fatalf("expected ErrSignalUnavailable, got %v", err)
	}
	if s.started.Load() != 1 || s.standby.Load() != 1 {
		t.Fatalf("started %d times, put in standby %d times", s.started.Load(), s.standby.Load())
	}
	// A successful Start leaves the sensor measuring.
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestRestartOpensNewRateWindow(t *testing.T) {
	c := &fakeClock{}
	s := &fakeSensor{}
	p := &gpiotest.Pin{N: "GPIO19", EdgesChan: make(chan gpio.Level, 1)}
	o := Opts{Mode: EdgeTriggered, DataReady: p, EdgeTimeout: time.Millisecond, Clock: c, Logger: quietLogger()}
	e, err := New(0, s, &recorder{receivers: 1}, &o)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	// 500 samples in half a second, then a long pause.
	for i := 0; i < 500; i++ {
		e.trigger()
		c.Advance(time.Millisecond)
	}
	c.Advance(time.Minute)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	// The stale samples must not be folded into the first window after the
	// restart.
	for i := 0; i <= 1000; i++ {
		e.trigger()
		if i == 0 && e.Rate() != 0 {
			t.Fatalf("rate %v computed across the restart", e.Rate())
		}
		c.Advance(time.Millisecond)
	}
	if r := e.Rate(); r != 1000 {
		t.Fatalf("rate after restart %v, want 1000", r)
	}
}

// Playback of adxl355.New with DefaultOpts followed by Start.
var pbStart = []conntest.IO{
	{W: []byte{0x05, 0x00}, R: []byte{0x00, 0xED}},
	{W: []byte{0x50, 0x00}},
	{W: []byte{0x58, 0x01}},
	{W: []byte{0x5A, 0x00}},
}

func senseIO(x0, x1, x2 byte) conntest.IO {
	return conntest.IO{
		W: []byte{0x11, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		R: []byte{0x00, x0, x1, x2, 0, 0, 0, 0, 0, 0},
	}
}

func TestEngineRateWithDriver(t *testing.T) {
	const samples = 2001
	ops := []conntest.IO{
		{W: []byte{0x05, 0x00}, R: []byte{0x00, 0xED}},
		{W: []byte{0x50, 0x02}}, // HPF off, 1kHz
		{W: []byte{0x58, 0x01}},
	}
	for i := 0; i < samples; i++ {
		ops = append(ops, senseIO(0x40, 0, 0))
	}
	pb := &spitest.Playback{Playback: conntest.Playback{Ops: ops, DontPanic: true}}
	o := adxl355.DefaultOpts
	o.ODR = adxl355.ODR1000Hz
	d, err := adxl355.New(pb, &o)
	if err != nil {
		t.Fatal(err)
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	c := &fakeClock{}
	r := &recorder{receivers: 1}
	eo := Opts{
		Mode:      EdgeTriggered,
		DataReady: &gpiotest.Pin{N: "GPIO19", EdgesChan: make(chan gpio.Level, 1)},
		Clock:     c,
		Logger:    logrus.NewEntry(log),
	}
	e, err := New(0, d, r, &eo)
	if err != nil {
		t.Fatal(err)
	}
	period := o.ODR.Period()
	for i := 0; i < samples; i++ {
		e.trigger()
		if i == 999 && e.Rate() != 0 {
			t.Fatalf("rate %v before the first second elapsed", e.Rate())
		}
		if i == 1000 && e.Rate() != 1000 {
			t.Fatalf("rate %v after the first second", e.Rate())
		}
		c.Advance(period)
	}
	var reports []any
	for _, entry := range hook.AllEntries() {
		if entry.Message == "data rate" {
			reports = append(reports, entry.Data["rate"])
		}
	}
	if diff := cmp.Diff(reports, []any{"1000.000Hz", "1000.000Hz"}); diff != "" {
		t.Fatalf("rate reports difference (-got +want):\n%s", diff)
	}
	if st := e.Stats(); st.Rate != 1000 || st.Published != samples || st.Failed != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	hi := float32(262144)
	want := accel.Reading{Gap: 1000, X: hi / 524287 * 2}
	for i, got := range r.readings()[1:] {
		if got != want {
			t.Fatalf("#%d: %s", i+1, got)
		}
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEngineWithDriver(t *testing.T) {
	ops := append([]conntest.IO(nil), pbStart...)
	ops = append(ops,
		senseIO(0, 0, 0),       // diagnostic sample
		senseIO(0x40, 0, 0),    // +0.5 full scale
		senseIO(0xC0, 0, 0x0F), // -0.5 full scale, noise in the low nibble
	)
	pb := &spitest.Playback{Playback: conntest.Playback{Ops: ops, DontPanic: true}}
	d, err := adxl355.New(pb, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch := fanout.New[accel.Reading](100)
	sub := ch.Subscribe()
	defer sub.Close()
	p := &gpiotest.Pin{N: "GPIO20", EdgesChan: make(chan gpio.Level, 2)}
	e, err := New(0, d, ch, &Opts{Mode: EdgeTriggered, DataReady: p, EdgeTimeout: time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.EdgesChan <- gpio.Low
	p.EdgesChan <- gpio.Low
	got := recvN(t, sub, 2)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	hi, lo := float32(262144), float32(-262144)
	if want := hi / 524287 * 2; got[0].X != want {
		t.Errorf("X = %v, want %v", got[0].X, want)
	}
	if want := lo / 524287 * 2; got[1].X != want {
		t.Errorf("X = %v, want %v", got[1].X, want)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}
