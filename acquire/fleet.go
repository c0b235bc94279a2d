// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package acquire

import (
	"context"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/sirupsen/logrus"
)

// DeviceSpec is the configuration of one member of a fleet.
type DeviceSpec struct {
	Descriptor Descriptor
	Sensor     adxl355.Opts
	Engine     Opts
}

// Fleet is the set of engines that started successfully.
type Fleet struct {
	mu      sync.Mutex
	members []member
}

type member struct {
	dev    *Device
	engine *Engine
}

// openDevice is replaced in tests.
var openDevice = Open

// StartFleet opens and starts every device in order. The i-th spec gets index
// i. A device that fails is logged and skipped so that the others keep
// working; a fleet of zero devices is valid.
func StartFleet(ctx context.Context, specs []DeviceSpec, sink Publisher, log *logrus.Entry) *Fleet {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	f := &Fleet{}
	for i, spec := range specs {
		l := log.WithFields(logrus.Fields{"device": i, "bus": spec.Descriptor.String()})
		m, err := startOne(ctx, uint32(i), spec, sink, l)
		if err != nil {
			l.WithError(err).Error("skipping accelerometer")
			continue
		}
		f.members = append(f.members, m)
	}
	if len(f.members) == 0 && len(specs) != 0 {
		log.Warn("no accelerometer could be started")
	}
	return f
}

func startOne(ctx context.Context, index uint32, spec DeviceSpec, sink Publisher, log *logrus.Entry) (member, error) {
	o := spec.Engine
	if o.Mode == EdgeTriggered && spec.Descriptor.DataReady == "" {
		return member{}, fmt.Errorf("%w: no data-ready pin configured", ErrSignalUnavailable)
	}
	dev, err := openDevice(spec.Descriptor, o.Mode, &spec.Sensor)
	if err != nil {
		return member{}, err
	}
	if o.Mode == EdgeTriggered {
		o.DataReady = dev.DataReady
	}
	o.Logger = log
	e, err := New(index, dev.Sensor, sink, &o)
	if err == nil {
		err = e.Start(ctx)
	}
	if err != nil {
		dev.Close()
		return member{}, err
	}
	log.WithField("sensor", dev.Sensor.String()).Info("acquisition running")
	return member{dev: dev, engine: e}, nil
}

// Engines returns the running engines.
func (f *Fleet) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.members))
	for i, m := range f.members {
		out[i] = m.engine
	}
	return out
}

// Stats returns a snapshot of every engine's counters.
func (f *Fleet) Stats() []Stats {
	engines := f.Engines()
	out := make([]Stats, len(engines))
	for i, e := range engines {
		out[i] = e.Stats()
	}
	return out
}

// Stop stops every engine, then puts the sensors in standby. It returns the
// first error encountered.
func (f *Fleet) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for _, m := range f.members {
		if err := m.engine.Stop(); err != nil && first == nil {
			first = err
		}
		if err := m.dev.Close(); err != nil && first == nil {
			first = err
		}
	}
	f.members = nil
	return first
}
