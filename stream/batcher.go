// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/sirupsen/logrus"
)

// Sink consumes batches of readings. The slice is reused after WriteBatch
// returns.
type Sink interface {
	WriteBatch(b []accel.Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(b []accel.Reading) error

// WriteBatch implements Sink.
func (f SinkFunc) WriteBatch(b []accel.Reading) error {
	return f(b)
}

// BatchOpts configures a Batcher.
type BatchOpts struct {
	Size          int           // Readings per batch
	FlushInterval time.Duration // Period at which a partial batch is flushed
}

// DefaultBatchOpts sends 128 readings per batch, and whatever is pending at
// least once per second.
var DefaultBatchOpts = BatchOpts{
	Size:          128,
	FlushInterval: time.Second,
}

// Batcher groups the readings of one subscription into batches.
type Batcher struct {
	opts BatchOpts
	log  *logrus.Entry
}

// NewBatcher returns a Batcher. A nil o means DefaultBatchOpts.
func NewBatcher(o *BatchOpts, log *logrus.Entry) *Batcher {
	if o == nil {
		o = &DefaultBatchOpts
	}
	b := &Batcher{opts: *o, log: log}
	if b.opts.Size <= 0 {
		b.opts.Size = DefaultBatchOpts.Size
	}
	if b.opts.FlushInterval <= 0 {
		b.opts.FlushInterval = DefaultBatchOpts.FlushInterval
	}
	if b.log == nil {
		b.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return b
}

// Run forwards the readings of sub to sink until ctx is done, the channel is
// closed or the sink fails. A full batch is written immediately, a partial
// one on the next flush tick. Readings lost to lag are logged and skipped.
//
// It returns nil when the channel was closed, after flushing what was pending.
func (b *Batcher) Run(ctx context.Context, sub *fanout.Subscriber[accel.Reading], sink Sink) error {
	buf := make([]accel.Reading, 0, b.opts.Size)
	tick := time.NewTicker(b.opts.FlushInterval)
	defer tick.Stop()
	packets := 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		err := sink.WriteBatch(buf)
		buf = buf[:0]
		packets++
		return err
	}
	for {
		v, err := sub.TryRecv()
		if err == nil {
			buf = append(buf, v)
			if len(buf) == cap(buf) {
				if err := flush(); err != nil {
					return err
				}
			}
			continue
		}
		var lag *fanout.LagError
		switch {
		case errors.As(err, &lag):
			b.log.WithField("skipped", lag.Skipped).Warn("client lagging")
			continue
		case errors.Is(err, fanout.ErrClosed):
			return flush()
		}
		select {
		case <-sub.Ready():
		case <-tick.C:
			if err := flush(); err != nil {
				return err
			}
			b.log.WithField("packets", packets).Debug("packets sent last interval")
			packets = 0
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Forward subscribes to ch and batches its readings into sink until ctx is
// done, the channel is closed or the sink fails.
func Forward(ctx context.Context, ch *fanout.Channel[accel.Reading], sink Sink, o *BatchOpts, log *logrus.Entry) error {
	sub := ch.Subscribe()
	defer sub.Close()
	return NewBatcher(o, log).Run(ctx, sub, sink)
}
