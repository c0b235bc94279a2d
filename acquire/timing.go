// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package acquire

import (
	"math"
	"sync/atomic"
	"time"
)

// Clock returns a monotonic instant, as an offset from an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a Clock backed by the runtime monotonic clock.
func NewMonotonicClock() Clock {
	return monotonicClock{origin: time.Now()}
}

func (m monotonicClock) Now() time.Duration {
	return time.Since(m.origin)
}

const noInstant = math.MinInt64

// TimestampSlot holds an optional instant. The only update is Swap, so that
// the previous value is retrieved by the same atomic operation that installs
// the new one.
//
// Use NewTimestampSlot; the zero value holds the instant 0.
type TimestampSlot struct {
	v atomic.Int64
}

// NewTimestampSlot returns an empty slot.
func NewTimestampSlot() *TimestampSlot {
	s := &TimestampSlot{}
	s.Clear()
	return s
}

// Swap installs now and returns the previous instant, if any.
func (s *TimestampSlot) Swap(now time.Duration) (time.Duration, bool) {
	prev := s.v.Swap(int64(now))
	if prev == noInstant {
		return 0, false
	}
	return time.Duration(prev), true
}

// Load returns the current instant, if any.
func (s *TimestampSlot) Load() (time.Duration, bool) {
	v := s.v.Load()
	if v == noInstant {
		return 0, false
	}
	return time.Duration(v), true
}

// Clear empties the slot.
func (s *TimestampSlot) Clear() {
	s.v.Store(noInstant)
}

// RateTracker derives the observed sampling frequency over windows of at
// least one second. It never influences the readings.
type RateTracker struct {
	start atomic.Int64
	count atomic.Uint64
	last  atomic.Uint64 // math.Float64bits of the last rate
}

// NewRateTracker returns a tracker with no open window.
func NewRateTracker() *RateTracker {
	r := &RateTracker{}
	r.start.Store(noInstant)
	return r
}

// Observe counts one sample at now. When the current window has been open for
// at least one second it is closed and the rate in Hz is returned with ok set.
// Only one of concurrent callers can close a given window.
//
// The sample that closes a window is counted in the next one, so a steady
// 1000 Hz stream reports exactly 1000 Hz.
func (r *RateTracker) Observe(now time.Duration) (hz float64, ok bool) {
	r.start.CompareAndSwap(noInstant, int64(now))
	start := r.start.Load()
	if elapsed := now - time.Duration(start); start != noInstant && elapsed >= time.Second {
		if r.start.CompareAndSwap(start, int64(now)) {
			n := r.count.Swap(0)
			hz = float64(n) / elapsed.Seconds()
			r.last.Store(math.Float64bits(hz))
			ok = true
		}
	}
	r.count.Add(1)
	return hz, ok
}

// Restart discards the open window so that the next Observe opens a new one.
// The last computed rate is kept. It must not race with Observe.
func (r *RateTracker) Restart() {
	r.count.Store(0)
	r.start.Store(noInstant)
}

// Rate returns the rate computed when the last window closed, or 0.
func (r *RateTracker) Rate() float64 {
	return math.Float64frombits(r.last.Load())
}

// gapMicros returns the whole microseconds between prev and now, saturated to
// the uint32 range.
func gapMicros(prev, now time.Duration) uint32 {
	d := (now - prev).Microseconds()
	switch {
	case d < 0:
		return 0
	case d > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(d)
}
