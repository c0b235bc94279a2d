// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fanout implements a bounded broadcast channel.
//
// Every subscriber sees every value published after it subscribed, in order,
// as long as it does not fall more than the channel capacity behind. A
// subscriber that falls further behind misses the overwritten values and is
// told so with a *LagError. Publishing never blocks on subscribers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Recv once the Channel or the Subscriber was
	// closed and no buffered value is left.
	ErrClosed = errors.New("fanout: closed")

	// ErrEmpty is returned by TryRecv when no value is pending.
	ErrEmpty = errors.New("fanout: empty")
)

// LagError is returned to a subscriber whose pending values were overwritten.
// The subscriber has been moved to the oldest value still buffered.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("fanout: lagged, skipped %d values", e.Skipped)
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Channel is a multi-consumer broadcast ring of fixed capacity.
type Channel[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   uint64 // sequence number of the next value
	closed bool
	notify chan struct{}

	receivers atomic.Int64
}

// New returns a Channel buffering up to capacity values. It panics if
// capacity is not positive.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("fanout: capacity must be positive")
	}
	return &Channel[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Publish stores v, overwriting the oldest value when full, and wakes up
// waiting subscribers. It never blocks on subscribers. Publishing to a closed
// Channel is a no-op.
func (c *Channel[T]) Publish(v T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.buf[c.head%uint64(len(c.buf))] = v
	c.head++
	wake := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(wake)
}

// ReceiverCount returns the number of live subscribers.
func (c *Channel[T]) ReceiverCount() int {
	return int(c.receivers.Load())
}

// Cap returns the capacity of the ring.
func (c *Channel[T]) Cap() int {
	return len(c.buf)
}

// Subscribe returns a Subscriber that receives every value published from
// now on.
func (c *Channel[T]) Subscribe() *Subscriber[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers.Add(1)
	return &Subscriber[T]{c: c, next: c.head}
}

// Close wakes up all subscribers. They still drain what is buffered, then get
// ErrClosed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wake := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(wake)
}

// Subscriber is one consumer's cursor in a Channel. It must be used by a
// single goroutine.
type Subscriber[T any] struct {
	c      *Channel[T]
	next   uint64
	closed bool
}

// Recv blocks until a value is available, ctx is done or the Channel is
// closed.
func (s *Subscriber[T]) Recv(ctx context.Context) (T, error) {
	for {
		s.c.mu.Lock()
		v, err := s.recvLocked()
		wait := s.c.notify
		s.c.mu.Unlock()
		if err != ErrEmpty {
			return v, err
		}
		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns the next value without blocking, or ErrEmpty.
func (s *Subscriber[T]) TryRecv() (T, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.recvLocked()
}

// Ready returns a channel that is closed once Recv or TryRecv may return
// without blocking. Use it to wait on a subscriber inside a select.
func (s *Subscriber[T]) Ready() <-chan struct{} {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.closed || s.c.closed || s.next != s.c.head {
		return closedChan
	}
	return s.c.notify
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscriber[T]) Close() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.c.receivers.Add(-1)
	}
}

func (s *Subscriber[T]) recvLocked() (T, error) {
	var zero T
	c := s.c
	if s.closed {
		return zero, ErrClosed
	}
	if s.next == c.head {
		if c.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}
	size := uint64(len(c.buf))
	if c.head > size && s.next < c.head-size {
		oldest := c.head - size
		skipped := oldest - s.next
		s.next = oldest
		return zero, &LagError{Skipped: skipped}
	}
	v := c.buf[s.next%size]
	s.next++
	return v, nil
}
