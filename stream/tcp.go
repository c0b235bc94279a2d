// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/sirupsen/logrus"
)

// BinarySink writes batches as packed 20 byte records.
type BinarySink struct {
	w   io.Writer
	buf []byte
}

// NewBinarySink returns a sink writing to w. Each batch is a single Write.
func NewBinarySink(w io.Writer) *BinarySink {
	return &BinarySink{w: w}
}

// WriteBatch implements Sink.
func (s *BinarySink) WriteBatch(b []accel.Reading) error {
	s.buf = accel.AppendRecords(s.buf[:0], b)
	_, err := s.w.Write(s.buf)
	return err
}

// TCPServer streams binary records to every connected client. Clients only
// receive; anything they send is discarded.
type TCPServer struct {
	ch           *fanout.Channel[accel.Reading]
	opts         BatchOpts
	log          *logrus.Entry
	ln           net.Listener
	writeTimeout time.Duration
	wg           sync.WaitGroup
}

// ListenTCP listens on addr. Call Serve to accept clients.
func ListenTCP(addr string, ch *fanout.Channel[accel.Reading], o *BatchOpts, log *logrus.Entry) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if o == nil {
		o = &DefaultBatchOpts
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TCPServer{
		ch:           ch,
		opts:         *o,
		log:          log.WithField("transport", "tcp"),
		ln:           ln,
		writeTimeout: 5 * time.Second,
	}, nil
}

// Addr returns the listening address.
func (s *TCPServer) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts clients until ctx is done or Close is called, then waits for
// the client goroutines to exit.
func (s *TCPServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer s.wg.Wait()
	s.log.WithField("addr", s.ln.Addr().String()).Info("listening")
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("stream: accept: %w", err)
		}
		s.wg.Add(1)
		go s.serveClient(ctx, c)
	}
}

// Close stops accepting clients.
func (s *TCPServer) Close() error {
	return s.ln.Close()
}

func (s *TCPServer) serveClient(ctx context.Context, c net.Conn) {
	defer s.wg.Done()
	defer c.Close()
	log := s.log.WithField("client", c.RemoteAddr().String())
	sub := s.ch.Subscribe()
	defer sub.Close()
	log.Info("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	go func() {
		// Returns on hang-up.
		io.Copy(io.Discard, c)
		cancel()
	}()

	sink := NewBinarySink(c)
	err := NewBatcher(&s.opts, log).Run(ctx, sub, SinkFunc(func(b []accel.Reading) error {
		if err := c.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
		return sink.WriteBatch(b)
	}))
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("client dropped")
		return
	}
	log.Info("client disconnected")
}
