// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/acquire"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/GermanBionicSystems/accelstream/internal/config"
	"github.com/GermanBionicSystems/accelstream/meter"
	"github.com/GermanBionicSystems/accelstream/scope"
	"github.com/GermanBionicSystems/accelstream/stream"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/host/v3"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the acquisition daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("listen", "", "TCP address of the binary stream")
	f.String("http", "", "HTTP address of the stats, WebSocket, NDJSON and scope endpoints")
	f.String("udp", "", "UDP host:port to send binary datagrams to")
	f.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	f.String("mode", "", "acquisition mode: polling or edge")
	f.Bool("scope", false, "serve a live plot on /scope")
	f.Bool("meter", false, "show a bar meter on the terminal")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	c, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := host.Init(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	d, err := newDaemon(c, logrus.NewEntry(log))
	if err != nil {
		return err
	}
	return d.run(ctx)
}

// daemon owns the broadcast channel, the acquisition fleet and every output
// consuming the channel.
type daemon struct {
	cfg   *config.Config
	log   *logrus.Entry
	specs []acquire.DeviceSpec
	ch    *fanout.Channel[accel.Reading]
	batch stream.BatchOpts

	tcp     *stream.TCPServer
	httpLn  net.Listener
	http    *http.Server
	scope   *scope.Scope
	meter   *meter.Meter
	sinks   []namedSink
	closers []io.Closer

	fleet atomic.Pointer[acquire.Fleet]
	wg    sync.WaitGroup
}

type namedSink struct {
	name string
	stream.Sink
}

// newDaemon validates the configuration and binds every output. Nothing
// runs until run is called.
func newDaemon(c *config.Config, log *logrus.Entry) (d *daemon, err error) {
	specs, err := c.DeviceSpecs()
	if err != nil {
		return nil, err
	}
	if c.Acquisition.Capacity <= 0 {
		return nil, fmt.Errorf("invalid channel capacity %d", c.Acquisition.Capacity)
	}
	d = &daemon{
		cfg:   c,
		log:   log,
		specs: specs,
		ch:    fanout.New[accel.Reading](c.Acquisition.Capacity),
		batch: c.BatchOpts(),
	}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if c.TCP.Listen != "" {
		if d.tcp, err = stream.ListenTCP(c.TCP.Listen, d.ch, &d.batch, log); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, d.tcp)
	}
	if c.Scope.Enabled {
		so, err := c.ScopeOpts()
		if err != nil {
			return nil, err
		}
		so.Logger = log.WithField("output", "scope")
		if d.scope, err = scope.New(&so); err != nil {
			return nil, err
		}
	}
	if c.HTTP.Listen != "" {
		if d.httpLn, err = net.Listen("tcp", c.HTTP.Listen); err != nil {
			return nil, fmt.Errorf("http: %w", err)
		}
		d.closers = append(d.closers, d.httpLn)
		ro := stream.RouterOpts{Channel: d.ch, Stats: d, Batch: &d.batch, Logger: log}
		if d.scope != nil {
			ro.Scope = d.scope
		}
		d.http = &http.Server{Handler: stream.NewRouter(ro), ReadHeaderTimeout: 10 * time.Second}
	} else if d.scope != nil {
		log.Warn("scope enabled without http listener")
	}
	if c.UDP.Target != "" {
		u, err := stream.DialUDP(c.UDP.Target)
		if err != nil {
			return nil, err
		}
		d.sinks = append(d.sinks, namedSink{u.String(), u})
		d.closers = append(d.closers, u)
	}
	if c.MQTT.Broker != "" {
		mo, err := c.MQTTOpts()
		if err != nil {
			return nil, err
		}
		m, err := stream.DialMQTT(&mo, log)
		if err != nil {
			return nil, err
		}
		d.sinks = append(d.sinks, namedSink{"mqtt", m})
		d.closers = append(d.closers, m)
	}
	if c.Meter.Enabled {
		mo := c.MeterOpts()
		d.meter = meter.New(&mo)
	}
	return d, nil
}

// Stats implements stream.StatsSource.
func (d *daemon) Stats() []acquire.Stats {
	// /stats may be served before the fleet exists.
	if f := d.fleet.Load(); f != nil {
		return f.Stats()
	}
	return nil
}

// run starts the outputs, then the acquisition, and blocks until ctx is
// done. On the way out acquisition stops first and the channel is closed so
// that outputs flush what they buffered before returning.
func (d *daemon) run(ctx context.Context) error {
	outCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if d.tcp != nil {
		d.spawn(outCtx, "tcp", d.tcp.Serve)
	}
	if d.http != nil {
		d.log.WithField("addr", d.httpLn.Addr().String()).Info("http listening")
		d.spawn(outCtx, "http", func(context.Context) error {
			if err := d.http.Serve(d.httpLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if d.scope != nil {
		d.spawn(outCtx, "scope", func(ctx context.Context) error { return d.scope.Run(ctx, d.ch) })
	}
	for _, s := range d.sinks {
		d.spawn(outCtx, s.name, func(ctx context.Context) error {
			return stream.Forward(ctx, d.ch, s.Sink, &d.batch, d.log.WithField("output", s.name))
		})
	}
	if d.meter != nil {
		d.spawn(outCtx, "meter", func(ctx context.Context) error { return d.meter.Run(ctx, d.ch) })
	}

	f := acquire.StartFleet(ctx, d.specs, d.ch, d.log)
	d.fleet.Store(f)
	d.log.WithField("devices", len(f.Engines())).Info("running")

	<-ctx.Done()
	d.log.Info("shutting down")
	err := f.Stop()
	d.ch.Close()
	if d.http != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if serr := d.http.Shutdown(sctx); serr != nil {
			d.log.WithError(serr).Warn("http shutdown")
		}
		scancel()
	}
	cancel()
	d.wg.Wait()
	d.close()
	return err
}

func (d *daemon) spawn(ctx context.Context, name string, f func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := f(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.WithError(err).WithField("output", name).Error("output stopped")
		}
	}()
}

func (d *daemon) close() {
	for _, c := range d.closers {
		c.Close()
	}
	d.closers = nil
}
