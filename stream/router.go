// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"net/http"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/acquire"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// StatsSource reports the acquisition counters. *acquire.Fleet implements it.
type StatsSource interface {
	Stats() []acquire.Stats
}

// Status is the document served on /stats.
type Status struct {
	Devices   []acquire.Stats `json:"devices"`
	Receivers int             `json:"receivers"`
	Capacity  int             `json:"capacity"`
	Uptime    string          `json:"uptime"`
}

// RouterOpts configures NewRouter.
type RouterOpts struct {
	Channel *fanout.Channel[accel.Reading]
	Stats   StatsSource
	Batch   *BatchOpts
	// Scope, when set, is mounted on /scope.
	Scope  http.Handler
	Logger *logrus.Entry
}

// NewRouter returns the HTTP surface of the daemon:
//
//	GET /stats    acquisition counters as JSON
//	GET /ws       WebSocket stream of JSON batches
//	GET /ndjson   newline delimited JSON stream
//	GET /scope    live plot, when configured
func NewRouter(o RouterOpts) chi.Router {
	start := time.Now()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		s := Status{
			Devices:   []acquire.Stats{},
			Receivers: o.Channel.ReceiverCount(),
			Capacity:  o.Channel.Cap(),
			Uptime:    time.Since(start).Round(time.Second).String(),
		}
		if o.Stats != nil {
			s.Devices = append(s.Devices, o.Stats.Stats()...)
		}
		render.JSON(w, req, s)
	})
	r.Method(http.MethodGet, "/ws", NewWebSocketHandler(o.Channel, o.Batch, o.Logger))
	r.Method(http.MethodGet, "/ndjson", NewNDJSONHandler(o.Channel, o.Batch, o.Logger))
	if o.Scope != nil {
		r.Method(http.MethodGet, "/scope", o.Scope)
	}
	return r
}
