// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"encoding/json"
	"net/http"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/sirupsen/logrus"
)

// NDJSONHandler streams readings over a plain HTTP response, one JSON object
// per line. The response is flushed after every batch.
type NDJSONHandler struct {
	ch   *fanout.Channel[accel.Reading]
	opts BatchOpts
	log  *logrus.Entry
}

// NewNDJSONHandler returns a handler serving ch.
func NewNDJSONHandler(ch *fanout.Channel[accel.Reading], o *BatchOpts, log *logrus.Entry) *NDJSONHandler {
	if o == nil {
		o = &DefaultBatchOpts
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NDJSONHandler{ch: ch, opts: *o, log: log.WithField("transport", "ndjson")}
}

func (h *NDJSONHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	log := h.log.WithField("client", r.RemoteAddr)
	sub := h.ch.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	log.Info("client connected")

	enc := json.NewEncoder(w)
	err := NewBatcher(&h.opts, log).Run(r.Context(), sub, SinkFunc(func(b []accel.Reading) error {
		for _, v := range b {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		f.Flush()
		return nil
	}))
	if err != nil && r.Context().Err() == nil {
		log.WithError(err).Warn("client dropped")
		return
	}
	log.Info("client disconnected")
}
