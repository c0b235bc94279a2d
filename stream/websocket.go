// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	"github.com/GermanBionicSystems/accelstream/fanout"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler streams batches as JSON arrays, one text message per
// batch. The connection ends when the client sends a close frame or goes
// away.
type WebSocketHandler struct {
	ch       *fanout.Channel[accel.Reading]
	opts     BatchOpts
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

// NewWebSocketHandler returns a handler serving ch.
func NewWebSocketHandler(ch *fanout.Channel[accel.Reading], o *BatchOpts, log *logrus.Entry) *WebSocketHandler {
	if o == nil {
		o = &DefaultBatchOpts
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebSocketHandler{
		ch:   ch,
		opts: *o,
		log:  log.WithField("transport", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithField("client", r.RemoteAddr)
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.WithError(err).Warn("upgrade failed")
		return
	}
	defer c.Close()
	sub := h.ch.Subscribe()
	defer sub.Close()
	log.Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		// The default close handler answers close frames; ReadMessage then
		// fails.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = NewBatcher(&h.opts, log).Run(ctx, sub, SinkFunc(func(b []accel.Reading) error {
		if err := c.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return err
		}
		return c.WriteJSON(b)
	}))
	switch {
	case err == nil:
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		log.Info("closed")
	case ctx.Err() != nil:
		log.Info("client disconnected")
	default:
		log.WithError(err).Warn("client dropped")
	}
}
