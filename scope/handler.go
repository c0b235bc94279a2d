// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scope

import (
	"fmt"
	"image"
	"mime"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

// imageConfig is what a viewer asked for. Viewers sharing a config share the
// encoded frame.
type imageConfig struct {
	format ImageFormat
	size   image.Point
}

// configFromQuery reads the "format", "width" and "height" URL parameters.
// When only one dimension is given the other keeps the plot's aspect ratio.
func (s *Scope) configFromQuery(values url.Values) (imageConfig, error) {
	cfg := imageConfig{format: s.opts.Format}
	if value := values.Get("format"); value != "" {
		format, err := ParseImageFormat(value)
		if err != nil {
			return imageConfig{}, err
		}
		cfg.format = format
	}
	var dims [2]int
	for i, name := range []string{"width", "height"} {
		value := values.Get(name)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > maxFrameSize {
			return imageConfig{}, fmt.Errorf("scope: %s must be between 1 and %d, got %q", name, maxFrameSize, value)
		}
		dims[i] = n
	}
	cfg.size = frameSize(image.Point{s.opts.Width, s.opts.Height}, dims[0], dims[1])
	return cfg, nil
}

type client struct {
	refresh   chan struct{}
	terminate chan struct{}
}

func (s *Scope) bufferChangedLocked() {
	for cfg, buffer := range s.snapshot {
		if buffer != nil {
			//lint:ignore SA6002 buffer is []byte and thus pointer-like
			bufferPool.Put(buffer)
		}
		delete(s.snapshot, cfg)
	}
	for c := range s.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

func (s *Scope) terminateClientsLocked() {
	for c := range s.clients {
		select {
		case c.terminate <- struct{}{}:
		default:
		}
	}
}

// grabSnapshot returns the current frame scaled and encoded per cfg. Every
// config is encoded at most once per frame.
func (s *Scope) grabSnapshot(cfg imageConfig) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, ok := s.snapshot[cfg]
	if !ok {
		var err error
		if encoded, err = encode(s.buffer, cfg.size, cfg.format); err != nil {
			panic(fmt.Sprintf("encoding image failed: %v", err))
		}
		s.snapshot[cfg] = encoded
	}
	return append(bufferPool.Get().([]byte)[:0], encoded...)
}

func (s *Scope) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scope) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ServeHTTP handles HTTP GET requests and sends the current frame, then
// every new one, until the client goes away or Halt is called.
func (s *Scope) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.Body.Close(); err != nil {
		s.log.WithError(err).Debug("closing request body failed")
	}
	if r.Method != http.MethodGet {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}
	cfg, err := s.configFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pw := newPartWriter(w)
	w.Header().Set("Content-Type",
		mime.FormatMediaType("multipart/x-mixed-replace", map[string]string{
			"boundary": pw.boundary,
		}))

	c := &client{
		refresh:   make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
	}
	s.addClient(c)
	defer s.removeClient(c)
	log := s.log.WithField("client", r.RemoteAddr)
	log.Info("viewer connected")
	defer log.Info("viewer left")

	partHeaders := make(textproto.MIMEHeader)
	partHeaders.Set("Content-Type", mime.FormatMediaType(cfg.format.mimeType(), nil))
	partHeaders.Set("Content-Transfer-Encoding", "binary")

	for {
		payload := s.grabSnapshot(cfg)
		err := pw.writeFrame(partHeaders, payload)
		//lint:ignore SA6002 buffer is []byte and thus pointer-like
		bufferPool.Put(payload)
		if err != nil {
			// There is no way to report an error within an image stream.
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-c.refresh:
		case <-c.terminate:
			return
		case <-r.Context().Done():
			return
		}
	}
}
