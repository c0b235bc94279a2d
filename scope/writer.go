// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scope

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
)

// randomBoundary generates a MIME multipart boundary compatible with RFC 2046
// (section 5.1.1).
func randomBoundary() string {
	var buf [34]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", buf[:])
}

// partWriter writes a never ending multipart/x-mixed-replace body. Each frame
// is terminated by the boundary so that the client can show it right away.
type partWriter struct {
	u        io.Writer
	boundary string
	started  bool
	head     bytes.Buffer
}

func newPartWriter(u io.Writer) *partWriter {
	return &partWriter{u: u, boundary: randomBoundary()}
}

// writeFrame sends one part. header gets a Content-Length entry.
func (w *partWriter) writeFrame(header textproto.MIMEHeader, body []byte) error {
	header.Set("Content-Length", strconv.Itoa(len(body)))
	w.head.Reset()
	if !w.started {
		fmt.Fprintf(&w.head, "--%s\r\n", w.boundary)
		w.started = true
	}
	for name, values := range header {
		for _, value := range values {
			fmt.Fprintf(&w.head, "%s: %s\r\n", name, value)
		}
	}
	w.head.WriteString("\r\n")
	if _, err := w.head.WriteTo(w.u); err != nil {
		return err
	}
	if _, err := w.u.Write(body); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w.u, "\r\n--%s\r\n", w.boundary)
	return err
}
