// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/GermanBionicSystems/accelstream/accel"
)

// MaxDatagramRecords is the number of records sent per datagram. 64 records
// are 1280 bytes, below the usual 1500 bytes Ethernet MTU.
const MaxDatagramRecords = 64

// UDPSender sends binary records to a fixed destination.
type UDPSender struct {
	c   net.Conn
	buf []byte
}

// DialUDP returns a sender for addr, in host:port form.
func DialUDP(addr string) (*UDPSender, error) {
	c, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return &UDPSender{c: c}, nil
}

func (u *UDPSender) String() string {
	return "udp:" + u.c.RemoteAddr().String()
}

// WriteBatch implements Sink. The batch is split in datagrams of at most
// MaxDatagramRecords records. Nobody listening at the destination is not an
// error.
func (u *UDPSender) WriteBatch(b []accel.Reading) error {
	for len(b) > 0 {
		n := min(len(b), MaxDatagramRecords)
		u.buf = accel.AppendRecords(u.buf[:0], b[:n])
		if _, err := u.c.Write(u.buf); err != nil && !errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("stream: udp: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// Close releases the socket.
func (u *UDPSender) Close() error {
	return u.c.Close()
}
