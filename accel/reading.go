// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package accel holds the Reading value produced by the acquisition engine
// and its network encodings.
package accel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// RecordSize is the size in bytes of one binary encoded Reading.
const RecordSize = 20

// Reading is one tri-axial sample from one device.
//
// Gap is the number of microseconds since the previous Reading from the same
// device. It is 0 for the first Reading after the device was started.
type Reading struct {
	Index uint32  `json:"idx"`
	Gap   uint32  `json:"gap"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Z     float32 `json:"z"`
}

var errShortRecord = errors.New("accel: short record")

func (r Reading) String() string {
	return fmt.Sprintf("#%d +%dµs X:%.6fg Y:%.6fg Z:%.6fg", r.Index, r.Gap, r.X, r.Y, r.Z)
}

// AppendBinary appends the 20 byte little-endian record of r to b.
//
// Layout: index, gap, x, y, z; 4 bytes each, floats as IEEE-754 single
// precision.
func (r Reading) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.Index)
	b = binary.LittleEndian.AppendUint32(b, r.Gap)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(r.X))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(r.Y))
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(r.Z))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Reading) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Extra bytes past the
// first record are ignored.
func (r *Reading) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return errShortRecord
	}
	r.Index = binary.LittleEndian.Uint32(b[0:])
	r.Gap = binary.LittleEndian.Uint32(b[4:])
	r.X = math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))
	r.Y = math.Float32frombits(binary.LittleEndian.Uint32(b[12:]))
	r.Z = math.Float32frombits(binary.LittleEndian.Uint32(b[16:]))
	return nil
}

// AppendRecords appends the binary records of all readings to b.
func AppendRecords(b []byte, readings []Reading) []byte {
	for _, r := range readings {
		b = r.AppendBinary(b)
	}
	return b
}

// DecodeRecords decodes a buffer made of whole binary records.
func DecodeRecords(b []byte) ([]Reading, error) {
	if len(b)%RecordSize != 0 {
		return nil, fmt.Errorf("accel: %d bytes is not a multiple of %d", len(b), RecordSize)
	}
	out := make([]Reading, len(b)/RecordSize)
	for i := range out {
		if err := out[i].UnmarshalBinary(b[i*RecordSize:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
