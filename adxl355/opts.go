// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adxl355

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

// ODR is the output data rate. The low-pass filter corner is always ODR/4.
//
// The value is written as is in the low nibble of the Filter register.
type ODR byte

const (
	ODR4000Hz   ODR = 0x00
	ODR2000Hz   ODR = 0x01
	ODR1000Hz   ODR = 0x02
	ODR500Hz    ODR = 0x03
	ODR250Hz    ODR = 0x04
	ODR125Hz    ODR = 0x05
	ODR62_5Hz   ODR = 0x06
	ODR31_25Hz  ODR = 0x07
	ODR15_625Hz ODR = 0x08
	ODR7_813Hz  ODR = 0x09
	ODR3_906Hz  ODR = 0x0A
)

var odrNames = []string{"4000Hz", "2000Hz", "1000Hz", "500Hz", "250Hz", "125Hz", "62.5Hz", "31.25Hz", "15.625Hz", "7.813Hz", "3.906Hz"}

func (o ODR) valid() bool {
	return o <= ODR3_906Hz
}

// Period returns the nominal time between two samples, from 250µs at 4kHz up
// to 256ms at 3.906Hz.
func (o ODR) Period() time.Duration {
	return (250 * time.Microsecond) << o
}

// Frequency returns the nominal sampling frequency.
func (o ODR) Frequency() physic.Frequency {
	return physic.PeriodToFrequency(o.Period())
}

func (o ODR) String() string {
	if !o.valid() {
		return fmt.Sprintf("ODR(%d)", byte(o))
	}
	return odrNames[o]
}

// ParseODR parses the textual form returned by ODR.String. The "Hz" suffix is
// optional.
func ParseODR(s string) (ODR, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(strings.ToLower(s), "hz") {
		s += "Hz"
	}
	for i, n := range odrNames {
		if strings.EqualFold(n, s) {
			return ODR(i), nil
		}
	}
	return 0, fmt.Errorf("%w: output data rate %q", ErrInvalidSetting, s)
}

// HPFCorner is the -3dB corner of the high-pass filter, relative to the ODR.
//
// The value is written in bits [6:4] of the Filter register.
type HPFCorner byte

const (
	HPFOff      HPFCorner = 0x00 // No high-pass filter
	HPF24_7e4   HPFCorner = 0x01 // 24.7e-4 × ODR
	HPF6_2084e4 HPFCorner = 0x02 // 6.2084e-4 × ODR
	HPF1_5545e4 HPFCorner = 0x03 // 1.5545e-4 × ODR
	HPF0_3862e4 HPFCorner = 0x04 // 0.3862e-4 × ODR
	HPF0_0954e4 HPFCorner = 0x05 // 0.0954e-4 × ODR
	HPF0_0238e4 HPFCorner = 0x06 // 0.0238e-4 × ODR
)

var hpfNames = []string{"off", "24.7e-4", "6.2084e-4", "1.5545e-4", "0.3862e-4", "0.0954e-4", "0.0238e-4"}

func (h HPFCorner) valid() bool {
	return h <= HPF0_0238e4
}

func (h HPFCorner) String() string {
	if !h.valid() {
		return fmt.Sprintf("HPFCorner(%d)", byte(h))
	}
	return hpfNames[h]
}

// ParseHPFCorner parses the textual form returned by HPFCorner.String.
func ParseHPFCorner(s string) (HPFCorner, error) {
	s = strings.TrimSpace(s)
	for i, n := range hpfNames {
		if strings.EqualFold(n, s) {
			return HPFCorner(i), nil
		}
	}
	return 0, fmt.Errorf("%w: high-pass corner %q", ErrInvalidSetting, s)
}

// Range is the measurement range, written in bits [1:0] of the Range register.
type Range byte

const (
	Range2G Range = 0x01 // ±2g
	Range4G Range = 0x02 // ±4g
	Range8G Range = 0x03 // ±8g
)

func (r Range) valid() bool {
	return r >= Range2G && r <= Range8G
}

// Scale returns the full scale value in g.
func (r Range) Scale() float32 {
	switch r {
	case Range2G:
		return 2
	case Range4G:
		return 4
	case Range8G:
		return 8
	}
	return 0
}

func (r Range) String() string {
	if !r.valid() {
		return fmt.Sprintf("Range(%d)", byte(r))
	}
	return fmt.Sprintf("%dg", int(r.Scale()))
}

// ParseRange accepts "2g", "4g", "8g", with or without the ± sign.
func ParseRange(s string) (Range, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "±")
	if !strings.HasSuffix(s, "g") {
		s += "g"
	}
	for _, r := range []Range{Range2G, Range4G, Range8G} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: range %q", ErrInvalidSetting, s)
}

// Opts holds the device configuration. It is applied once by New.
type Opts struct {
	ODR            ODR       // Output data rate
	HPF            HPFCorner // High-pass filter corner
	Range          Range     // Measurement range
	ExpectedPartID byte      // Expected content of PartID, used to verify the device
}

// DefaultOpts matches the power-on reset state of the device.
var DefaultOpts = Opts{
	ODR:            ODR4000Hz,
	HPF:            HPFOff,
	Range:          Range2G,
	ExpectedPartID: DefaultPartID,
}

func (o *Opts) validate() error {
	if !o.ODR.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSetting, o.ODR)
	}
	if !o.HPF.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSetting, o.HPF)
	}
	if !o.Range.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSetting, o.Range)
	}
	return nil
}

func (o *Opts) filter() byte {
	return byte(o.HPF)<<4 | byte(o.ODR)
}
