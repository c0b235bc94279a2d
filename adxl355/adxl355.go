// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adxl355

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrWrongDevice is returned by New when the PartID register does not
	// hold the expected value.
	ErrWrongDevice = errors.New("adxl355: unexpected part id")

	// ErrInvalidSetting is returned when an option is out of its enumeration.
	ErrInvalidSetting = errors.New("adxl355: invalid setting")
)

// SPI link parameters.
var (
	SpiFrequency = physic.MegaHertz
	SpiMode      = spi.Mode0
	SpiBits      = 8
)

// RawAcceleration holds the sign extended 20 bit output of each axis.
type RawAcceleration struct {
	X, Y, Z int32
}

func (a RawAcceleration) String() string {
	return fmt.Sprintf("X:%d Y:%d Z:%d", a.X, a.Y, a.Z)
}

// Acceleration holds the acceleration of each axis in g.
type Acceleration struct {
	X, Y, Z float32
}

func (a Acceleration) String() string {
	return fmt.Sprintf("X:%.6fg Y:%.6fg Z:%.6fg", a.X, a.Y, a.Z)
}

// Dev is a handle to an ADXL355.
type Dev struct {
	c    spi.Conn
	opts Opts
}

// New connects to an ADXL355 on the SPI port, verifies its identity and
// applies the filter and range settings. The device is left in standby, call
// Start to begin measuring.
//
// A nil o means DefaultOpts. A device answering with an unexpected PartID is
// rejected with ErrWrongDevice.
func New(p spi.Port, o *Opts) (*Dev, error) {
	if o == nil {
		o = &DefaultOpts
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	c, err := p.Connect(SpiFrequency, SpiMode, SpiBits)
	if err != nil {
		return nil, fmt.Errorf("adxl355: %w", err)
	}
	d := &Dev{c: c, opts: *o}

	id, err := d.PartID()
	if err != nil {
		return nil, err
	}
	if id != o.ExpectedPartID {
		return nil, fmt.Errorf("%w: read %#x, expected %#x", ErrWrongDevice, id, o.ExpectedPartID)
	}
	if err := d.writeRegister(Filter, o.filter()); err != nil {
		return nil, err
	}
	if err := d.writeRegister(RangeReg, byte(o.Range)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("ADXL355{%s, ODR:%s, HPF:%s, Range:%s}", d.c, d.opts.ODR, d.opts.HPF, d.opts.Range)
}

// Opts returns the configuration applied by New.
func (d *Dev) Opts() Opts {
	return d.opts
}

// Start puts the device in measurement mode. The device powers up in standby.
func (d *Dev) Start() error {
	return d.writeRegister(PowerCtl, powerMeasure)
}

// Standby stops measuring.
func (d *Dev) Standby() error {
	return d.writeRegister(PowerCtl, powerStandby)
}

// Halt implements conn.Resource by putting the device in standby.
func (d *Dev) Halt() error {
	return d.Standby()
}

// Reset performs a power-on reset. The settings applied by New are lost.
func (d *Dev) Reset() error {
	return d.writeRegister(ResetReg, resetCode)
}

// PartID reads the device identification register.
func (d *Dev) PartID() (byte, error) {
	return d.readRegister(PartID)
}

// SenseRaw reads the three axes in a single transaction.
func (d *Dev) SenseRaw() (RawAcceleration, error) {
	// One command byte followed by 3 axes × 3 bytes.
	var tx, rx [10]byte
	tx[0] = readCmd(XData3)
	if err := d.c.Tx(tx[:], rx[:]); err != nil {
		return RawAcceleration{}, fmt.Errorf("adxl355: read acceleration: %w", err)
	}
	return RawAcceleration{
		X: decodeAxis(rx[1], rx[2], rx[3]),
		Y: decodeAxis(rx[4], rx[5], rx[6]),
		Z: decodeAxis(rx[7], rx[8], rx[9]),
	}, nil
}

// Sense reads the three axes and converts them to g using the configured
// range.
func (d *Dev) Sense() (Acceleration, error) {
	raw, err := d.SenseRaw()
	if err != nil {
		return Acceleration{}, err
	}
	s := d.opts.Range.Scale()
	return Acceleration{
		X: normalize(raw.X, s),
		Y: normalize(raw.Y, s),
		Z: normalize(raw.Z, s),
	}, nil
}

// TemperatureRaw returns the 12 bit content of the temperature registers.
func (d *Dev) TemperatureRaw() (uint16, error) {
	tx := [3]byte{readCmd(Temp2)}
	var rx [3]byte
	if err := d.c.Tx(tx[:], rx[:]); err != nil {
		return 0, fmt.Errorf("adxl355: read temperature: %w", err)
	}
	return uint16(rx[1]&0x0F)<<8 | uint16(rx[2]), nil
}

// Temperature returns the die temperature.
func (d *Dev) Temperature() (physic.Temperature, error) {
	raw, err := d.TemperatureRaw()
	if err != nil {
		return 0, err
	}
	return rawToTemperature(raw), nil
}

// decodeAxis sign extends the 20 significant bits of an axis. The three
// bytes are left aligned in a 32 bit word and shifted back arithmetically.
func decodeAxis(b0, b1, b2 byte) int32 {
	return int32(uint32(b0)<<24|uint32(b1)<<16|uint32(b2&0xF0)<<8) >> 12
}

func normalize(raw int32, scale float32) float32 {
	return float32(raw) / accelMaxI20 * scale
}

func rawToTemperature(raw uint16) physic.Temperature {
	c := tempInterceptC + (float64(raw)-tempInterceptLSB)/tempSlopeLSB
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius))
}

func (d *Dev) readRegister(reg byte) (byte, error) {
	tx := [2]byte{readCmd(reg), 0}
	var rx [2]byte
	if err := d.c.Tx(tx[:], rx[:]); err != nil {
		return 0, fmt.Errorf("adxl355: read register %#x: %w", reg, err)
	}
	return rx[1], nil
}

func (d *Dev) writeRegister(reg, value byte) error {
	if err := d.c.Tx([]byte{writeCmd(reg), value}, nil); err != nil {
		return fmt.Errorf("adxl355: write register %#x: %w", reg, err)
	}
	return nil
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
