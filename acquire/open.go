// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package acquire

import (
	"fmt"
	"io"

	"github.com/GermanBionicSystems/accelstream/adxl355"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
)

// Descriptor locates one accelerometer.
type Descriptor struct {
	Bus        int    `mapstructure:"bus" yaml:"bus"`
	ChipSelect int    `mapstructure:"cs" yaml:"cs"`
	DataReady  string `mapstructure:"drdy" yaml:"drdy"` // GPIO name, empty when not wired
}

// SPIName returns the name of the port in the spireg registry.
func (d Descriptor) SPIName() string {
	return fmt.Sprintf("SPI%d.%d", d.Bus, d.ChipSelect)
}

func (d Descriptor) String() string {
	if d.DataReady == "" {
		return d.SPIName()
	}
	return d.SPIName() + "/" + d.DataReady
}

// Device is an opened accelerometer.
type Device struct {
	Descriptor Descriptor
	Sensor     *adxl355.Dev
	DataReady  gpio.PinIn // nil unless opened for EdgeTriggered mode
	port       io.Closer
}

// Open opens the SPI port and initializes the sensor with o. host.Init must
// have been called.
//
// The data-ready pin is only resolved for EdgeTriggered mode; polling never
// touches it, so an unknown pin name is not an error there.
func Open(d Descriptor, mode Mode, o *adxl355.Opts) (*Device, error) {
	var pin gpio.PinIn
	if mode == EdgeTriggered {
		if d.DataReady == "" {
			return nil, fmt.Errorf("%w: no data-ready pin configured", ErrSignalUnavailable)
		}
		p := gpioreg.ByName(d.DataReady)
		if p == nil {
			return nil, fmt.Errorf("%w: no pin %q", ErrSignalUnavailable, d.DataReady)
		}
		pin = p
	}
	port, err := spireg.Open(d.SPIName())
	if err != nil {
		return nil, fmt.Errorf("acquire: open %s: %w", d.SPIName(), err)
	}
	s, err := adxl355.New(port, o)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("acquire: %s: %w", d.SPIName(), err)
	}
	return &Device{Descriptor: d, Sensor: s, DataReady: pin, port: port}, nil
}

// Close puts the sensor in standby and releases the port.
func (d *Device) Close() error {
	err := d.Sensor.Halt()
	if d.port != nil {
		if cerr := d.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
