// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/GermanBionicSystems/accelstream/acquire"
	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/GermanBionicSystems/accelstream/meter"
	"github.com/GermanBionicSystems/accelstream/scope"
	"github.com/GermanBionicSystems/accelstream/stream"
)

// SensorOpts parses the device settings. Empty fields keep the power-on
// values of adxl355.DefaultOpts.
func (d Device) SensorOpts() (adxl355.Opts, error) {
	o := adxl355.DefaultOpts
	var err error
	if d.ODR != "" {
		if o.ODR, err = adxl355.ParseODR(d.ODR); err != nil {
			return o, err
		}
	}
	if d.HPF != "" {
		if o.HPF, err = adxl355.ParseHPFCorner(d.HPF); err != nil {
			return o, err
		}
	}
	if d.Range != "" {
		if o.Range, err = adxl355.ParseRange(d.Range); err != nil {
			return o, err
		}
	}
	return o, nil
}

func (d Device) Descriptor() acquire.Descriptor {
	return acquire.Descriptor{Bus: d.Bus, ChipSelect: d.ChipSelect, DataReady: d.DataReady}
}

// DeviceSpecs returns one acquire.DeviceSpec per configured device, in
// order, so that the i-th device gets index i.
func (c *Config) DeviceSpecs() ([]acquire.DeviceSpec, error) {
	mode, err := acquire.ParseMode(c.Acquisition.Mode)
	if err != nil {
		return nil, err
	}
	eo := acquire.DefaultOpts
	eo.Mode = mode
	eo.PollInterval = c.Acquisition.PollInterval
	eo.SettleDelay = c.Acquisition.SettleDelay
	specs := make([]acquire.DeviceSpec, 0, len(c.Devices))
	for i, d := range c.Devices {
		so, err := d.SensorOpts()
		if err != nil {
			return nil, fmt.Errorf("config: device %d: %w", i, err)
		}
		specs = append(specs, acquire.DeviceSpec{Descriptor: d.Descriptor(), Sensor: so, Engine: eo})
	}
	return specs, nil
}

func (c *Config) BatchOpts() stream.BatchOpts {
	o := stream.DefaultBatchOpts
	if c.Batch.Size > 0 {
		o.Size = c.Batch.Size
	}
	if c.Batch.FlushInterval > 0 {
		o.FlushInterval = c.Batch.FlushInterval
	}
	return o
}

func (c *Config) MQTTOpts() (stream.MQTTOpts, error) {
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return stream.MQTTOpts{}, fmt.Errorf("config: invalid mqtt qos %d", c.MQTT.QoS)
	}
	o := stream.DefaultMQTTOpts
	o.Broker = c.MQTT.Broker
	o.ClientID = c.MQTT.ClientID
	o.Username = c.MQTT.Username
	o.Password = c.MQTT.Password
	if c.MQTT.TopicPrefix != "" {
		o.TopicPrefix = c.MQTT.TopicPrefix
	}
	o.QoS = byte(c.MQTT.QoS)
	return o, nil
}

// fullScale is the range in g of the device at index i, or 2g when there is
// no such device.
func (c *Config) fullScale(i int) float32 {
	if i < 0 || i >= len(c.Devices) {
		return adxl355.Range2G.Scale()
	}
	o, err := c.Devices[i].SensorOpts()
	if err != nil {
		return adxl355.Range2G.Scale()
	}
	return o.Range.Scale()
}

func (c *Config) ScopeOpts() (scope.Opts, error) {
	o := scope.DefaultOpts
	if c.Scope.Format != "" {
		f, err := scope.ParseImageFormat(c.Scope.Format)
		if err != nil {
			return o, err
		}
		o.Format = f
	}
	if c.Scope.Width > 0 {
		o.Width = c.Scope.Width
	}
	if c.Scope.Height > 0 {
		o.Height = c.Scope.Height
	}
	if c.Scope.Window > 0 {
		o.Window = c.Scope.Window
	}
	o.Device = uint32(c.Scope.Device)
	o.FullScale = float64(c.fullScale(c.Scope.Device))
	return o, nil
}

func (c *Config) MeterOpts() meter.Opts {
	return meter.Opts{Device: uint32(c.Meter.Device), FullScale: c.fullScale(c.Meter.Device)}
}
