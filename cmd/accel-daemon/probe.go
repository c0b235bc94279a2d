// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/GermanBionicSystems/accelstream/acquire"
	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/GermanBionicSystems/accelstream/internal/config"
	"github.com/spf13/cobra"
	"periph.io/x/host/v3"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open each configured accelerometer and print one reading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if _, err := host.Init(); err != nil {
			return err
		}
		return probe(cmd.OutOrStdout(), c, acquire.Open)
	},
}

type openFunc func(acquire.Descriptor, acquire.Mode, *adxl355.Opts) (*acquire.Device, error)

// probe reports on every device and returns an error if any failed.
func probe(w io.Writer, c *config.Config, open openFunc) error {
	specs, err := c.DeviceSpecs()
	if err != nil {
		return err
	}
	failed := 0
	for i, spec := range specs {
		if err := probeOne(w, i, spec, open); err != nil {
			fmt.Fprintf(w, "%d %s: %v\n", i, spec.Descriptor, err)
			failed++
		}
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d devices failed", failed, len(specs))
	}
	return nil
}

func probeOne(w io.Writer, i int, spec acquire.DeviceSpec, open openFunc) error {
	// A single reading needs no data-ready line.
	dev, err := open(spec.Descriptor, acquire.Polling, &spec.Sensor)
	if err != nil {
		return err
	}
	defer dev.Close()
	id, err := dev.Sensor.PartID()
	if err != nil {
		return err
	}
	temp, err := dev.Sensor.Temperature()
	if err != nil {
		return err
	}
	if err := dev.Sensor.Start(); err != nil {
		return err
	}
	time.Sleep(spec.Engine.SettleDelay)
	a, err := dev.Sensor.Sense()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d %s: part %#x, %s, %s\n  %s\n", i, spec.Descriptor, id, temp, dev.Sensor, a)
	return nil
}
