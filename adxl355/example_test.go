// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adxl355_test

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/accelstream/adxl355"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Bus 1, chip select 2.
	p, err := spireg.Open("SPI1.2")
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	o := adxl355.DefaultOpts
	o.ODR = adxl355.ODR1000Hz
	o.HPF = adxl355.HPF0_0238e4
	d, err := adxl355.New(p, &o)
	if err != nil {
		log.Fatal(err)
	}
	if err := d.Start(); err != nil {
		log.Fatal(err)
	}
	defer d.Halt()

	// Let the filters settle.
	time.Sleep(100 * time.Millisecond)

	for range 10 {
		a, err := d.Sense()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(a)
		time.Sleep(o.ODR.Period())
	}
}
