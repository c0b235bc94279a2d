// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adxl355 controls an ADXL355 low noise 3-axis accelerometer over SPI.
//
// The driver only speaks the register protocol: it has no notion of timing,
// goroutines or distribution. A Dev is not safe for concurrent use since
// register transactions are not atomic with respect to each other.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/adxl354_355.pdf
package adxl355
