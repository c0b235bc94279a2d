// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package accelstream samples ADXL355 accelerometers over SPI and distributes
// the readings to network clients.
//
// The pipeline is adxl355 (driver) → acquire (one engine per sensor) →
// fanout (bounded broadcast) → stream, scope and meter (consumers). The
// daemon lives in cmd/accel-daemon.
package accelstream
