// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package acquire drives sampling of ADXL355 accelerometers and publishes
// timestamped readings.
//
// An Engine owns one sensor. It either polls it at a fixed period or reads it
// on every falling edge of the device's data-ready line. The state shared
// with the triggering goroutine, the previous sample instant and the rate
// window, is only ever touched through atomic swap and compare-and-swap so
// that the trigger path never waits on a lock.
package acquire
