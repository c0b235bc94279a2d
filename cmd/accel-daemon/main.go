// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// accel-daemon samples ADXL355 accelerometers on SPI and streams the
// readings to TCP, UDP, MQTT, WebSocket and HTTP clients.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
