// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stream distributes accelerometer readings to network clients.
//
// Every client gets its own subscription to the fan-out channel and its own
// Batcher, so that a slow client only ever loses its own readings. The
// transports differ only in how a batch is encoded: packed 20 byte binary
// records over TCP and UDP, JSON arrays over WebSocket and MQTT, and one JSON
// object per line over plain HTTP.
package stream
