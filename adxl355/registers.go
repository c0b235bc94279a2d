// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adxl355

// Register map.
const (
	DevIDAD     = 0x00 // Analog Devices ID, 0xAD
	DevIDMST    = 0x01 // MEMS ID, 0x1D
	PartID      = 0x02 // Device ID, 0xED
	RevID       = 0x03 // Mask revision
	Status      = 0x04 // Data ready, FIFO and activity status
	FifoEntries = 0x05 // Number of valid data samples in the FIFO
	Temp2       = 0x06 // Temperature bits [11:8]
	Temp1       = 0x07 // Temperature bits [7:0]
	XData3      = 0x08 // X-axis data bits [19:12]
	XData2      = 0x09 // X-axis data bits [11:4]
	XData1      = 0x0A // X-axis data bits [3:0]
	YData3      = 0x0B
	YData2      = 0x0C
	YData1      = 0x0D
	ZData3      = 0x0E
	ZData2      = 0x0F
	ZData1      = 0x10
	FifoData    = 0x11

	OffsetXH    = 0x1E
	OffsetXL    = 0x1F
	OffsetYH    = 0x20
	OffsetYL    = 0x21
	OffsetZH    = 0x22
	OffsetZL    = 0x23
	ActEn       = 0x24
	ActThreshH  = 0x25
	ActThreshL  = 0x26
	ActCount    = 0x27
	Filter      = 0x28 // High-pass corner [6:4], ODR and low-pass corner [3:0]
	FifoSamples = 0x29
	IntMap      = 0x2A
	Sync        = 0x2B
	RangeReg    = 0x2C // I2C speed, interrupt polarity and range [1:0]
	PowerCtl    = 0x2D // Standby [0], TEMP_OFF [1], DRDY_OFF [2]
	SelfTest    = 0x2E
	ResetReg    = 0x2F // Write resetCode to trigger a power-on reset
)

const (
	spiRead  byte = 0x01
	spiWrite byte = 0x00

	// DefaultPartID is the content of the PartID register on an ADXL355.
	DefaultPartID byte = 0xED

	powerMeasure byte = 0x00
	powerStandby byte = 0x01
	resetCode    byte = 0x52

	// accelMaxI20 is the largest magnitude of a 20 bit signed integer.
	accelMaxI20 = 524287

	// Temperature transfer function.
	tempInterceptLSB = 1885.0
	tempInterceptC   = 25.0
	tempSlopeLSB     = -9.05
)

func readCmd(reg byte) byte {
	return reg<<1 | spiRead
}

func writeCmd(reg byte) byte {
	return reg<<1 | spiWrite
}
