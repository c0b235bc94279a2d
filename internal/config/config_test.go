// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GermanBionicSystems/accelstream/acquire"
	"github.com/GermanBionicSystems/accelstream/adxl355"
	"github.com/GermanBionicSystems/accelstream/scope"
	"github.com/GermanBionicSystems/accelstream/stream"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return logrus.NewEntry(l)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	c, err := Load("", nil, quiet())
	require.NoError(t, err)
	assert.Equal(t, Default(), *c)
	assert.Equal(t, ":14389", c.TCP.Listen)
	assert.Equal(t, 100, c.Acquisition.Capacity)
	require.Len(t, c.Devices, 1)
	assert.Equal(t, "GPIO19", c.Devices[0].DataReady)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, "accel.yaml", `
devices:
  - bus: 0
    cs: 0
    drdy: GPIO25
    odr: 4000Hz
    hpf: "off"
    range: 8g
  - bus: 0
    cs: 1
acquisition:
  mode: edge
  settle_delay: 250ms
batch:
  size: 32
udp:
  target: 10.0.0.2:9000
scope:
  enabled: true
  format: jpeg
`)
	c, err := Load(p, nil, quiet())
	require.NoError(t, err)
	require.Len(t, c.Devices, 2)
	assert.Equal(t, Device{Bus: 0, ChipSelect: 0, DataReady: "GPIO25", ODR: "4000Hz", HPF: "off", Range: "8g"}, c.Devices[0])
	assert.Equal(t, 1, c.Devices[1].ChipSelect)
	assert.Equal(t, "edge", c.Acquisition.Mode)
	assert.Equal(t, 250*time.Millisecond, c.Acquisition.SettleDelay)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 900*time.Microsecond, c.Acquisition.PollInterval)
	assert.Equal(t, 32, c.Batch.Size)
	assert.Equal(t, time.Second, c.Batch.FlushInterval)
	assert.Equal(t, "10.0.0.2:9000", c.UDP.Target)
	assert.True(t, c.Scope.Enabled)
	assert.Equal(t, "jpeg", c.Scope.Format)
	assert.Equal(t, 640, c.Scope.Width)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil, quiet())
	assert.Error(t, err)
}

func TestLoadInvalidFile(t *testing.T) {
	p := writeFile(t, "bad.yaml", "tcp: [unterminated\n")
	_, err := Load(p, nil, quiet())
	assert.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	p := writeFile(t, "accel.yaml", "tcp:\n  listen: :1000\n")
	t.Setenv("ACCEL_TCP_LISTEN", ":2000")
	t.Setenv("ACCEL_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("ACCEL_BATCH_FLUSH_INTERVAL", "250ms")
	c, err := Load(p, nil, quiet())
	require.NoError(t, err)
	assert.Equal(t, ":2000", c.TCP.Listen)
	assert.Equal(t, "tcp://broker:1883", c.MQTT.Broker)
	assert.Equal(t, 250*time.Millisecond, c.Batch.FlushInterval)
}

func TestLoadFlags(t *testing.T) {
	p := writeFile(t, "accel.yaml", "tcp:\n  listen: :1000\nacquisition:\n  mode: polling\n")
	t.Setenv("ACCEL_TCP_LISTEN", ":2000")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("listen", "", "")
	fs.String("mode", "", "")
	fs.Bool("meter", false, "")
	require.NoError(t, fs.Parse([]string{"--listen", ":3000", "--meter"}))
	c, err := Load(p, fs, quiet())
	require.NoError(t, err)
	assert.Equal(t, ":3000", c.TCP.Listen)
	assert.True(t, c.Meter.Enabled)
	// Unset flags do not shadow the file.
	assert.Equal(t, "polling", c.Acquisition.Mode)
}

func TestLoadDotEnvSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ACCEL_LOG_LEVEL=debug\n"), 0o600))
	chdir(t, dir)
	t.Setenv("ACCEL_LOG_LEVEL", "warn")
	require.NoError(t, LoadDotEnv())
	// Existing variables win.
	assert.Equal(t, "warn", os.Getenv("ACCEL_LOG_LEVEL"))
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "ACCEL_UDP_TARGET=127.0.0.1:5000\n")
	t.Setenv("ACCEL_UDP_TARGET", "")
	os.Unsetenv("ACCEL_UDP_TARGET")
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "127.0.0.1:5000", os.Getenv("ACCEL_UDP_TARGET"))
}

func TestLogger(t *testing.T) {
	c := Default()
	var buf bytes.Buffer
	l, err := c.Logger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	c.Log = Log{Level: "debug", Format: "json"}
	l, err = c.Logger(&buf)
	require.NoError(t, err)
	l.Debug("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	c.Log = Log{Level: "loud"}
	_, err = c.Logger(&buf)
	assert.Error(t, err)
	c.Log = Log{Level: "info", Format: "xml"}
	_, err = c.Logger(&buf)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	c := Default()
	b, err := c.YAML()
	require.NoError(t, err)
	p := writeFile(t, "dump.yaml", string(b))
	got, err := Load(p, nil, quiet())
	require.NoError(t, err)
	assert.Equal(t, c, *got)

	var m map[string]any
	require.NoError(t, yaml.Unmarshal(b, &m))
	assert.Contains(t, m, "devices")
}

func TestDeviceSpecs(t *testing.T) {
	c := Default()
	c.Devices = append(c.Devices, Device{Bus: 0, ChipSelect: 1})
	c.Acquisition.Mode = "edge"
	specs, err := c.DeviceSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, acquire.Descriptor{Bus: 1, ChipSelect: 2, DataReady: "GPIO19"}, specs[0].Descriptor)
	assert.Equal(t, adxl355.ODR1000Hz, specs[0].Sensor.ODR)
	assert.Equal(t, adxl355.HPF0_0238e4, specs[0].Sensor.HPF)
	assert.Equal(t, adxl355.Range2G, specs[0].Sensor.Range)
	assert.Equal(t, adxl355.DefaultOpts, specs[1].Sensor)
	assert.Equal(t, acquire.EdgeTriggered, specs[1].Engine.Mode)
	assert.Equal(t, 900*time.Microsecond, specs[1].Engine.PollInterval)

	c.Devices[1].Range = "16g"
	_, err = c.DeviceSpecs()
	assert.ErrorIs(t, err, adxl355.ErrInvalidSetting)

	c = Default()
	c.Acquisition.Mode = "sometimes"
	_, err = c.DeviceSpecs()
	assert.Error(t, err)
}

func TestOutputOpts(t *testing.T) {
	c := Default()
	c.Devices[0].Range = "8g"
	c.Batch.Size = 0
	assert.Equal(t, stream.DefaultBatchOpts, c.BatchOpts())

	c.MQTT.Broker = "tcp://broker:1883"
	c.MQTT.QoS = 1
	mo, err := c.MQTTOpts()
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", mo.Broker)
	assert.Equal(t, "accel", mo.TopicPrefix)
	assert.Equal(t, byte(1), mo.QoS)
	c.MQTT.QoS = 3
	_, err = c.MQTTOpts()
	assert.Error(t, err)

	so, err := c.ScopeOpts()
	require.NoError(t, err)
	assert.Equal(t, 8.0, so.FullScale)
	assert.Equal(t, scope.PNG, so.Format)
	c.Scope.Format = "gif"
	_, err = c.ScopeOpts()
	assert.Error(t, err)

	c.Meter.Device = 4
	m := c.MeterOpts()
	assert.Equal(t, uint32(4), m.Device)
	assert.Equal(t, float32(2), m.FullScale)
}
