// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the daemon configuration from defaults, a YAML file,
// ACCEL_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	AppName           = "accelstream"
	EnvPrefix         = "ACCEL"
	DefaultConfigName = "config"
)

// Device is one accelerometer.
type Device struct {
	Bus        int    `mapstructure:"bus" yaml:"bus"`
	ChipSelect int    `mapstructure:"cs" yaml:"cs"`
	DataReady  string `mapstructure:"drdy" yaml:"drdy"`
	ODR        string `mapstructure:"odr" yaml:"odr"`
	HPF        string `mapstructure:"hpf" yaml:"hpf"`
	Range      string `mapstructure:"range" yaml:"range"`
}

type Acquisition struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// Capacity of the fan-out ring, in readings.
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type Batch struct {
	Size          int           `mapstructure:"size" yaml:"size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

type TCP struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type UDP struct {
	// Target is host:port. Empty disables UDP.
	Target string `mapstructure:"target" yaml:"target"`
}

type HTTP struct {
	// Listen is host:port. Empty disables the HTTP server.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type MQTT struct {
	// Broker is e.g. tcp://localhost:1883. Empty disables MQTT.
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `mapstructure:"qos" yaml:"qos"`
}

type Scope struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Device  int    `mapstructure:"device" yaml:"device"`
	Width   int    `mapstructure:"width" yaml:"width"`
	Height  int    `mapstructure:"height" yaml:"height"`
	Window  int    `mapstructure:"window" yaml:"window"`
	Format  string `mapstructure:"format" yaml:"format"`
}

type Meter struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Device  int  `mapstructure:"device" yaml:"device"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// Config is the whole daemon configuration.
type Config struct {
	Devices     []Device    `mapstructure:"devices" yaml:"devices"`
	Acquisition Acquisition `mapstructure:"acquisition" yaml:"acquisition"`
	Batch       Batch       `mapstructure:"batch" yaml:"batch"`
	TCP         TCP         `mapstructure:"tcp" yaml:"tcp"`
	UDP         UDP         `mapstructure:"udp" yaml:"udp"`
	HTTP        HTTP        `mapstructure:"http" yaml:"http"`
	MQTT        MQTT        `mapstructure:"mqtt" yaml:"mqtt"`
	Scope       Scope       `mapstructure:"scope" yaml:"scope"`
	Meter       Meter       `mapstructure:"meter" yaml:"meter"`
	Log         Log         `mapstructure:"log" yaml:"log"`
}

// Default returns the configuration used when nothing overrides it: one
// sensor on SPI1.2 with its data-ready line on GPIO19, sampled at 1kHz.
func Default() Config {
	return Config{
		Devices: []Device{
			{Bus: 1, ChipSelect: 2, DataReady: "GPIO19", ODR: "1000Hz", HPF: "0.0238e-4", Range: "2g"},
		},
		Acquisition: Acquisition{
			Mode:         "polling",
			PollInterval: 900 * time.Microsecond,
			SettleDelay:  100 * time.Millisecond,
			Capacity:     100,
		},
		Batch: Batch{
			Size:          128,
			FlushInterval: time.Second,
		},
		TCP:  TCP{Listen: ":14389"},
		HTTP: HTTP{Listen: ":8080"},
		MQTT: MQTT{TopicPrefix: "accel"},
		Scope: Scope{
			Width:  640,
			Height: 320,
			Window: 500,
			Format: "png",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// defaults registers every scalar key of Default so that environment
// variables can override keys absent from the config file.
func defaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("devices", d.Devices)
	v.SetDefault("acquisition.mode", d.Acquisition.Mode)
	v.SetDefault("acquisition.poll_interval", d.Acquisition.PollInterval)
	v.SetDefault("acquisition.settle_delay", d.Acquisition.SettleDelay)
	v.SetDefault("acquisition.capacity", d.Acquisition.Capacity)
	v.SetDefault("batch.size", d.Batch.Size)
	v.SetDefault("batch.flush_interval", d.Batch.FlushInterval)
	v.SetDefault("tcp.listen", d.TCP.Listen)
	v.SetDefault("udp.target", d.UDP.Target)
	v.SetDefault("http.listen", d.HTTP.Listen)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("scope.enabled", d.Scope.Enabled)
	v.SetDefault("scope.device", d.Scope.Device)
	v.SetDefault("scope.width", d.Scope.Width)
	v.SetDefault("scope.height", d.Scope.Height)
	v.SetDefault("scope.window", d.Scope.Window)
	v.SetDefault("scope.format", d.Scope.Format)
	v.SetDefault("meter.enabled", d.Meter.Enabled)
	v.SetDefault("meter.device", d.Meter.Device)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"listen":    "tcp.listen",
	"http":      "http.listen",
	"udp":       "udp.target",
	"mqtt":      "mqtt.broker",
	"mode":      "acquisition.mode",
	"scope":     "scope.enabled",
	"meter":     "meter.enabled",
	"log-level": "log.level",
}

// Load reads the configuration. file is the explicit config file, if any;
// otherwise config.yaml is searched in /etc/accelstream,
// $HOME/.config/accelstream and the working directory, and a missing file is
// not an error. flags may be nil.
func Load(file string, flags *pflag.FlagSet, log *logrus.Entry) (*Config, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	v := viper.New()
	defaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join("/etc", AppName))
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: %w", err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err == nil {
		log.WithField("file", v.ConfigFileUsed()).Info("using config file")
	} else {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
		log.Debug("no config file, using defaults")
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// LoadDotEnv loads environment variables from the given files, by default
// .env in the working directory. Missing files are ignored and variables
// already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return nil
}

// Logger returns a logger configured per c.Log, writing to w.
func (c *Config) Logger(w io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	l.SetLevel(lvl)
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return l, nil
}

// YAML returns the configuration as a YAML document, suitable as a config
// file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
