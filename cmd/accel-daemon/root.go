// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/GermanBionicSystems/accelstream/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:          "accel-daemon",
	Short:        "Stream ADXL355 accelerometer readings over the network",
	SilenceUsage: true,
	// Without a subcommand, run the daemon.
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is config.yaml in /etc/accelstream, $HOME/.config/accelstream or .)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	addRunFlags(rootCmd)
	rootCmd.AddCommand(runCmd, probeCmd, configCmd)
}

// loadConfig reads the configuration with the flags of cmd applied and
// returns it along with the logger it configures.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, nil, err
	}
	boot := logrus.New()
	boot.SetOutput(os.Stderr)
	c, err := config.Load(cfgFile, cmd.Flags(), logrus.NewEntry(boot))
	if err != nil {
		return nil, nil, err
	}
	log, err := c.Logger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return c, log, nil
}
