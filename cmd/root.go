// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/config"
)

var (
	// Board connection flags
	portName string
	baudRate int

	// Flashing flags
	firmwarePath string
	toolCmd      string

	configDir string
	verbose   bool

	// cfg is the merged configuration, resolved before every command runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "boardup",
	Short: "ESP32 board bring-up tool",
	Long: `Boardup - Find, identify, flash and verify ESP32 boards over serial.

A bring-up runs as a pipeline: probe the serial ports for a board that prints
a known prompt, ask esptool which chip it carries, write the application
together with its bootloader and partition table, wait for the reboot, then
monitor the console until the firmware confirms its MAC address.

Settings are merged from ~/.config/boardup/config.json, then
.boardup/config.json in the working directory, then flags.

esptool is invoked as "python -m esptool" unless --tool says otherwise.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = resolveConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (skips probing)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaudRate, "Board console baud rate")
	rootCmd.PersistentFlags().StringVarP(&firmwarePath, "firmware", "f", "", "Application image (.bin) to flash")
	rootCmd.PersistentFlags().StringVar(&toolCmd, "tool", config.DefaultTool, "esptool command line")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Workspace holding the .boardup directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// resolveConfig loads the config files and applies flags the user set.
func resolveConfig(cmd *cobra.Command) config.Config {
	c := config.Load(configDir)

	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Port = portName
	}
	if flags.Changed("baud") {
		c.BaudRate = baudRate
	}
	if flags.Changed("firmware") {
		c.Firmware = firmwarePath
	}
	if flags.Changed("tool") {
		c.Tool = toolCmd
	}
	return c
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
