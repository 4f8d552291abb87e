// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/logging"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Ask esptool which chip is on a port",
	Long: `Run "esptool --port P chip_id" and report the chip family.

Requires --port (or a port in the config file).`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	if cfg.Port == "" {
		return fmt.Errorf("--port is required")
	}

	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, cancel := signalContext()
	defer cancel()

	s := newStack(cfg, logger)
	release, err := s.ports.Reserve(cfg.Port, "esptool chip_id")
	if err != nil {
		return err
	}
	defer release()

	fmt.Printf("Detecting chip on %s...\n", cfg.Port)
	chip, err := s.identifier.Identify(ctx, cfg.Port)
	if err != nil {
		return err
	}
	fmt.Printf("Chip: %s\n", chip)
	return nil
}
