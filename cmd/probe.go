// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/logging"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find the port a board is attached to",
	Long: `Open each serial port in turn and listen for the board's prompt.

Each port is read for the probe window (2 seconds by default). The first port
that prints a known signature line wins.

With --port only that port is tried.

Exit codes:
  0 - Board found
  1 - No compatible device detected
  2 - Ports could not be enumerated`,
	Run: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	logger, err := newLogger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logging.Sync(logger)

	s := newStack(cfg, logger)

	candidates := []string{cfg.Port}
	if cfg.Port == "" {
		candidates, err = s.catalog.Names()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to enumerate serial ports: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Probing %d port(s) at %d baud...\n", len(candidates), cfg.BaudRate)
	s.prober.Observe = func(port string, err error) {
		if err != nil {
			fmt.Printf("  %s: %v\n", port, err)
		}
	}

	result, err := s.prober.Probe(ctx, candidates)
	if err != nil {
		if errors.Is(err, board.ErrNoDevice) {
			fmt.Println("No compatible device detected")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Found board on %s\n", result.Port)
	fmt.Printf("  %s\n", result.Line)
}
