// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/logging"
)

var watchPorts bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List serial ports with their USB identity when known.

With --watch the list is printed again whenever a device node appears or
disappears, until interrupted.`,
	RunE: runPorts,
}

func init() {
	portsCmd.Flags().BoolVarP(&watchPorts, "watch", "w", false, "Keep listing as ports come and go")
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	catalog := board.NewCatalog(cfg.WatchDir, cfg.RefreshInterval(), logger.Named("ports"))

	if !watchPorts {
		ports, err := catalog.List()
		if err != nil {
			return fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		printPorts(ports)
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Watching %s for serial ports (Ctrl+C to exit)\n\n", cfg.WatchDir)
	for ports := range catalog.Watch(ctx) {
		fmt.Printf("[%s]\n", time.Now().Format("15:04:05"))
		printPorts(ports)
		fmt.Println()
	}
	return nil
}

func printPorts(ports []board.PortInfo) {
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Printf("  %s\n", p.Label())
	}
}
