// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/esptool"
	"github.com/phloton/boardup/pkg/logging"
	"github.com/phloton/boardup/pkg/pipeline"
)

var (
	flashTUI     bool
	flashText    bool
	exitOnVerify bool
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Bring up a board: probe, identify, flash and verify",
	Long: `Run the full bring-up pipeline against one board.

Without --port the serial ports are probed for the board's prompt. The chip is
identified with esptool, then the application is written together with the
bootloader.bin and partitions.bin found next to it. After the board reboots
its console is monitored until it prints its MAC address.

On a terminal the interactive UI is used; pass --text for line output.

Keys (interactive UI):
  f  flash again      p  probe ports      r  refresh port list
  [  previous port    ]  next port        b  change firmware path
  d  disconnect       q  quit`,
	RunE: runFlash,
}

func init() {
	flashCmd.Flags().BoolVar(&flashTUI, "tui", false, "Force the interactive UI")
	flashCmd.Flags().BoolVar(&flashText, "text", false, "Force line output")
	flashCmd.Flags().BoolVar(&exitOnVerify, "exit-on-verify", false, "Exit once the MAC is verified (line output only)")
	rootCmd.AddCommand(flashCmd)
}

func runFlash(cmd *cobra.Command, args []string) error {
	if cfg.Firmware == "" {
		return fmt.Errorf("--firmware is required")
	}

	useTUI := flashTUI || (!flashText && term.IsTerminal(int(os.Stdout.Fd())))
	if useTUI {
		return runFlashTUI()
	}
	return runFlashText()
}

func runFlashText() error {
	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, cancel := signalContext()
	defer cancel()

	s := newStack(cfg, logger)
	ctrl := s.controller(ctx, cfg, true)

	snaps, unsubSnaps := ctrl.Subscribe()
	defer unsubSnaps()
	lines, unsubLines := ctrl.SubscribeLines()
	defer unsubLines()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Run(ctx)
	}()
	stop := func() error {
		cancel()
		return <-errCh
	}

	fmt.Printf("Boardup - Bring-up\n")
	fmt.Printf("Firmware: %s\n", cfg.Firmware)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var bar *progressbar.ProgressBar
	var lastLabel string
	monitored := false

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if pct, ok := esptool.ParseProgress(line); ok {
				if bar == nil {
					bar = newFlashBar()
				}
				bar.Set(pct)
				continue
			}
			if bar != nil {
				bar.Clear()
			}
			fmt.Println(line)

		case snap, ok := <-snaps:
			if !ok {
				return <-errCh
			}

			if label := snap.StageLabel(); label != lastLabel {
				lastLabel = label
				if bar != nil && snap.Stage != pipeline.StageFlashing {
					bar.Finish()
					bar = nil
				}
				fmt.Printf("==> %s: %s\n", label, snap.Status)
			}
			if snap.Stage == pipeline.StageMonitoring {
				monitored = true
			}

			switch {
			case snap.Stage == pipeline.StageFailed:
				stop()
				return fmt.Errorf("bring-up failed at %s: %s", snap.FailedAt, snap.Status)
			case snap.Stage == pipeline.StageDisconnected && snap.Status == pipeline.StatusNoDevice:
				stop()
				return board.ErrNoDevice
			case exitOnVerify && snap.Verified():
				stop()
				printSummary(snap)
				return nil
			case monitored && snap.Stage == pipeline.StageDisconnected:
				stop()
				printSummary(snap)
				if !snap.MACVerified {
					return fmt.Errorf("serial session ended before the MAC was verified")
				}
				return nil
			}
		}
	}
}

func newFlashBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func printSummary(snap pipeline.Snapshot) {
	fmt.Printf("\nPort:     %s\n", snap.Port)
	fmt.Printf("Chip:     %s\n", snap.Chip)
	fmt.Printf("Attempt:  %s\n", snap.AttemptID)
	fmt.Printf("Charger:  %s\n", snap.Charger)
	if snap.MACVerified {
		fmt.Printf("MAC:      %s (verified)\n", snap.MAC)
	} else {
		fmt.Printf("MAC:      not seen\n")
	}
	fmt.Println(snap.Stats.String())
}
