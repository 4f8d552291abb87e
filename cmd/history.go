// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded flash attempts and serial sessions",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Show at most this many of each record (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	st := openStore()

	flashes, err := st.Flashes()
	if err != nil {
		return fmt.Errorf("failed to read flash history: %w", err)
	}
	logs, err := st.SerialLogs()
	if err != nil {
		return fmt.Errorf("failed to read serial history: %w", err)
	}

	fmt.Printf("Flash attempts (%d)\n", len(flashes))
	if len(flashes) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range tail(flashes, historyLimit) {
		result := "OK"
		if !r.Success {
			result = fmt.Sprintf("FAILED (exit %d)", r.ExitCode)
			if r.Error != "" {
				result += ": " + r.Error
			}
		}
		fmt.Printf("  %s  %-14s %-8s %-8s %s  %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Port, r.Chip, r.Duration, r.Firmware, result)
	}

	fmt.Printf("\nSerial sessions (%d)\n", len(logs))
	if len(logs) == 0 {
		fmt.Println("  (none)")
	}
	for _, l := range tail(logs, historyLimit) {
		mac := "MAC not seen"
		if l.MACVerified {
			mac = "MAC " + l.MAC + " verified"
		}
		fmt.Printf("  %s  %-14s %d baud  %d lines  %s  %s\n",
			l.Timestamp.Format("2006-01-02 15:04:05"), l.Port, l.BaudRate, l.Lines, l.Duration, mac)
	}
	return nil
}

func tail[T any](records []T, n int) []T {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
