// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Boardup - ESP32 board bring-up tool
//
// Probes serial ports for a board, identifies its chip, flashes firmware with
// esptool and monitors the console until the board confirms its MAC address.

package main

import (
	"fmt"
	"os"

	"github.com/phloton/boardup/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
