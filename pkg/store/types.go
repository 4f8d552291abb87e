// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import "time"

// FlashRecord captures the result of a flash attempt.
type FlashRecord struct {
	ID         string    `json:"id"`
	Port       string    `json:"port"`
	Chip       string    `json:"chip"`
	Firmware   string    `json:"firmware"`
	Bootloader string    `json:"bootloader,omitempty"`
	Partitions string    `json:"partitions,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	Duration   string    `json:"duration"`
	Error      string    `json:"error,omitempty"`
}

// SerialLog tracks a monitoring session.
type SerialLog struct {
	ID          string    `json:"id"`
	Port        string    `json:"port"`
	BaudRate    int       `json:"baud_rate"`
	Timestamp   time.Time `json:"timestamp"`
	Duration    string    `json:"duration"`
	Lines       uint64    `json:"lines"`
	MACVerified bool      `json:"mac_verified"`
	MAC         string    `json:"mac,omitempty"`
	Error       string    `json:"error,omitempty"`
}
