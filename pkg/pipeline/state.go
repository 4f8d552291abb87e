// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pipeline

import (
	"slices"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/esptool"
)

// Stage is the position of the bring-up pipeline.
type Stage int

const (
	StageDisconnected Stage = iota
	StageProbing
	StageIdentifying
	StageIdentified // chip known, waiting for a flash command
	StageFlashing
	StageSettling
	StageMonitoring
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "Disconnected"
	case StageProbing:
		return "Probing"
	case StageIdentifying:
		return "Identifying"
	case StageIdentified:
		return "Ready"
	case StageFlashing:
		return "Flashing"
	case StageSettling:
		return "Settling"
	case StageMonitoring:
		return "Monitoring"
	case StageFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// busy reports whether the stage owns the port through an external tool or a
// pending reboot.
func (s Stage) busy() bool {
	return s == StageFlashing || s == StageSettling
}

// ConnectionStatus is the link state shown to the user.
type ConnectionStatus int

const (
	ConnectionDisconnected ConnectionStatus = iota
	ConnectionConnecting
	ConnectionConnected
)

func (c ConnectionStatus) String() string {
	switch c {
	case ConnectionConnecting:
		return "Connecting"
	case ConnectionConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// FlashStatus is the outcome of the current flash attempt.
type FlashStatus int

const (
	FlashIdle FlashStatus = iota
	FlashInProgress
	FlashSuccess
	FlashFailed
)

func (f FlashStatus) String() string {
	switch f {
	case FlashInProgress:
		return "Flashing"
	case FlashSuccess:
		return "Success"
	case FlashFailed:
		return "Failed"
	default:
		return "Idle"
	}
}

// BoardState is everything the display layer may read about the board.
type BoardState struct {
	Stage Stage
	// FailedAt is the stage that failed when Stage is StageFailed.
	FailedAt Stage

	Connection ConnectionStatus
	Port       string
	Ports      []board.PortInfo

	Chip     esptool.Chip
	Firmware string
	Bundle   esptool.Bundle

	Flash         FlashStatus
	FlashProgress int

	Charger      board.ChargerState
	MACVerified  bool
	MAC          string
	Temperatures *board.Temperatures

	Status    string
	AttemptID string
}

// Verified reports whether monitoring has seen the MAC confirmation.
func (s BoardState) Verified() bool {
	return s.Stage == StageMonitoring && s.MACVerified
}

// StageLabel is the stage with its failure or verified qualifier.
func (s BoardState) StageLabel() string {
	switch {
	case s.Stage == StageFailed:
		return "Failed(" + s.FailedAt.String() + ")"
	case s.Verified():
		return "Monitoring(Verified)"
	default:
		return s.Stage.String()
	}
}

func (s BoardState) clone() BoardState {
	s.Ports = slices.Clone(s.Ports)
	if s.Temperatures != nil {
		t := *s.Temperatures
		s.Temperatures = &t
	}
	return s
}

// Snapshot is a copy of the board state with line statistics and the tail of
// the log.
type Snapshot struct {
	BoardState
	Stats board.Statistics
	Log   []string
}
