// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pipeline

import (
	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/esptool"
)

// event is processed by the controller loop one at a time, in arrival order.
type event interface{}

// Commands from the display layer.
type (
	refreshCmd    struct{}
	probeCmd      struct{}
	selectPortCmd struct{ port string }
	firmwareCmd   struct{ path string }
	flashCmd      struct{}
	monitorCmd    struct{ port string }
	disconnectCmd struct{}
)

// Worker completion signals. token identifies the worker run; events from a
// run that was superseded are dropped.
type (
	portsEvent struct {
		ports []board.PortInfo
	}
	probeDone struct {
		token  uint64
		result board.ProbeResult
		err    error
	}
	identifyDone struct {
		token uint64
		chip  esptool.Chip
		err   error
	}
	flashLine struct {
		token uint64
		line  string
	}
	flashDone struct {
		token  uint64
		result esptool.FlashResult
		err    error
	}
	settleDone struct {
		token uint64
	}
	serialLine struct {
		token uint64
		line  board.Line
	}
	serialExit struct {
		token uint64
		err   error
	}
)

type workerKind int

const (
	workerProbe workerKind = iota
	workerIdentify
	workerFlash
	workerSettle
	workerMonitor
)
