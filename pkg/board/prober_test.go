// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/board/boardtest"
)

func newTestProber(opener board.Opener) *board.Prober {
	p := board.NewProber(opener, nil)
	p.Window = 150 * time.Millisecond
	p.ReadTimeout = 10 * time.Millisecond
	return p
}

// ============================================================
// Prober Tests
// ============================================================

func TestProbe_FindsBoard(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyS0", func() *boardtest.Port { return boardtest.NewPort("garbage\n") })
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port {
		return boardtest.NewPort("rst:0x1\n", "1. Write MAC\nEnter option number:\n")
	})

	var observed []string
	p := newTestProber(opener)
	p.Observe = func(port string, err error) { observed = append(observed, port) }

	result, err := p.Probe(context.Background(), []string{"/dev/ttyS0", "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Port != "/dev/ttyUSB0" {
		t.Errorf("expected /dev/ttyUSB0, got %q", result.Port)
	}
	if result.Line != "Enter option number:" {
		t.Errorf("unexpected line %q", result.Line)
	}
	if len(observed) != 2 {
		t.Errorf("expected 2 observed candidates, got %v", observed)
	}
	for _, name := range []string{"/dev/ttyS0", "/dev/ttyUSB0"} {
		if n := opener.OpenNow(name); n != 0 {
			t.Errorf("%s left open (%d handles)", name, n)
		}
	}
}

func TestProbe_PromptWithoutNewline(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return boardtest.NewPort("Enter option number: ") })

	result, err := newTestProber(opener).Probe(context.Background(), []string{"/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Port != "/dev/ttyUSB0" {
		t.Errorf("unexpected port %q", result.Port)
	}
}

func TestProbe_SkipsUnavailablePort(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.FailOpen("/dev/ttyUSB0", errors.New("permission denied"))
	opener.Add("/dev/ttyUSB1", func() *boardtest.Port { return boardtest.NewPort("Device MAC ID: 01\n") })

	var skipped error
	p := newTestProber(opener)
	p.Observe = func(port string, err error) {
		if port == "/dev/ttyUSB0" {
			skipped = err
		}
	}

	result, err := p.Probe(context.Background(), []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Port != "/dev/ttyUSB1" {
		t.Errorf("unexpected port %q", result.Port)
	}
	if !errors.Is(skipped, board.ErrPortUnavailable) {
		t.Errorf("expected ErrPortUnavailable for skipped port, got %v", skipped)
	}
}

func TestProbe_NoDevice(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyS0", func() *boardtest.Port { return boardtest.NewPort("nothing here\n") })

	var perPort error
	p := newTestProber(opener)
	p.Observe = func(port string, err error) { perPort = err }

	_, err := p.Probe(context.Background(), []string{"/dev/ttyS0"})
	if !errors.Is(err, board.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if !errors.Is(perPort, board.ErrProbeTimeout) {
		t.Errorf("expected ErrProbeTimeout for the port, got %v", perPort)
	}
}

func TestProbe_NoCandidates(t *testing.T) {
	_, err := newTestProber(boardtest.NewOpener()).Probe(context.Background(), nil)
	if !errors.Is(err, board.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestProbePort_DiscardsStaleInput(t *testing.T) {
	port := boardtest.NewPort()
	port.Feed("Enter option number:\n")

	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return port })

	_, err := newTestProber(opener).ProbePort(context.Background(), "/dev/ttyUSB0")
	if !errors.Is(err, board.ErrProbeTimeout) {
		t.Fatalf("expected ErrProbeTimeout, got %v", err)
	}
	if port.Resets() != 1 {
		t.Errorf("expected 1 input reset, got %d", port.Resets())
	}
	if !port.Closed() {
		t.Error("port should be closed after probing")
	}
}

func TestProbePort_ReadError(t *testing.T) {
	port := boardtest.NewPort()
	port.Fail(errors.New("device reports readiness to read but returned no data"))

	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return port })

	_, err := newTestProber(opener).ProbePort(context.Background(), "/dev/ttyUSB0")
	if !errors.Is(err, board.ErrSerialIO) {
		t.Fatalf("expected ErrSerialIO, got %v", err)
	}
}

func TestProbe_Cancelled(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyS0", func() *boardtest.Port { return boardtest.NewPort() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProber(opener).Probe(ctx, []string{"/dev/ttyS0"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
