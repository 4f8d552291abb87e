// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/board/boardtest"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
	exit  chan error
}

func newLineSink() *lineSink {
	return &lineSink{exit: make(chan error, 1)}
}

func (s *lineSink) onLine(l board.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l.Text)
}

func (s *lineSink) onExit(err error) {
	s.exit <- err
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *lineSink) waitFor(t *testing.T, text string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, l := range s.snapshot() {
			if strings.Contains(l, text) {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got %v", text, s.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestMonitor(opener board.Opener) *board.Monitor {
	m := board.NewMonitor(opener, nil)
	m.ReadTimeout = 10 * time.Millisecond
	return m
}

// ============================================================
// Monitor Tests
// ============================================================

func TestMonitor_DeliversLines(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port {
		return boardtest.NewPort("CHARGER:CONNECTED\r\n", "Device MAC ID: 01\n")
	})

	m := newTestMonitor(opener)
	sink := newLineSink()
	if err := m.Start(context.Background(), "/dev/ttyUSB0", sink.onLine, sink.onExit); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitFor(t, "Device MAC ID: 01")

	if m.Active() != "/dev/ttyUSB0" {
		t.Errorf("unexpected active port %q", m.Active())
	}

	m.Stop()
	if err := <-sink.exit; err != nil {
		t.Errorf("expected nil exit error on stop, got %v", err)
	}
	if m.Active() != "" {
		t.Errorf("expected no active session, got %q", m.Active())
	}
	if opener.OpenNow("/dev/ttyUSB0") != 0 {
		t.Error("port should be closed after Stop")
	}
	if got := sink.snapshot(); got[0] != "CHARGER:CONNECTED" {
		t.Errorf("unexpected first line %q", got[0])
	}
}

func TestMonitor_RestartClosesPrevious(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return boardtest.NewPort() })

	m := newTestMonitor(opener)
	first := newLineSink()
	if err := m.Start(context.Background(), "/dev/ttyUSB0", first.onLine, first.onExit); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second := newLineSink()
	if err := m.Start(context.Background(), "/dev/ttyUSB0", second.onLine, second.onExit); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	select {
	case err := <-first.exit:
		if err != nil {
			t.Errorf("first session exit error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("first session never reported its exit")
	}

	if n := opener.MaxOpen("/dev/ttyUSB0"); n != 1 {
		t.Errorf("expected at most 1 open handle, saw %d", n)
	}
	if n := opener.Opens("/dev/ttyUSB0"); n != 2 {
		t.Errorf("expected 2 opens, got %d", n)
	}
	m.Stop()
}

func TestMonitor_ReadErrorEndsSession(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return boardtest.NewPort("hello\n") })

	m := newTestMonitor(opener)
	sink := newLineSink()
	if err := m.Start(context.Background(), "/dev/ttyUSB0", sink.onLine, sink.onExit); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitFor(t, "hello")
	opener.Last("/dev/ttyUSB0").Fail(errors.New("device disconnected"))

	select {
	case err := <-sink.exit:
		if !errors.Is(err, board.ErrSerialIO) {
			t.Errorf("expected ErrSerialIO, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on read error")
	}

	lines := sink.snapshot()
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, board.SerialErrorPrefix) || !strings.Contains(last, "device disconnected") {
		t.Errorf("unexpected diagnostic line %q", last)
	}
	if m.Active() != "" {
		t.Error("session should be cleared after a read error")
	}
	if opener.OpenNow("/dev/ttyUSB0") != 0 {
		t.Error("port should be closed after a read error")
	}
}

func TestMonitor_OpenFailure(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.FailOpen("/dev/ttyUSB0", errors.New("busy"))

	m := newTestMonitor(opener)
	err := m.Start(context.Background(), "/dev/ttyUSB0", nil, nil)
	if !errors.Is(err, board.ErrPortUnavailable) {
		t.Fatalf("expected ErrPortUnavailable, got %v", err)
	}
	if m.Active() != "" {
		t.Error("no session should be active")
	}
}

func TestMonitor_ContextCancel(t *testing.T) {
	opener := boardtest.NewOpener()
	opener.Add("/dev/ttyUSB0", func() *boardtest.Port { return boardtest.NewPort() })

	ctx, cancel := context.WithCancel(context.Background())
	m := newTestMonitor(opener)
	sink := newLineSink()
	if err := m.Start(ctx, "/dev/ttyUSB0", sink.onLine, sink.onExit); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case <-sink.exit:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on cancel")
	}
	if opener.OpenNow("/dev/ttyUSB0") != 0 {
		t.Error("port should be closed after cancel")
	}
}
