// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMonitorReadTimeout is the per-read timeout of a monitoring session.
// It bounds how long Stop waits for the read loop.
const DefaultMonitorReadTimeout = 100 * time.Millisecond

// SerialErrorPrefix starts the diagnostic line published when a session fails.
const SerialErrorPrefix = "[SERIAL ERROR]"

// Monitor runs at most one serial reading session at a time.
type Monitor struct {
	Opener      Opener
	BaudRate    int
	ReadTimeout time.Duration
	Logger      *zap.SugaredLogger

	startMu sync.Mutex

	mu      sync.Mutex
	session *session
}

type session struct {
	port     string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// NewMonitor returns a Monitor reading at the board baud rate.
func NewMonitor(opener Opener, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		Opener:      opener,
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultMonitorReadTimeout,
		Logger:      logger,
	}
}

// Start stops any running session, waits for its port to close, then opens
// name and reads it until Stop, ctx cancellation or a read error. onLine gets
// every decoded line. onExit is called once after the port is closed, with nil
// for a requested stop or an error wrapping ErrSerialIO.
func (m *Monitor) Start(ctx context.Context, name string, onLine func(Line), onExit func(error)) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.Stop()

	conn, err := m.Opener.Open(name, m.BaudRate)
	if err != nil {
		return err
	}
	if err := conn.SetReadTimeout(m.ReadTimeout); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s: set read timeout: %v", ErrPortUnavailable, name, err)
	}

	s := &session{
		port: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	m.Logger.Infow("Serial monitor started", "port", name, "baud", m.BaudRate)
	go m.readLoop(ctx, s, conn, onLine, onExit)
	return nil
}

// Stop ends the running session, if any, and returns once its port is closed.
func (m *Monitor) Stop() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.halt()
	<-s.done
}

// Active returns the port of the running session, or "".
func (m *Monitor) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.port
}

func (m *Monitor) readLoop(ctx context.Context, s *session, conn Port, onLine func(Line), onExit func(error)) {
	var exitErr error
	defer func() {
		_ = conn.Close()

		m.mu.Lock()
		if m.session == s {
			m.session = nil
		}
		m.mu.Unlock()
		close(s.done)

		m.Logger.Infow("Serial monitor stopped", "port", s.port, "error", exitErr)
		if onExit != nil {
			onExit(exitErr)
		}
	}()

	decoder := NewLineDecoder()
	buf := make([]byte, 1024)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			exitErr = fmt.Errorf("%w: %s: %v", ErrSerialIO, s.port, err)
			if onLine != nil {
				onLine(Line{Text: fmt.Sprintf("%s %v", SerialErrorPrefix, err)})
			}
			return
		}
		if n == 0 {
			continue
		}

		for _, line := range decoder.Decode(buf[:n]) {
			if onLine != nil {
				onLine(line)
			}
		}
	}
}
