// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultProbeWindow is how long a port is read before it is given up on.
	DefaultProbeWindow = 2 * time.Second

	// DefaultProbeReadTimeout bounds a single read so dead ports return quickly.
	DefaultProbeReadTimeout = 100 * time.Millisecond
)

// ProbeResult is the port a board was found on and the line that matched.
type ProbeResult struct {
	Port string
	Line string
}

// Prober finds the port a bring-up board is attached to by reading each
// candidate for a signature line.
type Prober struct {
	Opener      Opener
	BaudRate    int
	Window      time.Duration
	ReadTimeout time.Duration
	Markers     Markers
	Logger      *zap.SugaredLogger

	// Observe, if set, is called once per candidate with the probe outcome.
	Observe func(port string, err error)
}

// NewProber returns a Prober with the default window and markers.
func NewProber(opener Opener, logger *zap.SugaredLogger) *Prober {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Prober{
		Opener:      opener,
		BaudRate:    DefaultBaudRate,
		Window:      DefaultProbeWindow,
		ReadTimeout: DefaultProbeReadTimeout,
		Markers:     DefaultMarkers(),
		Logger:      logger,
	}
}

// Probe tries candidates in order and returns the first port that printed a
// signature. Ports that cannot be opened are skipped. If none match the error
// wraps ErrNoDevice.
func (p *Prober) Probe(ctx context.Context, candidates []string) (ProbeResult, error) {
	if len(candidates) == 0 {
		p.Logger.Debug("No serial ports found")
		return ProbeResult{}, fmt.Errorf("%w: no serial ports found", ErrNoDevice)
	}

	p.Logger.Debugw("Scanning serial ports", "ports", candidates)

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return ProbeResult{}, err
		}

		line, err := p.ProbePort(ctx, name)
		if p.Observe != nil {
			p.Observe(name, err)
		}
		if err == nil {
			p.Logger.Infow("Detected board", "port", name, "line", line)
			return ProbeResult{Port: name, Line: line}, nil
		}
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		if errors.Is(err, ErrPortUnavailable) {
			p.Logger.Debugw("Skipping port (can't open)", "port", name, "error", err)
		} else {
			p.Logger.Debugw("Skipping port", "port", name, "error", err)
		}
	}

	p.Logger.Debug("No compatible device found on any port")
	return ProbeResult{}, ErrNoDevice
}

// ProbePort reads name for up to Window and returns the first line containing
// a probe signature. The port is always closed before returning.
func (p *Prober) ProbePort(ctx context.Context, name string) (string, error) {
	conn, err := p.Opener.Open(name, p.BaudRate)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadTimeout(p.ReadTimeout); err != nil {
		return "", fmt.Errorf("%w: %s: set read timeout: %v", ErrPortUnavailable, name, err)
	}
	// Stale boot output from before the open must not count as a match.
	if err := conn.ResetInputBuffer(); err != nil {
		p.Logger.Debugw("Failed to reset input buffer", "port", name, "error", err)
	}

	decoder := NewLineDecoder()
	buf := make([]byte, 256)
	deadline := time.Now().Add(p.Window)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrSerialIO, name, err)
		}
		if n == 0 {
			continue
		}

		for _, line := range decoder.Decode(buf[:n]) {
			if p.Markers.IsSignature(line.Text) {
				return line.Text, nil
			}
		}
		if pending := decoder.Pending(); p.Markers.IsSignature(pending.Text) {
			return pending.Text, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrProbeTimeout, name)
}
