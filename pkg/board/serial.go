// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the board firmware talks at.
const DefaultBaudRate = 115200

var (
	// ErrPortUnavailable is returned when a port cannot be opened (permission,
	// already in use, or no such device).
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrPortBusy is returned when a port is already held by another component
	// of this process.
	ErrPortBusy = fmt.Errorf("%w: held by another session", ErrPortUnavailable)

	// ErrProbeTimeout is returned when no signature line was seen on a port
	// within the probe window.
	ErrProbeTimeout = errors.New("no board signature within probe window")

	// ErrNoDevice is returned when no candidate port produced a signature.
	ErrNoDevice = errors.New("no compatible device detected")

	// ErrSerialIO is returned when a monitoring session fails while reading.
	ErrSerialIO = errors.New("serial i/o error")
)

// Port is the part of a serial connection used by the prober and monitor.
// go.bug.st/serial ports satisfy it directly.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a port by name at a baud rate.
type Opener interface {
	Open(name string, baudRate int) (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(name string, baudRate int) (Port, error)

// Open calls f(name, baudRate).
func (f OpenerFunc) Open(name string, baudRate int) (Port, error) {
	return f(name, baudRate)
}

// SerialOpener opens real serial devices, 8N1.
type SerialOpener struct{}

// Open opens the named serial device.
func (SerialOpener) Open(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPortUnavailable, name, err)
	}
	return port, nil
}

// Exclusive wraps an Opener so a port name is held by at most one handle at
// a time. The prober, the monitor and the flash tool all go through the same
// Exclusive, so a handoff only succeeds once the previous holder closed.
type Exclusive struct {
	opener Opener

	mu   sync.Mutex
	held map[string]string
}

// NewExclusive returns an Exclusive around opener.
func NewExclusive(opener Opener) *Exclusive {
	return &Exclusive{
		opener: opener,
		held:   make(map[string]string),
	}
}

// Open opens name unless it is already held.
func (e *Exclusive) Open(name string, baudRate int) (Port, error) {
	release, err := e.Reserve(name, "serial session")
	if err != nil {
		return nil, err
	}

	port, err := e.opener.Open(name, baudRate)
	if err != nil {
		release()
		return nil, err
	}
	return &heldPort{Port: port, release: release}, nil
}

// Reserve marks name as held by owner without opening it. It is used while an
// external tool owns the device. The returned func releases the reservation.
func (e *Exclusive) Reserve(name, owner string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if current, ok := e.held[name]; ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPortBusy, name, current)
	}
	e.held[name] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.held, name)
			e.mu.Unlock()
		})
	}, nil
}

// Held reports whether name is currently open or reserved.
func (e *Exclusive) Held(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.held[name]
	return ok
}

type heldPort struct {
	Port
	release func()
}

func (h *heldPort) Close() error {
	err := h.Port.Close()
	h.release()
	return err
}
