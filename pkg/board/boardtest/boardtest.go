// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package boardtest provides in-memory serial ports for tests.
package boardtest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/phloton/boardup/pkg/board"
)

// Port is an in-memory board.Port. Output given to NewPort is read first, then
// data passed to Feed in the order it was fed. ResetInputBuffer drops only fed
// data. Read returns (0, nil) after the read timeout when nothing is pending,
// like a real serial port.
type Port struct {
	script [][]byte
	data   chan []byte

	mu          sync.Mutex
	readTimeout time.Duration
	failErr     error
	closed      bool
	resets      int
	written     []byte
	onClose     func()
}

// NewPort returns a port with the given output already queued.
func NewPort(output ...string) *Port {
	p := &Port{
		data:        make(chan []byte, 256),
		readTimeout: 10 * time.Millisecond,
	}
	for _, s := range output {
		p.script = append(p.script, []byte(s))
	}
	return p
}

// Feed queues output for Read.
func (p *Port) Feed(s string) {
	p.data <- []byte(s)
}

// Fail makes the next Read return err.
func (p *Port) Fail(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if p.failErr != nil {
		err := p.failErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.script) > 0 {
		n := copy(b, p.script[0])
		if n < len(p.script[0]) {
			p.script[0] = p.script[0][n:]
		} else {
			p.script = p.script[1:]
		}
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.readTimeout
	p.mu.Unlock()

	select {
	case chunk := <-p.data:
		n := copy(b, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.script = append([][]byte{chunk[n:]}, p.script...)
			p.mu.Unlock()
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

// Write records b.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

// Close marks the port closed.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// SetReadTimeout sets the idle read timeout.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// ResetInputBuffer drops fed output.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	for {
		select {
		case <-p.data:
		default:
			return nil
		}
	}
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Resets returns how many times the input buffer was reset.
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// ErrNoSuchPort is returned by Opener for names it does not know.
var ErrNoSuchPort = errors.New("no such port")

// Opener hands out Ports by name and counts open handles.
type Opener struct {
	mu      sync.Mutex
	ports   map[string]func() *Port
	fail    map[string]error
	open    map[string]int
	maxOpen map[string]int
	opens   map[string]int
	last    map[string]*Port
}

// NewOpener returns an empty Opener.
func NewOpener() *Opener {
	return &Opener{
		ports:   make(map[string]func() *Port),
		fail:    make(map[string]error),
		open:    make(map[string]int),
		maxOpen: make(map[string]int),
		opens:   make(map[string]int),
		last:    make(map[string]*Port),
	}
}

// Add registers name. Each Open calls newPort for a fresh handle.
func (o *Opener) Add(name string, newPort func() *Port) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ports[name] = newPort
}

// FailOpen makes Open of name return err wrapped in board.ErrPortUnavailable.
func (o *Opener) FailOpen(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[name] = err
}

// Open implements board.Opener.
func (o *Opener) Open(name string, baudRate int) (board.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err, ok := o.fail[name]; ok {
		return nil, fmt.Errorf("%w: %s: %v", board.ErrPortUnavailable, name, err)
	}
	newPort, ok := o.ports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %v", board.ErrPortUnavailable, name, ErrNoSuchPort)
	}

	p := newPort()
	p.mu.Lock()
	p.onClose = func() {
		o.mu.Lock()
		o.open[name]--
		o.mu.Unlock()
	}
	p.mu.Unlock()

	o.opens[name]++
	o.open[name]++
	if o.open[name] > o.maxOpen[name] {
		o.maxOpen[name] = o.open[name]
	}
	o.last[name] = p
	return p, nil
}

// Opens returns how many times name was opened.
func (o *Opener) Opens(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[name]
}

// OpenNow returns how many handles on name are currently open.
func (o *Opener) OpenNow(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open[name]
}

// MaxOpen returns the most handles on name that were open at once.
func (o *Opener) MaxOpen(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxOpen[name]
}

// Last returns the most recently opened handle on name.
func (o *Opener) Last(name string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[name]
}
