// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"context"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortInfo describes one attached serial device.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Label is a one-line description for port pickers.
func (p PortInfo) Label() string {
	if !p.IsUSB {
		return p.Name
	}
	label := p.Name + " [" + p.VID + ":" + p.PID + "]"
	if p.Product != "" {
		label += " " + p.Product
	}
	return label
}

// Catalog enumerates attached serial devices.
type Catalog struct {
	// Enumerate lists ports. Defaults to enumerator.GetDetailedPortsList.
	Enumerate func() ([]*enumerator.PortDetails, error)

	// WatchDir is watched for device nodes appearing and disappearing.
	WatchDir string

	// Interval is the periodic refresh used alongside the watcher.
	Interval time.Duration

	Logger *zap.SugaredLogger
}

// NewCatalog returns a Catalog over the system's serial ports.
func NewCatalog(watchDir string, interval time.Duration, logger *zap.SugaredLogger) *Catalog {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Catalog{
		Enumerate: enumerator.GetDetailedPortsList,
		WatchDir:  watchDir,
		Interval:  interval,
		Logger:    logger,
	}
}

// List returns the attached ports sorted by name.
func (c *Catalog) List() ([]PortInfo, error) {
	details, err := c.Enumerate()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// Names returns the attached port names in catalog order.
func (c *Catalog) Names() ([]string, error) {
	ports, err := c.List()
	if err != nil {
		return nil, err
	}
	return PortNames(ports), nil
}

// PortNames extracts the names of ports.
func PortNames(ports []PortInfo) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}

// Watch sends the current port list immediately, then again whenever a device
// node is created or removed in WatchDir and on every Interval tick. Lists equal
// to the previous one are not resent. The channel closes when ctx is done.
func (c *Catalog) Watch(ctx context.Context) <-chan []PortInfo {
	ch := make(chan []PortInfo, 1)

	go func() {
		defer close(ch)

		var last []string
		send := func() bool {
			ports, err := c.List()
			if err != nil {
				c.Logger.Warnw("Failed to enumerate serial ports", "error", err)
				return true
			}
			names := PortNames(ports)
			if last != nil && slices.Equal(names, last) {
				return true
			}
			last = names
			select {
			case ch <- ports:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var events chan fsnotify.Event
		var errs chan error
		if c.WatchDir != "" {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				c.Logger.Warnw("Port hotplug watch unavailable", "error", err)
			} else {
				defer func() { _ = watcher.Close() }()
				if err := watcher.Add(c.WatchDir); err != nil {
					c.Logger.Warnw("Failed to watch device directory", "dir", c.WatchDir, "error", err)
				} else {
					events = watcher.Events
					errs = watcher.Errors
				}
			}
		}

		if !send() {
			return
		}

		var tick <-chan time.Time
		if c.Interval > 0 {
			ticker := time.NewTicker(c.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if !isDeviceNode(event.Name) || event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				c.Logger.Debugw("Device node changed", "name", event.Name, "op", event.Op.String())
				if !send() {
					return
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				c.Logger.Warnw("Port watch error", "error", err)
			case <-tick:
				if !send() {
					return
				}
			}
		}
	}()

	return ch
}

func isDeviceNode(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "tty") || strings.HasPrefix(name, "cu.")
}
