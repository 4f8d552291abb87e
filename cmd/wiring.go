// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/config"
	"github.com/phloton/boardup/pkg/esptool"
	"github.com/phloton/boardup/pkg/logging"
	"github.com/phloton/boardup/pkg/pipeline"
	"github.com/phloton/boardup/pkg/store"
)

// stack holds the pipeline components built from the resolved config.
type stack struct {
	logger     *zap.SugaredLogger
	ports      *board.Exclusive
	catalog    *board.Catalog
	prober     *board.Prober
	identifier *esptool.Identifier
	flasher    *esptool.Flasher
	monitor    *board.Monitor
	store      *store.Store
}

func newStack(c config.Config, logger *zap.SugaredLogger) *stack {
	ports := board.NewExclusive(board.SerialOpener{})
	runner := esptool.ExecRunner{}
	markers := c.BoardMarkers()

	prober := board.NewProber(ports, logger.Named("probe"))
	prober.BaudRate = c.BaudRate
	prober.Window = c.ProbeWindow()
	prober.ReadTimeout = c.ProbeReadTimeout()
	prober.Markers = markers

	identifier := esptool.NewIdentifier(runner, c.ToolArgs(), logger.Named("identify"))
	identifier.Timeout = c.IdentifyTimeout()
	identifier.Markers = c.Chips

	flasher := esptool.NewFlasher(runner, c.ToolArgs(), logger.Named("flash"))
	flasher.BaudRate = c.FlashBaudRate

	monitor := board.NewMonitor(ports, logger.Named("monitor"))
	monitor.BaudRate = c.BaudRate
	monitor.ReadTimeout = c.MonitorReadTimeout()

	return &stack{
		logger:     logger,
		ports:      ports,
		catalog:    board.NewCatalog(c.WatchDir, c.RefreshInterval(), logger.Named("ports")),
		prober:     prober,
		identifier: identifier,
		flasher:    flasher,
		monitor:    monitor,
		store:      openStore(),
	}
}

// controller builds a pipeline fed by catalog updates until ctx is done.
func (s *stack) controller(ctx context.Context, c config.Config, autoFlash bool) *pipeline.Controller {
	return pipeline.New(pipeline.Options{
		Catalog:     s.catalog,
		Prober:      s.prober,
		Identifier:  s.identifier,
		Flasher:     s.flasher,
		Monitor:     s.monitor,
		Ports:       s.ports,
		Recorder:    s.store,
		PortUpdates: s.catalog.Watch(ctx),
		Markers:     c.BoardMarkers(),
		Settle:      c.Settle(),
		BaudRate:    c.BaudRate,
		Port:        c.Port,
		Firmware:    c.Firmware,
		AutoFlash:   autoFlash,
		Logger:      s.logger.Named("pipeline"),
	})
}

func openStore() *store.Store {
	return store.New(filepath.Join(configDir, config.DirName))
}

// newLogger logs to stderr, or to a JSON file under the store when the
// terminal UI owns the screen.
func newLogger(toFile bool) (*zap.SugaredLogger, error) {
	opts := logging.Options{Verbose: verbose}
	if toFile {
		dir, err := openStore().LogsDir()
		if err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		opts.File = filepath.Join(dir, "boardup-"+time.Now().Format("20060102-150405")+".log")
	}
	return logging.New(opts)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
