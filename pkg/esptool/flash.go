// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultFlashBaud is the baud rate esptool writes flash at.
const DefaultFlashBaud = 921600

// Flash offsets of the three images.
const (
	BootloaderOffset = 0x0000
	PartitionsOffset = 0x8000
	AppOffset        = 0x10000
)

// ErrFlashProcessFailed is returned when write_flash could not be started or
// exited nonzero.
var ErrFlashProcessFailed = errors.New("flash process failed")

// FlashResult is the outcome of one write_flash run.
type FlashResult struct {
	Output   string
	Success  bool
	ExitCode int
	Duration time.Duration
}

// FlashError carries the failed run so its output can be surfaced.
type FlashError struct {
	Result FlashResult
	Err    error
}

func (e *FlashError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrFlashProcessFailed, e.Err)
	}
	return fmt.Sprintf("%s: exit code %d", ErrFlashProcessFailed, e.Result.ExitCode)
}

// Is makes errors.Is(err, ErrFlashProcessFailed) match.
func (e *FlashError) Is(target error) bool {
	return target == ErrFlashProcessFailed
}

func (e *FlashError) Unwrap() error {
	return e.Err
}

// Flasher writes a bundle with esptool.
type Flasher struct {
	Runner   Runner
	Tool     []string
	BaudRate int
	Logger   *zap.SugaredLogger
}

// NewFlasher returns a Flasher at DefaultFlashBaud.
func NewFlasher(runner Runner, tool []string, logger *zap.SugaredLogger) *Flasher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Flasher{
		Runner:   runner,
		Tool:     tool,
		BaudRate: DefaultFlashBaud,
		Logger:   logger,
	}
}

// Command returns the write_flash invocation for bundle.
func (f *Flasher) Command(port string, chip Chip, bundle Bundle) Command {
	return toolCommand(f.Tool,
		"--chip", string(chip),
		"--port", port,
		"--baud", strconv.Itoa(f.BaudRate),
		"--before", "default_reset",
		"--after", "hard_reset",
		"write_flash", "-z",
		offset(BootloaderOffset), bundle.Bootloader,
		offset(PartitionsOffset), bundle.Partitions,
		offset(AppOffset), bundle.App,
	)
}

func offset(addr int) string {
	return fmt.Sprintf("0x%04x", addr)
}

// Flash writes bundle to the board on port and blocks until esptool exits.
// An incomplete bundle is rejected before anything is started. onLine
// receives output as it is produced. Success is exit code zero; there are no
// retries. Cancelling ctx kills the process.
func (f *Flasher) Flash(ctx context.Context, port string, chip Chip, bundle Bundle, onLine func(string)) (FlashResult, error) {
	if !bundle.Complete() {
		return FlashResult{}, &IncompleteError{Missing: bundle.Missing()}
	}

	cmd := f.Command(port, chip, bundle)
	cmd.OnLine = onLine
	f.Logger.Infow("Flashing", "port", port, "chip", chip, "command", cmd.String())

	run, err := f.Runner.Run(ctx, cmd)
	result := FlashResult{
		Output:   run.Output,
		ExitCode: run.ExitCode,
		Duration: run.Duration,
		Success:  err == nil && run.ExitCode == 0,
	}
	if err != nil {
		return result, &FlashError{Result: result, Err: err}
	}
	if !result.Success {
		return result, &FlashError{Result: result}
	}

	f.Logger.Infow("Flash complete", "port", port, "duration", result.Duration)
	return result, nil
}
