// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Command is one invocation of an external tool.
type Command struct {
	Name string
	Args []string

	// OnLine, if set, receives each output line as it is produced.
	OnLine func(string)
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a finished command.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Runner runs external commands. The returned error is non-nil only when the
// command could not be started or was cancelled through ctx. A command that
// ran and exited nonzero reports it through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as child processes with stdout and stderr merged.
type ExecRunner struct {
	// WaitDelay bounds how long output is drained after the process is killed.
	WaitDelay time.Duration
}

// Run starts cmd and blocks until it exits. Cancelling ctx kills the process
// and any children it spawned.
func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Cancel = func() error { return killTree(cmd.Process.Pid) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	cmd.Stderr = cmd.Stdout // merge stderr into stdout

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", c.Name, err)
	}

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		output.WriteString(line)
		output.WriteByte('\n')
		if c.OnLine != nil {
			c.OnLine(line)
		}
	}

	err = cmd.Wait()
	result := Result{
		Output:   output.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		return result, err
	}
	return result, nil
}

// killTree kills pid after its descendants so nothing keeps the port open.
func killTree(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return os.ErrProcessDone
	}
	children, _ := proc.Children()
	for _, child := range children {
		_ = killTree(int(child.Pid))
	}
	if err := proc.Kill(); err != nil {
		if running, rerr := proc.IsRunning(); rerr == nil && !running {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// scanLinesOrCR splits on '\n' or '\r' so in-place progress updates arrive as
// separate lines.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
