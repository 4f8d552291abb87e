// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package esptooltest provides a scripted esptool.Runner for tests.
package esptooltest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/phloton/boardup/pkg/esptool"
)

// Response is what the fake returns for a subcommand.
type Response struct {
	Output   string
	ExitCode int
	Err      error

	// Block makes Run wait for ctx cancellation before returning.
	Block bool
}

// Runner records every command and answers by esptool subcommand
// ("chip_id", "write_flash").
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []esptool.Command

	// Started, if set, receives each command as Run begins.
	Started chan esptool.Command
}

// NewRunner returns a Runner with no responses configured. Unknown
// subcommands exit with code 2.
func NewRunner() *Runner {
	return &Runner{responses: make(map[string]Response)}
}

// On sets the response for subcommand.
func (r *Runner) On(subcommand string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[subcommand] = resp
	return r
}

// Run implements esptool.Runner.
func (r *Runner) Run(ctx context.Context, cmd esptool.Command) (esptool.Result, error) {
	sub := Subcommand(cmd)

	r.mu.Lock()
	r.calls = append(r.calls, esptool.Command{Name: cmd.Name, Args: slices.Clone(cmd.Args)})
	resp, ok := r.responses[sub]
	started := r.Started
	r.mu.Unlock()

	if started != nil {
		started <- cmd
	}
	if !ok {
		return esptool.Result{Output: "unknown command", ExitCode: 2}, nil
	}

	if cmd.OnLine != nil {
		for _, line := range strings.Split(resp.Output, "\n") {
			if line != "" {
				cmd.OnLine(line)
			}
		}
	}

	if resp.Block {
		<-ctx.Done()
		return esptool.Result{Output: resp.Output, ExitCode: -1}, ctx.Err()
	}
	if resp.Err != nil {
		return esptool.Result{ExitCode: -1}, resp.Err
	}
	return esptool.Result{Output: resp.Output, ExitCode: resp.ExitCode}, nil
}

// Calls returns the commands run so far.
func (r *Runner) Calls() []esptool.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Count returns how many times subcommand was run.
func (r *Runner) Count(subcommand string) int {
	n := 0
	for _, c := range r.Calls() {
		if Subcommand(c) == subcommand {
			n++
		}
	}
	return n
}

// Subcommand returns the first esptool subcommand in cmd's arguments.
func Subcommand(cmd esptool.Command) string {
	for _, a := range cmd.Args {
		switch a {
		case "chip_id", "write_flash", "read_mac", "flash_id":
			return a
		}
	}
	return ""
}
