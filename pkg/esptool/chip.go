// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultIdentifyTimeout bounds a chip_id invocation.
const DefaultIdentifyTimeout = 5 * time.Second

// ErrIdentificationFailed is returned when the chip family could not be
// determined.
var ErrIdentificationFailed = errors.New("chip identification failed")

// Chip is a chip family name as esptool's --chip flag takes it.
type Chip string

// ChipUnknown is the zero Chip.
const ChipUnknown Chip = ""

func (c Chip) String() string {
	if c == ChipUnknown {
		return "unknown"
	}
	return string(c)
}

// ChipMarker maps an output substring to a chip family.
type ChipMarker struct {
	Marker string `json:"marker"`
	Chip   Chip   `json:"chip"`
}

// DefaultChipMarkers is ordered most specific first: "esp32" is a substring
// of the others.
func DefaultChipMarkers() []ChipMarker {
	return []ChipMarker{
		{Marker: "esp32-s3", Chip: "esp32s3"},
		{Marker: "esp32-s2", Chip: "esp32s2"},
		{Marker: "esp32", Chip: "esp32"},
	}
}

// Classify returns the chip of the first marker found in output, compared
// case-insensitively.
func Classify(output string, markers []ChipMarker) (Chip, bool) {
	lower := strings.ToLower(output)
	for _, m := range markers {
		if m.Marker != "" && strings.Contains(lower, strings.ToLower(m.Marker)) {
			return m.Chip, true
		}
	}
	return ChipUnknown, false
}

// Identifier runs "esptool --port P chip_id" and classifies the output.
type Identifier struct {
	Runner  Runner
	Tool    []string
	Timeout time.Duration
	Markers []ChipMarker
	Logger  *zap.SugaredLogger
}

// NewIdentifier returns an Identifier with the default timeout and markers.
func NewIdentifier(runner Runner, tool []string, logger *zap.SugaredLogger) *Identifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Identifier{
		Runner:  runner,
		Tool:    tool,
		Timeout: DefaultIdentifyTimeout,
		Markers: DefaultChipMarkers(),
		Logger:  logger,
	}
}

// Command returns the chip_id invocation for port.
func (id *Identifier) Command(port string) Command {
	return toolCommand(id.Tool, "--port", port, "chip_id")
}

// Identify runs one chip_id invocation. It never retries. A timeout, a start
// failure, a nonzero exit or unrecognized output all wrap
// ErrIdentificationFailed.
func (id *Identifier) Identify(ctx context.Context, port string) (Chip, error) {
	ctx, cancel := context.WithTimeout(ctx, id.Timeout)
	defer cancel()

	cmd := id.Command(port)
	id.Logger.Debugw("Identifying chip", "port", port, "command", cmd.String())

	result, err := id.Runner.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ChipUnknown, fmt.Errorf("%w: timed out after %s", ErrIdentificationFailed, id.Timeout)
		}
		return ChipUnknown, fmt.Errorf("%w: %v", ErrIdentificationFailed, err)
	}
	if result.ExitCode != 0 {
		return ChipUnknown, fmt.Errorf("%w: %s exited with code %d", ErrIdentificationFailed, cmd.Name, result.ExitCode)
	}

	chip, ok := Classify(result.Output, id.Markers)
	if !ok {
		return ChipUnknown, fmt.Errorf("%w: unrecognized chip_id output", ErrIdentificationFailed)
	}

	id.Logger.Infow("Chip identified", "port", port, "chip", chip)
	return chip, nil
}

// toolCommand appends args to the tool prefix, e.g. ["python", "-m", "esptool"].
func toolCommand(tool []string, args ...string) Command {
	if len(tool) == 0 {
		tool = DefaultTool()
	}
	return Command{
		Name: tool[0],
		Args: append(append([]string(nil), tool[1:]...), args...),
	}
}

// DefaultTool is how esptool is launched when nothing is configured.
func DefaultTool() []string {
	return []string{"python", "-m", "esptool"}
}
