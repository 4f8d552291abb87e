// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/pipeline"
)

type fakeCommander struct {
	calls []string
}

func (c *fakeCommander) RefreshPorts()           { c.calls = append(c.calls, "refresh") }
func (c *fakeCommander) Probe()                  { c.calls = append(c.calls, "probe") }
func (c *fakeCommander) SelectPort(port string)  { c.calls = append(c.calls, "select "+port) }
func (c *fakeCommander) SetFirmware(path string) { c.calls = append(c.calls, "firmware "+path) }
func (c *fakeCommander) Flash()                  { c.calls = append(c.calls, "flash") }
func (c *fakeCommander) Monitor(port string)     { c.calls = append(c.calls, "monitor "+port) }
func (c *fakeCommander) Disconnect()             { c.calls = append(c.calls, "disconnect") }

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m model, msgs ...tea.Msg) model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(model)
	}
	return m
}

func testPorts() []board.PortInfo {
	return []board.PortInfo{{Name: "/dev/ttyACM0"}, {Name: "/dev/ttyUSB0"}, {Name: "/dev/ttyUSB1"}}
}

// ============================================================
// Key handling
// ============================================================

func TestModelCommandKeys(t *testing.T) {
	ctrl := &fakeCommander{}
	snap := pipeline.Snapshot{}
	snap.Port = "/dev/ttyUSB0"
	m := initialModel(ctrl, 115200, snap)

	press(t, m, keyRunes("f"), keyRunes("p"), keyRunes("r"), keyRunes("m"), keyRunes("d"))

	want := []string{"flash", "probe", "refresh", "monitor /dev/ttyUSB0", "disconnect"}
	if diff := cmp.Diff(want, ctrl.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestModelPortCycling(t *testing.T) {
	tests := []struct {
		name    string
		current string
		key     string
		want    []string
	}{
		{"next", "/dev/ttyUSB0", "]", []string{"select /dev/ttyUSB1"}},
		{"next wraps", "/dev/ttyUSB1", "]", []string{"select /dev/ttyACM0"}},
		{"prev", "/dev/ttyUSB0", "[", []string{"select /dev/ttyACM0"}},
		{"prev wraps", "/dev/ttyACM0", "[", []string{"select /dev/ttyUSB1"}},
		{"next with no port", "", "]", []string{"select /dev/ttyACM0"}},
		{"prev with no port", "", "[", []string{"select /dev/ttyUSB1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeCommander{}
			snap := pipeline.Snapshot{BoardState: pipeline.BoardState{Port: tt.current, Ports: testPorts()}}
			press(t, initialModel(ctrl, 115200, snap), keyRunes(tt.key))
			if diff := cmp.Diff(tt.want, ctrl.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModelPortCyclingSinglePort(t *testing.T) {
	ctrl := &fakeCommander{}
	snap := pipeline.Snapshot{BoardState: pipeline.BoardState{
		Port:  "/dev/ttyUSB0",
		Ports: []board.PortInfo{{Name: "/dev/ttyUSB0"}},
	}}
	press(t, initialModel(ctrl, 115200, snap), keyRunes("]"), keyRunes("["))
	if len(ctrl.calls) != 0 {
		t.Errorf("expected no port change with one port, got %v", ctrl.calls)
	}
}

func TestModelFirmwareInput(t *testing.T) {
	ctrl := &fakeCommander{}
	snap := pipeline.Snapshot{BoardState: pipeline.BoardState{Firmware: "a.bin"}}
	m := initialModel(ctrl, 115200, snap)

	m = press(t, m, keyRunes("b"))
	if !m.editing {
		t.Fatal("expected firmware input to be active")
	}

	// Command keys are text while editing
	m = press(t, m,
		tea.KeyMsg{Type: tea.KeyBackspace},
		tea.KeyMsg{Type: tea.KeyBackspace},
		tea.KeyMsg{Type: tea.KeyBackspace},
		tea.KeyMsg{Type: tea.KeyBackspace},
		tea.KeyMsg{Type: tea.KeyBackspace},
		keyRunes("f"), keyRunes("w.bin"),
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if m.editing {
		t.Error("expected input to close on enter")
	}
	if diff := cmp.Diff([]string{"firmware fw.bin"}, ctrl.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	// Escape discards the edit
	ctrl.calls = nil
	m = press(t, m, keyRunes("b"), keyRunes("x"), tea.KeyMsg{Type: tea.KeyEsc})
	if m.editing || len(ctrl.calls) != 0 {
		t.Errorf("expected escape to cancel, editing=%v calls=%v", m.editing, ctrl.calls)
	}
}

func TestModelQuit(t *testing.T) {
	m := initialModel(&fakeCommander{}, 115200, pipeline.Snapshot{})
	next, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !next.(model).quitting {
		t.Error("expected quitting state")
	}
}

// ============================================================
// Rendering
// ============================================================

func TestModelViewShowsState(t *testing.T) {
	snap := pipeline.Snapshot{
		BoardState: pipeline.BoardState{
			Stage:       pipeline.StageMonitoring,
			Port:        "/dev/ttyUSB0",
			Chip:        "esp32s3",
			Firmware:    "build/app.bin",
			Flash:       pipeline.FlashSuccess,
			Charger:     board.ChargerConnected,
			MACVerified: true,
			MAC:         "AA:BB:CC:DD:EE:FF",
			Status:      pipeline.StatusVerified,
		},
		Log: []string{"Monitoring /dev/ttyUSB0 at 115200 baud", "Device MAC ID: AA:BB:CC:DD:EE:FF"},
	}
	m := initialModel(&fakeCommander{}, 115200, pipeline.Snapshot{})
	m = press(t, m, tea.WindowSizeMsg{Width: 120, Height: 40}, snapshotMsg(snap))

	view := m.View()
	for _, want := range []string{
		"BOARDUP",
		"/dev/ttyUSB0 @ 115200 baud",
		"Monitoring(Verified)",
		"esp32s3",
		"build/app.bin",
		"AA:BB:CC:DD:EE:FF (verified)",
		pipeline.StatusVerified,
		"Device MAC ID",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelViewFailed(t *testing.T) {
	snap := pipeline.Snapshot{BoardState: pipeline.BoardState{
		Stage:    pipeline.StageFailed,
		FailedAt: pipeline.StageFlashing,
		Flash:    pipeline.FlashFailed,
		Status:   pipeline.StatusFlashFailed,
	}}
	view := initialModel(&fakeCommander{}, 115200, snap).View()
	if !strings.Contains(view, "Failed(Flashing)") {
		t.Errorf("expected failed stage label in view")
	}
	if !strings.Contains(view, pipeline.StatusFlashFailed) {
		t.Errorf("expected failure status in view")
	}
}

func TestModelStopsWithPipeline(t *testing.T) {
	m := initialModel(&fakeCommander{}, 115200, pipeline.Snapshot{})
	next, cmd := m.Update(pipelineStoppedMsg{})
	if cmd == nil || !next.(model).quitting {
		t.Error("expected quit when pipeline stops")
	}
}
