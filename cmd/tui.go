// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/logging"
	"github.com/phloton/boardup/pkg/pipeline"
)

// commander is the part of the controller the UI drives.
type commander interface {
	RefreshPorts()
	Probe()
	SelectPort(port string)
	SetFirmware(path string)
	Flash()
	Monitor(port string)
	Disconnect()
}

type keyMap struct {
	Quit       key.Binding
	Flash      key.Binding
	Probe      key.Binding
	Refresh    key.Binding
	PrevPort   key.Binding
	NextPort   key.Binding
	Firmware   key.Binding
	Monitor    key.Binding
	Disconnect key.Binding
}

var keys = keyMap{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Flash:      key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "flash")),
	Probe:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "probe")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	PrevPort:   key.NewBinding(key.WithKeys("["), key.WithHelp("[", "prev port")),
	NextPort:   key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "next port")),
	Firmware:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "firmware")),
	Monitor:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "monitor")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Flash, k.Probe, k.Refresh, k.PrevPort, k.NextPort, k.Firmware, k.Monitor, k.Disconnect, k.Quit}
}

// TUI model
type model struct {
	ctrl     commander
	baudRate int
	snap     pipeline.Snapshot

	log      viewport.Model
	firmware textinput.Model
	editing  bool
	spinner  spinner.Model

	width    int
	height   int
	quitting bool
}

// Messages
type tickMsg time.Time
type snapshotMsg pipeline.Snapshot
type pipelineStoppedMsg struct{}

func initialModel(ctrl commander, baudRate int, snap pipeline.Snapshot) model {
	ti := textinput.New()
	ti.Placeholder = "build/app.bin"
	ti.CharLimit = 256
	ti.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		ctrl:     ctrl,
		baudRate: baudRate,
		log:      viewport.New(76, 10),
		firmware: ti,
		spinner:  sp,
		width:    80,
		height:   24,
	}
	m.setSnapshot(snap)
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateFirmwareInput(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.setSnapshot(pipeline.Snapshot(msg))

	case pipelineStoppedMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Flash):
		m.ctrl.Flash()
	case key.Matches(msg, keys.Probe):
		m.ctrl.Probe()
	case key.Matches(msg, keys.Refresh):
		m.ctrl.RefreshPorts()
	case key.Matches(msg, keys.PrevPort):
		if port, ok := m.adjacentPort(-1); ok {
			m.ctrl.SelectPort(port)
		}
	case key.Matches(msg, keys.NextPort):
		if port, ok := m.adjacentPort(1); ok {
			m.ctrl.SelectPort(port)
		}
	case key.Matches(msg, keys.Firmware):
		m.editing = true
		m.firmware.SetValue(m.snap.Firmware)
		m.firmware.CursorEnd()
		return m, m.firmware.Focus()
	case key.Matches(msg, keys.Monitor):
		m.ctrl.Monitor(m.snap.Port)
	case key.Matches(msg, keys.Disconnect):
		m.ctrl.Disconnect()
	default:
		// Scrolling
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateFirmwareInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
		m.firmware.Blur()
		if path := strings.TrimSpace(m.firmware.Value()); path != "" {
			m.ctrl.SetFirmware(path)
		}
		return m, nil
	case tea.KeyEsc:
		m.editing = false
		m.firmware.Blur()
		return m, nil
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.firmware, cmd = m.firmware.Update(msg)
	return m, cmd
}

// adjacentPort returns the catalog entry dir steps away from the current port.
// With no current port the first (or last) entry is used.
func (m model) adjacentPort(dir int) (string, bool) {
	names := board.PortNames(m.snap.Ports)
	if len(names) == 0 {
		return "", false
	}
	i := slices.Index(names, m.snap.Port)
	if i < 0 {
		if dir > 0 {
			return names[0], true
		}
		return names[len(names)-1], true
	}
	i = (i + dir + len(names)) % len(names)
	if names[i] == m.snap.Port {
		return "", false
	}
	return names[i], true
}

func (m *model) setSnapshot(snap pipeline.Snapshot) {
	follow := m.log.AtBottom() || m.log.TotalLineCount() == 0
	m.snap = snap
	m.log.SetContent(strings.Join(snap.Log, "\n"))
	if follow {
		m.log.GotoBottom()
	}
}

func (m *model) resizeLog() {
	m.log.Width = max(m.width-4, 20)
	// Reserve space for header, state box and help
	m.log.Height = max(m.height-19, 5)
	m.log.GotoBottom()
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	snap := m.snap

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("BOARDUP - BRING-UP"))
	s.WriteString("\n")
	port := snap.Port
	if port == "" {
		port = "(none)"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("Port: %s @ %d baud | Ports: %d | Press 'q' to quit",
		port, m.baudRate, len(snap.Ports))))
	s.WriteString("\n\n")

	// Status line
	switch {
	case snap.Stage == pipeline.StageFailed:
		s.WriteString(errorStyle.Render("✗ " + snap.Status))
	case snap.Verified():
		s.WriteString(valueStyle.Render("✓ " + snap.Status))
	case busyStage(snap.Stage):
		s.WriteString(m.spinner.View() + " " + warningStyle.Render(snap.Status))
	default:
		s.WriteString(warningStyle.Render(snap.Status))
	}
	s.WriteString("\n\n")

	// Board state
	state := strings.Builder{}
	state.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Stage:"), valueStyle.Render(snap.StageLabel()),
		labelStyle.Render("Connection:"), valueStyle.Render(snap.Connection.String()),
	))

	firmware := snap.Firmware
	if firmware == "" {
		firmware = "(not set)"
	}
	if m.editing {
		state.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Firmware:"), m.firmware.View()))
	} else {
		state.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Firmware:"), valueStyle.Render(firmware)))
	}

	flash := snap.Flash.String()
	switch snap.Flash {
	case pipeline.FlashInProgress:
		flash = fmt.Sprintf("%s %d%%", flash, snap.FlashProgress)
	case pipeline.FlashFailed:
		flash = errorStyle.Render(flash)
	}
	state.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Chip:"), valueStyle.Render(snap.Chip.String()),
		labelStyle.Render("Flash:"), valueStyle.Render(flash),
	))

	mac := headerStyle.Render("waiting")
	if snap.MACVerified {
		mac = valueStyle.Render(snap.MAC + " (verified)")
	}
	state.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Charger:"), valueStyle.Render(snap.Charger.String()),
		labelStyle.Render("MAC:"), mac,
	))

	if t := snap.Temperatures; t != nil {
		state.WriteString(fmt.Sprintf("\n%s %s",
			labelStyle.Render("Temps:"), valueStyle.Render(t.String()),
		))
	}

	if snap.Stats.TotalLines > 0 {
		state.WriteString(fmt.Sprintf("\n%s %s   %s %s",
			labelStyle.Render("Lines:"), valueStyle.Render(fmt.Sprintf("%d", snap.Stats.TotalLines)),
			labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f lines/s", snap.Stats.LineRate)),
		))
	}

	s.WriteString(boxStyle.Render(state.String()))
	s.WriteString("\n\n")

	// Log
	s.WriteString(labelStyle.Render("Log:"))
	s.WriteString("\n")
	if len(snap.Log) == 0 {
		s.WriteString(boxStyle.Width(m.width - 4).Render(headerStyle.Render("  (no events yet)")))
	} else {
		s.WriteString(boxStyle.Width(m.width - 4).Render(m.log.View()))
	}
	s.WriteString("\n")

	// Help
	if m.editing {
		s.WriteString(headerStyle.Render("enter: set firmware • esc: cancel"))
	} else {
		parts := make([]string, 0, len(keys.help()))
		for _, b := range keys.help() {
			h := b.Help()
			parts = append(parts, h.Key+": "+h.Desc)
		}
		s.WriteString(headerStyle.Render(strings.Join(parts, " • ")))
	}

	return s.String()
}

func busyStage(stage pipeline.Stage) bool {
	switch stage {
	case pipeline.StageProbing, pipeline.StageIdentifying, pipeline.StageFlashing, pipeline.StageSettling:
		return true
	}
	return false
}

// runFlashTUI runs the pipeline behind the interactive UI. Logs go to a file
// so they do not tear the screen.
func runFlashTUI() error {
	logger, err := newLogger(true)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, cancel := signalContext()
	defer cancel()

	s := newStack(cfg, logger)
	ctrl := s.controller(ctx, cfg, true)
	snaps, unsub := ctrl.Subscribe()
	defer unsub()

	m := initialModel(ctrl, cfg.BaudRate, ctrl.Snapshot())
	p := tea.NewProgram(m, tea.WithAltScreen())

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Run(ctx)
	}()

	// Forward snapshots into the UI
	go func() {
		for snap := range snaps {
			p.Send(snapshotMsg(snap))
		}
		p.Send(pipelineStoppedMsg{})
	}()

	_, tuiErr := p.Run()
	cancel()
	runErr := <-errCh

	if tuiErr != nil {
		return fmt.Errorf("TUI error: %v", tuiErr)
	}
	return runErr
}
