// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"fmt"
	"strconv"
	"strings"
)

// ChargerState is the last charger condition the board reported.
type ChargerState int

const (
	ChargerUnknown ChargerState = iota
	ChargerConnected
	ChargerDisconnected
)

func (c ChargerState) String() string {
	switch c {
	case ChargerConnected:
		return "Connected"
	case ChargerDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Markers are the substrings recognized in board output.
type Markers struct {
	// ProbeSignatures identify a bring-up capable board during probing.
	ProbeSignatures []string `json:"probe_signatures"`

	ChargerConnected    string `json:"charger_connected"`
	ChargerDisconnected string `json:"charger_disconnected"`

	// MACPrefix starts the line printed once the board has stored its MAC
	// address.
	MACPrefix string `json:"mac_prefix"`
}

// DefaultMarkers returns the markers printed by the bring-up firmware.
func DefaultMarkers() Markers {
	return Markers{
		ProbeSignatures:     []string{"Enter option number", "Device MAC ID"},
		ChargerConnected:    "CHARGER:CONNECTED",
		ChargerDisconnected: "CHARGER:DISCONNECTED",
		MACPrefix:           "Device MAC ID",
	}
}

// IsSignature reports whether line contains any probe signature.
func (m Markers) IsSignature(line string) bool {
	for _, sig := range m.ProbeSignatures {
		if sig != "" && strings.Contains(line, sig) {
			return true
		}
	}
	return false
}

// Match is what a single line says about the board.
type Match struct {
	Charger ChargerState
	MACSeen bool
	MAC     string

	Telemetry *Temperatures
}

// Any reports whether the line carried a marker or telemetry.
func (m Match) Any() bool {
	return m.Charger != ChargerUnknown || m.MACSeen || m.Telemetry != nil
}

// Match classifies a line.
func (m Markers) Match(line string) Match {
	var match Match

	switch {
	case m.ChargerConnected != "" && strings.Contains(line, m.ChargerConnected):
		match.Charger = ChargerConnected
	case m.ChargerDisconnected != "" && strings.Contains(line, m.ChargerDisconnected):
		match.Charger = ChargerDisconnected
	}

	if m.MACPrefix != "" && strings.HasPrefix(line, m.MACPrefix) {
		match.MACSeen = true
		match.MAC = strings.TrimSpace(strings.TrimLeft(line[len(m.MACPrefix):], " :=\t"))
	}

	if t, ok := ParseTelemetry(line); ok {
		match.Telemetry = &t
	}

	return match
}

// Temperatures is one reading of the four board thermistors in °C.
type Temperatures struct {
	Ambient  float64 `json:"ambient"`
	ColdSink float64 `json:"cold_sink"`
	HeatSink float64 `json:"heat_sink"`
	FlaskTop float64 `json:"flask_top"`
}

func (t Temperatures) String() string {
	return fmt.Sprintf("Ambient %.2f°C | Cold Sink %.2f°C | Heat Sink %.2f°C | Flask Top %.2f°C",
		t.Ambient, t.ColdSink, t.HeatSink, t.FlaskTop)
}

// ParseTelemetry parses a "25.32°C | 23.98°C | 26.45°C | 25.12°C" line.
func ParseTelemetry(line string) (Temperatures, bool) {
	fields := strings.Split(line, "|")
	if len(fields) != 4 {
		return Temperatures{}, false
	}

	var values [4]float64
	for i, field := range fields {
		field = strings.TrimSpace(field)
		field = strings.TrimSuffix(field, "°C")
		field = strings.TrimSuffix(field, "C")
		field = strings.TrimSpace(field)
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Temperatures{}, false
		}
		values[i] = v
	}

	return Temperatures{
		Ambient:  values[0],
		ColdSink: values[1],
		HeatSink: values[2],
		FlaskTop: values[3],
	}, true
}
