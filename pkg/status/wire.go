// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/pipeline"
)

// Kind identifies a frame: [kind, payload_map]
type Kind uint8

const (
	KindSnapshot Kind = 1
	KindLine     Kind = 2
	KindCommand  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "SNAPSHOT"
	case KindLine:
		return "LINE"
	case KindCommand:
		return "COMMAND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Line payload keys
const (
	KeyLineText = 0
)

// Command payload keys
const (
	KeyCommandAction = 0
	KeyCommandArg    = 1
)

// Command actions accepted from clients
const (
	ActionRefresh    = "refresh"
	ActionProbe      = "probe"
	ActionSelect     = "select"
	ActionFirmware   = "firmware"
	ActionFlash      = "flash"
	ActionMonitor    = "monitor"
	ActionDisconnect = "disconnect"
)

// Status is the wire form of a pipeline snapshot.
type Status struct {
	Stage        string   `cbor:"0,keyasint"`
	Connection   string   `cbor:"1,keyasint"`
	Port         string   `cbor:"2,keyasint,omitempty"`
	Ports        []string `cbor:"3,keyasint,omitempty"`
	Chip         string   `cbor:"4,keyasint,omitempty"`
	Firmware     string   `cbor:"5,keyasint,omitempty"`
	Flash        string   `cbor:"6,keyasint"`
	Progress     int      `cbor:"7,keyasint"`
	Charger      string   `cbor:"8,keyasint"`
	MACVerified  bool     `cbor:"9,keyasint"`
	MAC          string   `cbor:"10,keyasint,omitempty"`
	Status       string   `cbor:"11,keyasint"`
	AttemptID    string   `cbor:"12,keyasint,omitempty"`
	Temperatures []string `cbor:"13,keyasint,omitempty"`
	TotalLines   uint64   `cbor:"14,keyasint"`
	LineRate     float64  `cbor:"15,keyasint"`
}

// Command is a control request sent by a client.
type Command struct {
	Action string
	Arg    string
}

// FromSnapshot flattens a snapshot into its wire form.
func FromSnapshot(snap pipeline.Snapshot) Status {
	s := Status{
		Stage:       snap.StageLabel(),
		Connection:  snap.Connection.String(),
		Port:        snap.Port,
		Ports:       board.PortNames(snap.Ports),
		Firmware:    snap.Firmware,
		Flash:       snap.Flash.String(),
		Progress:    snap.FlashProgress,
		Charger:     snap.Charger.String(),
		MACVerified: snap.MACVerified,
		MAC:         snap.MAC,
		Status:      snap.Status,
		AttemptID:   snap.AttemptID,
		TotalLines:  snap.Stats.TotalLines,
		LineRate:    snap.Stats.LineRate,
	}
	if snap.Chip != "" {
		s.Chip = snap.Chip.String()
	}
	if t := snap.Temperatures; t != nil {
		s.Temperatures = []string{
			formatCelsius(t.Ambient), formatCelsius(t.ColdSink),
			formatCelsius(t.HeatSink), formatCelsius(t.FlaskTop),
		}
	}
	return s
}

func formatCelsius(v float64) string {
	return fmt.Sprintf("%.2f°C", v)
}

// EncodeSnapshot encodes a snapshot frame.
func EncodeSnapshot(snap pipeline.Snapshot) ([]byte, error) {
	return encodeFrame(KindSnapshot, FromSnapshot(snap))
}

// EncodeLine encodes a log line frame.
func EncodeLine(text string) ([]byte, error) {
	return encodeFrame(KindLine, map[int]any{KeyLineText: text})
}

// EncodeCommand encodes a command frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload := map[int]any{KeyCommandAction: cmd.Action}
	if cmd.Arg != "" {
		payload[KeyCommandArg] = cmd.Arg
	}
	return encodeFrame(KindCommand, payload)
}

func encodeFrame(kind Kind, payload any) ([]byte, error) {
	data, err := cbor.Marshal([]any{uint8(kind), payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", kind, err)
	}
	return data, nil
}

// DecodeFrame parses a frame: [kind, payload_map]
// Returns the kind and decoded payload map (nil for empty payloads)
func DecodeFrame(data []byte) (Kind, map[int]any, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var kind Kind
	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("frame kind out of range: %d", v)
		}
		kind = Kind(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for frame kind, got %T", msg[0])
	}

	if msg[1] == nil {
		return kind, nil, nil
	}

	m, ok := msg[1].(map[any]any)
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload := make(map[int]any, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return kind, payload, nil
}

// DecodeStatus decodes a snapshot frame into its wire form.
func DecodeStatus(data []byte) (Status, error) {
	var frame struct {
		_      struct{} `cbor:",toarray"`
		Kind   Kind
		Status Status
	}
	if err := cbor.Unmarshal(data, &frame); err != nil {
		return Status{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if frame.Kind != KindSnapshot {
		return Status{}, fmt.Errorf("expected %s frame, got %s", KindSnapshot, frame.Kind)
	}
	return frame.Status, nil
}

// DecodeCommand extracts a command from a command frame payload.
func DecodeCommand(payload map[int]any) (Command, error) {
	action, ok := GetMapString(payload, KeyCommandAction)
	if !ok || action == "" {
		return Command{}, fmt.Errorf("command frame missing action")
	}
	arg, _ := GetMapString(payload, KeyCommandArg)
	return Command{Action: action, Arg: arg}, nil
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]any, key int) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	if val, ok := v.(string); ok {
		return val, true
	}
	return "", false
}

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]any, key int) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
		return 0, false
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]any, key int) (bool, bool) {
	if m == nil {
		return false, false
	}
	v, ok := m[key]
	if !ok {
		return false, false
	}
	if val, ok := v.(bool); ok {
		return val, true
	}
	return false, false
}
