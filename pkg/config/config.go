// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/esptool"
)

const (
	DefaultBaudRate      = board.DefaultBaudRate
	DefaultFlashBaudRate = esptool.DefaultFlashBaud
	DefaultProbeWindowMS = 2000
	DefaultProbeReadMS   = 100
	DefaultIdentifyMS    = 5000
	DefaultSettleMS      = 2000
	DefaultMonitorReadMS = 100
	DefaultRefreshMS     = 3000
	DefaultTool          = "python -m esptool"
	DefaultWatchDir      = "/dev"
	DefaultServeAddr     = ":8080"

	// DirName is the workspace directory holding config and history.
	DirName = ".boardup"

	globalDirName  = "boardup"
	configFileName = "config.json"
)

// Config holds all boardup configuration. Durations are in milliseconds.
type Config struct {
	Port              string               `json:"port,omitempty"`
	Firmware          string               `json:"firmware,omitempty"`
	BaudRate          int                  `json:"baud_rate,omitempty"`
	FlashBaudRate     int                  `json:"flash_baud_rate,omitempty"`
	ProbeWindowMS     int                  `json:"probe_window_ms,omitempty"`
	ProbeReadMS       int                  `json:"probe_read_timeout_ms,omitempty"`
	IdentifyTimeoutMS int                  `json:"identify_timeout_ms,omitempty"`
	SettleMS          int                  `json:"settle_ms,omitempty"`
	MonitorReadMS     int                  `json:"monitor_read_timeout_ms,omitempty"`
	RefreshMS         int                  `json:"port_refresh_ms,omitempty"`
	Tool              string               `json:"tool,omitempty"`
	WatchDir          string               `json:"watch_dir,omitempty"`
	ServeAddr         string               `json:"serve_addr,omitempty"`
	Markers           *board.Markers       `json:"markers,omitempty"`
	Chips             []esptool.ChipMarker `json:"chips,omitempty"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	markers := board.DefaultMarkers()
	return Config{
		BaudRate:          DefaultBaudRate,
		FlashBaudRate:     DefaultFlashBaudRate,
		ProbeWindowMS:     DefaultProbeWindowMS,
		ProbeReadMS:       DefaultProbeReadMS,
		IdentifyTimeoutMS: DefaultIdentifyMS,
		SettleMS:          DefaultSettleMS,
		MonitorReadMS:     DefaultMonitorReadMS,
		RefreshMS:         DefaultRefreshMS,
		Tool:              DefaultTool,
		WatchDir:          DefaultWatchDir,
		ServeAddr:         DefaultServeAddr,
		Markers:           &markers,
		Chips:             esptool.DefaultChipMarkers(),
	}
}

// GlobalDir returns ~/.config/boardup.
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", globalDirName), nil
}

// Load reads and merges global and workspace configs.
// Order: defaults → global (~/.config/boardup/config.json) → workspace (.boardup/config.json).
func Load(workspaceRoot string) Config {
	cfg := Defaults()

	// Global config
	if dir, err := GlobalDir(); err == nil {
		mergeFromFile(&cfg, filepath.Join(dir, configFileName))
	}

	// Workspace config
	if workspaceRoot != "" {
		mergeFromFile(&cfg, filepath.Join(workspaceRoot, DirName, configFileName))
	}

	return cfg
}

// Save writes the config to the workspace .boardup/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, workspaceRoot string, global bool) error {
	var dir string
	if global {
		d, err := GlobalDir()
		if err != nil {
			return err
		}
		dir = d
	} else {
		dir = filepath.Join(workspaceRoot, DirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, configFileName), data, 0o644)
}

// ToolArgs splits Tool into a command and its leading arguments.
func (c Config) ToolArgs() []string {
	return strings.Fields(c.Tool)
}

// ProbeWindow is how long each candidate port is read while probing.
func (c Config) ProbeWindow() time.Duration {
	return ms(c.ProbeWindowMS)
}

func (c Config) ProbeReadTimeout() time.Duration {
	return ms(c.ProbeReadMS)
}

func (c Config) IdentifyTimeout() time.Duration {
	return ms(c.IdentifyTimeoutMS)
}

// Settle is the pause between a successful flash and monitoring.
func (c Config) Settle() time.Duration {
	return ms(c.SettleMS)
}

func (c Config) MonitorReadTimeout() time.Duration {
	return ms(c.MonitorReadMS)
}

func (c Config) RefreshInterval() time.Duration {
	return ms(c.RefreshMS)
}

// BoardMarkers returns the configured markers or the defaults.
func (c Config) BoardMarkers() board.Markers {
	if c.Markers == nil {
		return board.DefaultMarkers()
	}
	return *c.Markers
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func mergeFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return
	}

	if fileCfg.Port != "" {
		cfg.Port = fileCfg.Port
	}
	if fileCfg.Firmware != "" {
		cfg.Firmware = fileCfg.Firmware
	}
	if fileCfg.BaudRate != 0 {
		cfg.BaudRate = fileCfg.BaudRate
	}
	if fileCfg.FlashBaudRate != 0 {
		cfg.FlashBaudRate = fileCfg.FlashBaudRate
	}
	if fileCfg.ProbeWindowMS != 0 {
		cfg.ProbeWindowMS = fileCfg.ProbeWindowMS
	}
	if fileCfg.ProbeReadMS != 0 {
		cfg.ProbeReadMS = fileCfg.ProbeReadMS
	}
	if fileCfg.IdentifyTimeoutMS != 0 {
		cfg.IdentifyTimeoutMS = fileCfg.IdentifyTimeoutMS
	}
	if fileCfg.SettleMS != 0 {
		cfg.SettleMS = fileCfg.SettleMS
	}
	if fileCfg.MonitorReadMS != 0 {
		cfg.MonitorReadMS = fileCfg.MonitorReadMS
	}
	if fileCfg.RefreshMS != 0 {
		cfg.RefreshMS = fileCfg.RefreshMS
	}
	if fileCfg.Tool != "" {
		cfg.Tool = fileCfg.Tool
	}
	if fileCfg.WatchDir != "" {
		cfg.WatchDir = fileCfg.WatchDir
	}
	if fileCfg.ServeAddr != "" {
		cfg.ServeAddr = fileCfg.ServeAddr
	}
	if fileCfg.Markers != nil {
		cfg.Markers = fileCfg.Markers
	}
	if len(fileCfg.Chips) > 0 {
		cfg.Chips = fileCfg.Chips
	}
}
