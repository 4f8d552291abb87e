// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardup.log")

	logger, err := New(Options{File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Infow("Probe complete", "port", "/dev/ttyUSB0")
	logger.Debugw("hidden at info level")
	Sync(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if entry["msg"] != "Probe complete" {
		t.Errorf("expected msg=Probe complete, got=%v", entry["msg"])
	}
	if entry["port"] != "/dev/ttyUSB0" {
		t.Errorf("expected port field, got=%v", entry["port"])
	}
}

func TestVerboseEnablesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardup.log")

	logger, err := New(Options{File: path, Verbose: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("debug entry")
	Sync(logger)

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "debug entry") {
		t.Errorf("expected debug entry in %q", data)
	}
}
