// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddAndRetrieveFlashes(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	record := FlashRecord{
		ID:         "3f2b0c1e-8d4a-4e55-9a51-0f5d7e0c2a11",
		Port:       "/dev/ttyUSB0",
		Chip:       "esp32s3",
		Firmware:   "build/app.bin",
		Bootloader: "build/bootloader/bootloader.bin",
		Partitions: "build/partition_table/partitions.bin",
		Timestamp:  time.Now(),
		Success:    true,
		Duration:   "12.5s",
	}

	if err := s.AddFlash(record); err != nil {
		t.Fatalf("AddFlash failed: %v", err)
	}

	flashes, err := s.Flashes()
	if err != nil {
		t.Fatalf("Flashes failed: %v", err)
	}
	if len(flashes) != 1 {
		t.Fatalf("expected 1 flash, got %d", len(flashes))
	}
	if flashes[0].Chip != "esp32s3" {
		t.Errorf("expected chip=esp32s3, got=%s", flashes[0].Chip)
	}
}

func TestAddMultipleRecords(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	s.AddFlash(FlashRecord{Port: "/dev/ttyUSB0", Timestamp: time.Now(), Success: true, Duration: "5s"})
	s.AddFlash(FlashRecord{Port: "/dev/ttyUSB1", Timestamp: time.Now(), Success: false, ExitCode: 2, Duration: "3s"})
	s.AddSerialLog(SerialLog{Port: "/dev/ttyUSB0", BaudRate: 115200, Timestamp: time.Now(), MACVerified: true})

	flashes, _ := s.Flashes()
	if len(flashes) != 2 {
		t.Errorf("expected 2 flashes, got %d", len(flashes))
	}
	if flashes[1].ExitCode != 2 {
		t.Errorf("expected records in append order, got %+v", flashes)
	}

	logs, _ := s.SerialLogs()
	if len(logs) != 1 || !logs[0].MACVerified {
		t.Errorf("unexpected serial logs %+v", logs)
	}
}

func TestEmptyStore(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	flashes, err := s.Flashes()
	if err != nil {
		t.Fatalf("Flashes on empty store failed: %v", err)
	}
	if len(flashes) != 0 {
		t.Errorf("expected 0 flashes, got %d", len(flashes))
	}
}

func TestCorruptHistoryNotOverwritten(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	dir := filepath.Join(tmp, "history")
	os.MkdirAll(dir, 0o755)
	path := filepath.Join(dir, "flashes.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	if err := s.AddFlash(FlashRecord{Port: "/dev/ttyUSB0"}); err == nil {
		t.Fatal("expected error for corrupt history")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("corrupt history file should be left untouched")
	}
}

func TestLogsDir(t *testing.T) {
	tmp := t.TempDir()
	dir, err := New(tmp).LogsDir()
	if err != nil {
		t.Fatalf("LogsDir failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("logs dir not created: %v", err)
	}
}
