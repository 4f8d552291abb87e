// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	flashesFile    = "flashes.json"
	serialLogsFile = "serial_logs.json"
)

// Store persists flash attempts and serial sessions as JSON arrays.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at the given directory (typically .boardup/).
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) historyDir() string {
	return filepath.Join(s.root, "history")
}

func (s *Store) logsDir() string {
	return filepath.Join(s.root, "logs")
}

// AddFlash appends a flash record.
func (s *Store) AddFlash(r FlashRecord) error {
	return s.appendRecord(flashesFile, r)
}

// Flashes returns all flash records, oldest first.
func (s *Store) Flashes() ([]FlashRecord, error) {
	var records []FlashRecord
	err := s.loadRecords(flashesFile, &records)
	return records, err
}

// AddSerialLog appends a serial session record.
func (s *Store) AddSerialLog(r SerialLog) error {
	return s.appendRecord(serialLogsFile, r)
}

// SerialLogs returns all serial session records, oldest first.
func (s *Store) SerialLogs() ([]SerialLog, error) {
	var records []SerialLog
	err := s.loadRecords(serialLogsFile, &records)
	return records, err
}

// LogsDir returns the path to the logs directory, creating it if needed.
func (s *Store) LogsDir() (string, error) {
	dir := s.logsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) appendRecord(filename string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.historyDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, filename)

	// Read existing records
	var records []json.RawMessage
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("corrupt history file %s: %w", path, err)
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	records = append(records, raw)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) loadRecords(filename string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.historyDir(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dest)
}
