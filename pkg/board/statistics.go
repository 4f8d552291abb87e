// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"fmt"
	"time"
)

// Statistics tracks line counts for a monitoring session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines     uint64
	ReplacedLines  uint64
	ChargerEvents  uint64
	MACLines       uint64
	TelemetryLines uint64

	// Rates (calculated)
	LineRate float64 // lines/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts a line and what it matched
func (s *Statistics) Update(line Line, match Match) {
	s.TotalLines++
	if line.Replaced {
		s.ReplacedLines++
	}
	if match.Charger != ChargerUnknown {
		s.ChargerEvents++
	}
	if match.MACSeen {
		s.MACLines++
	}
	if match.Telemetry != nil {
		s.TelemetryLines++
	}
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates the line rate
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.TotalLines) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var replacedPercent float64
	if s.TotalLines > 0 {
		replacedPercent = float64(s.ReplacedLines) * 100.0 / float64(s.TotalLines)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Lines:     %8d\n", s.TotalLines)
	if s.ReplacedLines > 0 {
		result += fmt.Sprintf("Bad Encoding:    %8d (%.1f%%)\n", s.ReplacedLines, replacedPercent)
	}
	result += fmt.Sprintf("Charger Events:  %8d\n", s.ChargerEvents)
	result += fmt.Sprintf("MAC Lines:       %8d\n", s.MACLines)
	if s.TelemetryLines > 0 {
		result += fmt.Sprintf("Telemetry:       %8d\n", s.TelemetryLines)
	}
	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalLines = 0
	s.ReplacedLines = 0
	s.ChargerEvents = 0
	s.MACLines = 0
	s.TelemetryLines = 0
	s.LineRate = 0
}
