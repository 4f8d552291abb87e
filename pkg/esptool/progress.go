// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"regexp"
	"strconv"
)

var progressPattern = regexp.MustCompile(`\((\d{1,3})\s*%\)`)

// ParseProgress extracts the percentage from a write_flash progress line such
// as "Writing at 0x00010000... (12 %)".
func ParseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}
