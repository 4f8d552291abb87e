// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrFirmwareIncomplete is returned when a companion binary is missing.
var ErrFirmwareIncomplete = errors.New("firmware bundle incomplete")

const (
	bootloaderPattern = "bootloader"
	partitionsPattern = "partitions"
	binSuffix         = ".bin"
)

// Bundle is an application image plus the companion binaries it is flashed
// with.
type Bundle struct {
	App        string `json:"app"`
	Bootloader string `json:"bootloader,omitempty"`
	Partitions string `json:"partitions,omitempty"`
}

// Complete reports whether all three images are present.
func (b Bundle) Complete() bool {
	return b.App != "" && b.Bootloader != "" && b.Partitions != ""
}

// Missing names the artifacts not resolved yet.
func (b Bundle) Missing() []string {
	var missing []string
	if b.App == "" {
		missing = append(missing, "app")
	}
	if b.Bootloader == "" {
		missing = append(missing, bootloaderPattern)
	}
	if b.Partitions == "" {
		missing = append(missing, partitionsPattern)
	}
	return missing
}

// IncompleteError names the artifacts a bundle lacks.
type IncompleteError struct {
	Dir     string
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s bin not found under %s", ErrFirmwareIncomplete, strings.Join(e.Missing, " and "), e.Dir)
}

// Is makes errors.Is(err, ErrFirmwareIncomplete) match.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrFirmwareIncomplete
}

// Locate resolves the bootloader and partition table for the application
// image app by walking its directory tree in lexical order. The first .bin
// whose name contains "bootloader" or "partitions" wins. Unreadable
// subdirectories are skipped. The returned bundle always carries what was
// found; err is an *IncompleteError when something is missing.
func Locate(app string) (Bundle, error) {
	bundle := Bundle{App: app}
	if app == "" {
		return bundle, &IncompleteError{Missing: bundle.Missing()}
	}

	info, err := os.Stat(app)
	if err != nil || info.IsDir() {
		bundle.App = ""
	}

	dir := filepath.Dir(app)
	appAbs, _ := filepath.Abs(app)

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !strings.HasSuffix(strings.ToLower(name), binSuffix) {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == appAbs {
			return nil
		}

		if bundle.Bootloader == "" && strings.Contains(name, bootloaderPattern) {
			bundle.Bootloader = path
		} else if bundle.Partitions == "" && strings.Contains(name, partitionsPattern) {
			bundle.Partitions = path
		}

		if bundle.Bootloader != "" && bundle.Partitions != "" {
			return fs.SkipAll
		}
		return nil
	})

	if !bundle.Complete() {
		return bundle, &IncompleteError{Dir: dir, Missing: bundle.Missing()}
	}
	return bundle, nil
}
