// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where log output goes.
type Options struct {
	// Verbose enables debug level output.
	Verbose bool
	// File, when set, receives JSON encoded entries instead of stderr.
	File string
}

// New builds a sugared logger for the CLI. Console output goes to stderr so
// it does not interleave with command output on stdout.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	var cfg zap.Config
	if opts.File != "" {
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
		if !opts.Verbose {
			cfg.DisableCaller = true
		}
	}
	cfg.Level = level

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Sync flushes buffered entries. Terminals report an error syncing stderr,
// so the result is ignored.
func Sync(logger *zap.SugaredLogger) {
	_ = logger.Sync()
}
