// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger provides structured logging for palaver.
//
// Components take a zerolog.Logger value; the process-wide logger is set
// once at startup with Init and is silent until then.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // human-readable console output
	Output     io.Writer
	WithCaller bool
}

var (
	mu     sync.RWMutex
	global = zerolog.Nop()
)

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger from cfg.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
		}
	}

	zctx := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "palaver")
	if cfg.WithCaller {
		zctx = zctx.Caller()
	}
	return zctx.Logger()
}

// Init installs the process-wide logger.
func Init(cfg Config) zerolog.Logger {
	l := New(cfg)
	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// OpenFile opens (appending) a log file, creating its directory.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// L returns the process-wide logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Component returns the process-wide logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}
