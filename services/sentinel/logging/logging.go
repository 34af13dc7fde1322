// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Format selects the log output encoding.
type Format string

const (
	// FormatText renders human-readable key=value lines.
	FormatText Format = "text"

	// FormatJSON renders one JSON object per line.
	FormatJSON Format = "json"

	// FormatAuto picks text on a terminal and JSON everywhere else.
	FormatAuto Format = "auto"
)

// Setup configures and installs the process-wide default logger.
//
// Description:
//
//	Reads SENTINEL_LOG_LEVEL (debug, info, warn, error; default info) and
//	SENTINEL_LOG_FORMAT (text, json, auto; default auto). In auto mode a
//	terminal on stderr gets the text handler and anything else (container
//	logs, pipes, files) gets JSON so collectors can parse attributes.
//
// Outputs:
//   - *slog.Logger: The installed default logger.
//
// Thread Safety: Call once at startup, before spawning goroutines that log.
func Setup() *slog.Logger {
	return SetupWithOptions(os.Stderr, parseLevel(os.Getenv("SENTINEL_LOG_LEVEL")), parseFormat(os.Getenv("SENTINEL_LOG_FORMAT")))
}

// SetupWithOptions configures and installs the default logger with explicit
// settings, for tests and non-env wiring.
//
// Inputs:
//   - w: Destination writer. Format auto-detection only fires when w is
//     os.Stderr or os.Stdout; any other writer gets JSON in auto mode.
//   - level: Minimum level to emit.
//   - format: Output encoding.
func SetupWithOptions(w io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch resolveFormat(w, format) {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// resolveFormat maps FormatAuto to a concrete encoding for the writer.
func resolveFormat(w io.Writer, format Format) Format {
	if format != FormatAuto {
		return format
	}
	f, ok := w.(*os.File)
	if !ok {
		return FormatJSON
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return FormatText
	}
	return FormatJSON
}

// parseLevel maps a level name to a slog.Level, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseFormat maps a format name to a Format, defaulting to auto.
func parseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}
