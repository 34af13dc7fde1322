// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupWithOptions_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions(&buf, slog.LevelInfo, FormatJSON)

	logger.Info("run started", slog.String("run_id", "r-1"), slog.Int("iteration", 0))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON object per line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "run started" {
		t.Errorf("expected msg 'run started', got %v", entry["msg"])
	}
	if entry["run_id"] != "r-1" {
		t.Errorf("expected run_id attribute, got %v", entry["run_id"])
	}
}

func TestSetupWithOptions_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions(&buf, slog.LevelInfo, FormatText)

	logger.Info("evidence fused", slog.Int("chunks", 5))

	out := buf.String()
	if !strings.Contains(out, "msg=") || !strings.Contains(out, "chunks=5") {
		t.Errorf("expected key=value text output, got %q", out)
	}
}

func TestSetupWithOptions_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions(&buf, slog.LevelWarn, FormatJSON)

	logger.Info("below threshold")
	logger.Warn("at threshold")

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Errorf("expected info to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "at threshold") {
		t.Errorf("expected warn to pass, got %q", out)
	}
}

func TestSetupWithOptions_AutoFallsBackToJSONForBuffers(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions(&buf, slog.LevelInfo, FormatAuto)

	logger.Info("probe")

	if !json.Valid(buf.Bytes()) {
		t.Errorf("expected JSON for non-file writer in auto mode, got %q", buf.String())
	}
}

func TestSetupWithOptions_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWithOptions(&buf, slog.LevelInfo, FormatJSON)

	slog.Info("via default")

	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("expected default logger to write to configured handler, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"text", FormatText},
		{"JSON", FormatJSON},
		{"", FormatAuto},
		{"fancy", FormatAuto},
	}

	for _, tt := range tests {
		if got := parseFormat(tt.input); got != tt.want {
			t.Errorf("parseFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
