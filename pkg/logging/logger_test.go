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
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("records below LevelWarn were written: %s", out)
	}
	if !strings.Contains(out, "kept warn") || !strings.Contains(out, "kept error") {
		t.Errorf("records at or above LevelWarn missing: %s", out)
	}
}

func TestNew_JSONIncludesService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "sopctl", JSON: true, Output: &buf})

	logger.Info("sending question", "question_chars", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["service"] != "sopctl" {
		t.Errorf("service attribute = %v, want sopctl", record["service"])
	}
	if record["msg"] != "sending question" {
		t.Errorf("msg = %v, want %q", record["msg"], "sending question")
	}
	if record["question_chars"] != float64(42) {
		t.Errorf("question_chars = %v, want 42", record["question_chars"])
	}
}

func TestNew_TextOmitsServiceWhenUnset(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	logger.Info("hello")

	out := buf.String()
	if strings.Contains(out, "service=") {
		t.Errorf("unset service must not appear in output: %s", out)
	}
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("text output missing message: %s", out)
	}
}

func TestWith_AttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{JSON: true, Output: &buf})
	child := parent.With("request_id", "req-1")

	child.Info("child record")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", record["request_id"])
	}

	buf.Reset()
	parent.Info("parent record")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("parent logger gained the child's attribute: %s", buf.String())
	}
}

func TestSlog_WritesThroughHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "sop-orchestrator", JSON: true, Output: &buf})

	logger.Slog().Info("via slog")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["service"] != "sop-orchestrator" {
		t.Errorf("service attribute = %v, want sop-orchestrator", record["service"])
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.Level() != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.Level())
	}
}
