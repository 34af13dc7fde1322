// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

// ============================================================================
// ToolDef wire format
// ============================================================================

func TestToolDef_MarshalMatchesFunctionCallingSchema(t *testing.T) {
	def := ToolDef{
		Type: "function",
		Function: ToolFunction{
			Name:        "query_case_database",
			Description: "Run a read-only SQL query against the surveillance case database.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolParamDef{
					"sql": {
						Type:        "string",
						Description: "A single SELECT statement.",
					},
				},
				Required: []string{"sql"},
			},
		},
	}

	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["type"] != "function" {
		t.Errorf("expected type 'function', got %v", decoded["type"])
	}

	fn, ok := decoded["function"].(map[string]any)
	if !ok {
		t.Fatalf("expected 'function' object, got %T", decoded["function"])
	}
	if fn["name"] != "query_case_database" {
		t.Errorf("expected name 'query_case_database', got %v", fn["name"])
	}

	params, ok := fn["parameters"].(map[string]any)
	if !ok {
		t.Fatalf("expected 'parameters' object, got %T", fn["parameters"])
	}
	if params["type"] != "object" {
		t.Errorf("expected parameters type 'object', got %v", params["type"])
	}

	props, ok := params["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected 'properties' object, got %T", params["properties"])
	}
	if _, ok := props["sql"]; !ok {
		t.Error("expected 'sql' property in parameters")
	}

	required, ok := params["required"].([]any)
	if !ok || len(required) != 1 || required[0] != "sql" {
		t.Errorf("expected required [sql], got %v", params["required"])
	}
}

func TestToolParamDef_OmitsEmptyEnumAndDefault(t *testing.T) {
	def := ToolParamDef{
		Type:        "string",
		Description: "Free text search query.",
	}

	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if strings.Contains(string(raw), "enum") {
		t.Errorf("expected enum to be omitted, got %s", raw)
	}
	if strings.Contains(string(raw), "default") {
		t.Errorf("expected default to be omitted, got %s", raw)
	}
}

func TestToolParamDef_EnumSurvivesRoundTrip(t *testing.T) {
	def := ToolParamDef{
		Type:        "string",
		Description: "Aggregation granularity.",
		Enum:        []any{"daily", "monthly"},
		Default:     "daily",
	}

	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded ToolParamDef
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if len(decoded.Enum) != 2 {
		t.Fatalf("expected 2 enum values, got %d", len(decoded.Enum))
	}
	if decoded.Enum[0] != "daily" || decoded.Enum[1] != "monthly" {
		t.Errorf("enum values changed in round trip: %v", decoded.Enum)
	}
	if decoded.Default != "daily" {
		t.Errorf("expected default 'daily', got %v", decoded.Default)
	}
}

// ============================================================================
// ToolCallResponse.ArgumentsString
// ============================================================================

func TestToolCallResponse_ArgumentsString(t *testing.T) {
	tests := []struct {
		name string
		args json.RawMessage
		want string
	}{
		{
			name: "nil arguments return empty object",
			args: nil,
			want: "{}",
		},
		{
			name: "empty arguments return empty object",
			args: json.RawMessage{},
			want: "{}",
		},
		{
			name: "object passes through unchanged",
			args: json.RawMessage(`{"sql":"SELECT COUNT(*) FROM casos_srag"}`),
			want: `{"sql":"SELECT COUNT(*) FROM casos_srag"}`,
		},
		{
			name: "quoted JSON string is unquoted",
			args: json.RawMessage(`"{\"query\":\"surto influenza\"}"`),
			want: `{"query":"surto influenza"}`,
		},
		{
			name: "malformed quoted payload returned raw",
			args: json.RawMessage(`"unterminated`),
			want: `"unterminated`,
		},
		{
			name: "array passes through unchanged",
			args: json.RawMessage(`[1,2,3]`),
			want: `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := ToolCallResponse{ID: "tc-1", Name: "query_case_database", Arguments: tt.args}
			if got := tc.ArgumentsString(); got != tt.want {
				t.Errorf("ArgumentsString() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============================================================================
// ChatMessage
// ============================================================================

func TestChatMessage_OmitsEmptyToolFields(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: "Qual a situacao atual de SRAG?"}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	s := string(raw)
	if strings.Contains(s, "tool_calls") {
		t.Errorf("expected tool_calls omitted for plain message, got %s", s)
	}
	if strings.Contains(s, "tool_call_id") {
		t.Errorf("expected tool_call_id omitted for plain message, got %s", s)
	}
}

func TestChatMessage_ToolResultCarriesCallID(t *testing.T) {
	msg := ChatMessage{
		Role:       "tool",
		Content:    `{"rows":[["2025-06-30",142]]}`,
		ToolCallID: "tc-7",
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Role != "tool" {
		t.Errorf("expected role 'tool', got %q", decoded.Role)
	}
	if decoded.ToolCallID != "tc-7" {
		t.Errorf("expected tool_call_id 'tc-7', got %q", decoded.ToolCallID)
	}
	if decoded.Content == "" {
		t.Error("expected content to survive round trip")
	}
}

func TestChatMessage_AssistantToolCallsRoundTrip(t *testing.T) {
	msg := ChatMessage{
		Role: "assistant",
		ToolCalls: []ToolCallResponse{
			{
				ID:        "tc-1",
				Name:      "search_recent_news",
				Arguments: json.RawMessage(`{"query":"SRAG hospitalizacoes"}`),
			},
		},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if len(decoded.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(decoded.ToolCalls))
	}
	if decoded.ToolCalls[0].Name != "search_recent_news" {
		t.Errorf("expected tool name 'search_recent_news', got %q", decoded.ToolCalls[0].Name)
	}
	if decoded.ToolCalls[0].ArgumentsString() != `{"query":"SRAG hospitalizacoes"}` {
		t.Errorf("arguments changed in round trip: %s", decoded.ToolCalls[0].ArgumentsString())
	}
}

// ============================================================================
// Stop reason constants
// ============================================================================

func TestStopReasonConstants(t *testing.T) {
	if StopReasonEnd != "end" {
		t.Errorf("expected StopReasonEnd 'end', got %q", StopReasonEnd)
	}
	if StopReasonToolUse != "tool_use" {
		t.Errorf("expected StopReasonToolUse 'tool_use', got %q", StopReasonToolUse)
	}
}
