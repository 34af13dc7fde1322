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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicClient_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q, want %q", got, anthropicAPIVersion)
		}

		body, _ := io.ReadAll(r.Body)
		var req anthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		// System role must be lifted out of the message list.
		for _, m := range req.Messages {
			if m.Role == "system" {
				t.Error("system message leaked into messages array")
			}
		}
		if len(req.System) != 1 || req.System[0].Text != "You are an epidemiology analyst." {
			t.Errorf("system blocks = %+v, want lifted system prompt", req.System)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant",
			"content":[{"type":"text","text":"Cases rose 12% week over week."}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	messages := []Message{
		{Role: "system", Content: "You are an epidemiology analyst."},
		{Role: "user", Content: "Summarize the trend."},
	}

	result, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Cases rose 12% week over week." {
		t.Errorf("result = %q, want text block content", result)
	}
}

func TestAnthropicClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 400 status")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should carry status code, got: %v", err)
	}
}

func TestAnthropicClient_ChatWithTools_ParsesToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req anthropicToolRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("tools = %d, want 1", len(req.Tools))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_2","type":"message","role":"assistant","stop_reason":"tool_use",
			"content":[
				{"type":"text","text":"Let me check the database."},
				{"type":"tool_use","id":"toolu_1","name":"query_case_database",
				 "input":{"question":"deaths by month"}}
			]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	tools := []ToolDef{
		{
			Type: "function",
			Function: ToolFunction{
				Name:        "query_case_database",
				Description: "Query the surveillance case database.",
				Parameters:  ToolParameters{Type: "object"},
			},
		},
	}

	result, err := client.ChatWithTools(context.Background(),
		[]ChatMessage{{Role: "user", Content: "How many deaths per month?"}},
		GenerationParams{}, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.StopReason != StopReasonToolUse {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopReasonToolUse)
	}
	if result.Content != "Let me check the database." {
		t.Errorf("Content = %q, want preamble text", result.Content)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "query_case_database" || result.ToolCalls[0].ID != "toolu_1" {
		t.Errorf("tool call = %+v, want toolu_1/query_case_database", result.ToolCalls[0])
	}
}

func TestAnthropicClient_ChatWithTools_ToolResultBecomesUserBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		// Raw inspection: the tool result must be sent as a user message
		// containing a tool_result block with the original call ID.
		payload := string(body)
		if !strings.Contains(payload, `"tool_result"`) {
			t.Error("request missing tool_result block")
		}
		if !strings.Contains(payload, `"tool_use_id":"toolu_7"`) {
			t.Error("tool_result does not reference the originating call")
		}
		if !strings.Contains(payload, `"tool_use"`) {
			t.Error("assistant tool_use block was not replayed")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_3","type":"message","role":"assistant","stop_reason":"end_turn",
			"content":[{"type":"text","text":"done"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	messages := []ChatMessage{
		{Role: "user", Content: "question"},
		{
			Role: "assistant",
			ToolCalls: []ToolCallResponse{
				{ID: "toolu_7", Name: "search_recent_news", Arguments: json.RawMessage(`{"topic":"srag"}`)},
			},
		},
		{Role: "tool", ToolCallID: "toolu_7", Content: "no recent coverage"},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopReasonEnd {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopReasonEnd)
	}
}

func TestAnthropicClient_ChatWithTools_EmptyInputDefaultsToObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_4","type":"message","role":"assistant","stop_reason":"tool_use",
			"content":[{"type":"tool_use","id":"toolu_9","name":"search_recent_news"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	result, err := client.ChatWithTools(context.Background(),
		[]ChatMessage{{Role: "user", Content: "latest news"}}, GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(result.ToolCalls))
	}
	if string(result.ToolCalls[0].Arguments) != "{}" {
		t.Errorf("missing input should default to {}, got %s", result.ToolCalls[0].Arguments)
	}
}

func TestAnthropicClient_Chat_LongSystemPromptGetsCacheControl(t *testing.T) {
	longPrompt := strings.Repeat("surveillance reporting guidance. ", 40)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req anthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.System) != 1 || req.System[0].CacheControl == nil {
			t.Error("long system prompt should carry ephemeral cache control")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_5","type":"message","role":"assistant",
			"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-sonnet-20240620", server.URL)

	messages := []Message{
		{Role: "system", Content: longPrompt},
		{Role: "user", Content: "hi"},
	}

	if _, err := client.Chat(context.Background(), messages, GenerationParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
