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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// =============================================================================
// Anthropic Wire Types
// =============================================================================

const (
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicToolMessage is a message with structured content blocks.
// Used for ChatWithTools where content must be an array of content blocks
// (e.g., tool_use, tool_result) rather than a plain string.
type anthropicToolMessage struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

// anthropicToolRequest is the request payload for ChatWithTools.
// It uses interface{} for messages to support both string and structured
// content.
type anthropicToolRequest struct {
	Model     string        `json:"model"`
	Messages  []interface{} `json:"messages"`
	System    []systemBlock `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []interface{} `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

// anthropicToolUseBlock is a tool_use content block in the request
// (assistant message).
type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// anthropicToolResultBlock is a tool_result content block in the request
// (user message).
type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// anthropicTextBlock is a text content block.
type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicToolDef is a tool definition for the Anthropic API.
type anthropicToolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

// anthropicToolResponse is used for parsing responses, including tool_use
// blocks. Content blocks stay raw until individually decoded so one
// unrecognized block cannot fail the whole response.
type anthropicToolResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []json.RawMessage `json:"content"`
	Error      *anthropicError   `json:"error,omitempty"`
	StopReason string            `json:"stop_reason,omitempty"`
}

// anthropicContentBlock is used for parsing individual content blocks.
type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// AnthropicClient implements Client for the Anthropic Messages API using
// raw net/http.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClientWithConfig creates an AnthropicClient with explicit
// configuration.
//
// Description:
//
//	Creates an AnthropicClient without reading environment variables.
//	Useful for testing with mock servers or when configuration comes from
//	a source other than environment variables.
//
// Inputs:
//   - apiKey: The Anthropic API key.
//   - model: The model name (e.g., "claude-sonnet-4-20250514").
//   - baseURL: The base URL for API requests.
//
// Outputs:
//   - *AnthropicClient: The configured client.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewAnthropicClient creates a new AnthropicClient from environment variables.
//
// Description:
//
//	Reads ANTHROPIC_API_KEY and CLAUDE_MODEL. Falls back to the container
//	secret mount at /run/secrets/anthropic_api_key when the environment
//	variable is absent.
//
// Outputs:
//   - *AnthropicClient: The configured client.
//   - error: Non-nil if no API key can be found.
func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from container secrets")
		}
	}

	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("anthropic: API key is missing (ANTHROPIC_API_KEY)")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicBaseURL,
	}, nil
}

// post sends a marshaled payload to the messages endpoint and returns the
// raw response body, with status errors already surfaced.
func (a *AnthropicClient) post(ctx context.Context, payload any) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("anthropic: reading response body (status %d): %w", resp.StatusCode, readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	return bodyBytes, nil
}

// buildSystemBlocks converts a system prompt into the top-level system
// field, with ephemeral caching for long prompts.
func buildSystemBlocks(systemPrompt string) []systemBlock {
	if systemPrompt == "" {
		return nil
	}
	block := systemBlock{
		Type: "text",
		Text: systemPrompt,
	}
	if len(systemPrompt) > 1024 {
		block.CacheControl = &cacheControl{Type: "ephemeral"}
	}
	return []systemBlock{block}
}

// Chat implements Client.Chat using the Anthropic Messages API.
//
// Description:
//
//	Converts generic messages to Anthropic format. The system role is
//	lifted out of the message list into the top-level system field, as the
//	Messages API requires.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	var apiMessages []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	reqPayload := anthropicRequest{
		Model:     model,
		Messages:  apiMessages,
		System:    buildSystemBlocks(systemPrompt),
		MaxTokens: 4096,
	}

	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if params.TopK != nil {
		reqPayload.TopK = params.TopK
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	slog.Debug("Sending REST request to Anthropic", "model", model)

	bodyBytes, err := a.post(ctx, reqPayload)
	if err != nil {
		return "", err
	}

	var apiResp anthropicToolResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("anthropic: received empty content")
	}

	finalText := ""
	for _, raw := range apiResp.Content {
		var block anthropicContentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		if block.Type == "text" {
			finalText += block.Text
		}
	}

	if finalText == "" {
		return "", fmt.Errorf("anthropic: received content but no text block found")
	}

	return finalText, nil
}

// ChatWithTools sends a chat request with tool definitions and returns tool
// calls.
//
// Description:
//
//	Extends Chat to support Anthropic's native function calling API.
//	Converts generic ToolDef and ChatMessage types to Anthropic wire
//	format, including structured content blocks for tool_use and
//	tool_result messages.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history with tool metadata.
//   - params: Generation parameters.
//   - tools: Tool definitions for function calling.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on failure.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {

	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	slog.Debug("ChatWithTools via Anthropic",
		slog.String("model", model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	var apiMessages []interface{}
	var systemPrompt string

	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}

		switch {
		case msg.Role == "tool" && msg.ToolCallID != "":
			// Tool result becomes a user message with a tool_result block.
			apiMessages = append(apiMessages, anthropicToolMessage{
				Role: "user",
				Content: []interface{}{
					anthropicToolResultBlock{
						Type:      "tool_result",
						ToolUseID: msg.ToolCallID,
						Content:   msg.Content,
					},
				},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			// Assistant message replaying its tool requests as blocks.
			var blocks []interface{}
			if msg.Content != "" {
				blocks = append(blocks, anthropicTextBlock{
					Type: "text",
					Text: msg.Content,
				})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			apiMessages = append(apiMessages, anthropicToolMessage{
				Role:    "assistant",
				Content: blocks,
			})

		default:
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	var apiTools []interface{}
	for _, td := range tools {
		apiTools = append(apiTools, anthropicToolDef{
			Name:        td.Function.Name,
			Description: td.Function.Description,
			InputSchema: td.Function.Parameters,
		})
	}

	reqPayload := anthropicToolRequest{
		Model:     model,
		Messages:  apiMessages,
		System:    buildSystemBlocks(systemPrompt),
		MaxTokens: 4096,
		Tools:     apiTools,
	}

	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if params.TopK != nil {
		reqPayload.TopK = params.TopK
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	bodyBytes, err := a.post(ctx, reqPayload)
	if err != nil {
		return nil, err
	}

	var apiResp anthropicToolResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	result := &ChatWithToolsResult{}
	var textParts []string

	for _, raw := range apiResp.Content {
		var block anthropicContentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			slog.Warn("Failed to parse content block", "error", err)
			continue
		}

		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: input,
			})
		}
	}

	result.Content = strings.Join(textParts, "")

	if len(result.ToolCalls) > 0 {
		result.StopReason = StopReasonToolUse
	} else {
		result.StopReason = StopReasonEnd
	}

	return result, nil
}
