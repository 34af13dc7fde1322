// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides provider-agnostic clients for the two opaque model
// capabilities Sentinel consumes: chat completion with tool calling (the
// reasoning model) and text embedding (the embedding service).
//
// Both capabilities are treated as unreliable externals: every client returns
// explicit errors, caps its wait with a request timeout, and redacts secrets
// from anything it logs. Providers are selected by configuration; callers
// program against the Client and Embedder interfaces only.
package llm

import "context"

// Provider identifiers accepted by NewClient and NewEmbedder.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Stop reasons reported in ChatWithToolsResult.StopReason.
const (
	StopReasonEnd     = "end"
	StopReasonToolUse = "tool_use"
)

// Message is a plain conversation message without tool metadata.
//
// Used for single-purpose completions (SQL generation, report synthesis)
// where the model is not offered any tools. Tool-bearing conversations use
// ChatMessage instead.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// GenerationParams carries optional sampling parameters for a completion.
//
// All fields are optional; nil pointers mean "provider default". The zero
// value is a valid, fully-default parameter set.
//
// Thread Safety: GenerationParams is a value type; copies are independent.
type GenerationParams struct {
	// Temperature controls sampling randomness (0 = deterministic-ish).
	Temperature *float32

	// TopP is the nucleus sampling cutoff.
	TopP *float32

	// TopK limits sampling to the K most likely tokens (Anthropic only).
	TopK *int

	// MaxTokens caps the completion length.
	MaxTokens *int

	// Stop lists stop sequences that end generation.
	Stop []string

	// ModelOverride selects a different model than the client default
	// for this one call. Empty means the client default.
	ModelOverride string
}

// Client is the reasoning-model contract.
//
// Description:
//
//	Chat sends a plain conversation and returns the assistant text.
//	ChatWithTools additionally offers tool definitions and returns either
//	text, tool calls, or both. Implementations must honor ctx cancellation
//	and must never panic on malformed provider responses; malformed output
//	is an error the caller retries or degrades on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// Chat sends messages and returns the assistant's text response.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatWithTools sends messages plus tool definitions and returns the
	// parsed result, including any tool calls the model requested.
	ChatWithTools(ctx context.Context, messages []ChatMessage,
		params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}

// Embedder is the embedding-service contract.
//
// Description:
//
//	Embed maps each input text to a fixed-length vector. The service is
//	assumed stable: the same text yields the same vector, which is what
//	makes content-addressed caching sound. Returned vectors are raw
//	(not normalized); normalization is the caller's concern.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Model returns the embedding model identifier, used for cache keying.
	Model() string
}

// NewClient constructs a reasoning-model client for the named provider,
// reading provider credentials and model selection from the environment.
//
// Outputs:
//   - Client: The configured client.
//   - error: Non-nil for unknown providers or missing credentials.
func NewClient(provider string) (Client, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient()
	case ProviderAnthropic:
		return NewAnthropicClient()
	default:
		return nil, &UnknownProviderError{Provider: provider}
	}
}

// NewEmbedder constructs an embedding client for the named provider,
// reading provider credentials and model selection from the environment.
//
// Outputs:
//   - Embedder: The configured embedder.
//   - error: Non-nil for unknown providers or missing credentials.
func NewEmbedder(provider string) (Embedder, error) {
	switch provider {
	case ProviderOllama, "":
		return NewOllamaEmbedder()
	case ProviderOpenAI:
		return NewOpenAIEmbedder()
	default:
		return nil, &UnknownProviderError{Provider: provider}
	}
}

// UnknownProviderError reports a provider name with no registered client.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return "llm: unknown provider " + e.Provider
}
