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
	"time"
)

// =============================================================================
// Ollama Embedding Client
// =============================================================================

// ollamaEmbedReq is the Ollama /api/embed request body. Input accepts a
// batch; the response carries one vector per input in order.
type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder implements Embedder against Ollama's /api/embed endpoint.
//
// Description:
//
//	Local-first embedding backend. One HTTP round trip embeds a whole
//	batch, so callers should batch rather than loop. No credentials are
//	required; the endpoint is assumed to be a trusted local service.
//
// Thread Safety: OllamaEmbedder is safe for concurrent use.
type OllamaEmbedder struct {
	client *http.Client
	url    string
	model  string
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an OllamaEmbedder from environment variables.
//
// Description:
//
//	Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment.
//	Defaults to the local Ollama endpoint and nomic-embed-text-v2-moe.
//
// Outputs:
//   - *OllamaEmbedder: The configured embedder. Construction never fails;
//     an unreachable endpoint surfaces on the first Embed call.
func NewOllamaEmbedder() (*OllamaEmbedder, error) {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	slog.Info("Initializing Ollama embedder",
		slog.String("url", url),
		slog.String("model", model),
	)
	return &OllamaEmbedder{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
		model:  model,
	}, nil
}

// NewOllamaEmbedderWithConfig creates an OllamaEmbedder with explicit
// configuration, for tests and non-env wiring.
func NewOllamaEmbedderWithConfig(url, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
		model:  model,
	}
}

// Model implements Embedder.Model.
func (e *OllamaEmbedder) Model() string { return e.model }

// Embed implements Embedder.Embed with a single batched round trip.
//
// Outputs:
//   - [][]float32: One raw (unnormalized) vector per input, in order.
//   - error: Non-nil on transport failure, non-200 status, or a response
//     whose vector count does not match the input count.
func (e *OllamaEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(ollamaEmbedReq{
		Model: e.model,
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: embed service returned %d: %s", resp.StatusCode, SafeLogString(string(body)))
	}

	var embedResp ollamaEmbedResp
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("ollama: parse embed response: %w", err)
	}
	if len(embedResp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: embed service returned %d vectors for %d inputs",
			len(embedResp.Embeddings), len(inputs))
	}
	for i, v := range embedResp.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("ollama: embed service returned empty vector at index %d", i)
		}
	}

	return embedResp.Embeddings, nil
}

// =============================================================================
// OpenAI Embedding Client
// =============================================================================

const defaultOpenAIEmbedURL = "https://api.openai.com/v1/embeddings"

type openaiEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResp struct {
	Data  []openaiEmbedDatum `json:"data"`
	Error *openaiError       `json:"error,omitempty"`
}

type openaiEmbedDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
//
// Thread Safety: OpenAIEmbedder is safe for concurrent use.
type OpenAIEmbedder struct {
	client *http.Client
	apiKey string
	url    string
	model  string
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAIEmbedder from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY, EMBEDDING_MODEL, and EMBEDDING_SERVICE_URL.
//	Defaults to text-embedding-3-small on the public endpoint.
//
// Outputs:
//   - *OpenAIEmbedder: The configured embedder.
//   - error: Non-nil if OPENAI_API_KEY is missing.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openai: embedder API key is missing (OPENAI_API_KEY)")
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = defaultOpenAIEmbedURL
	}
	slog.Info("Initializing OpenAI embedder", slog.String("model", model))
	return &OpenAIEmbedder{
		client: &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKey,
		url:    url,
		model:  model,
	}, nil
}

// NewOpenAIEmbedderWithConfig creates an OpenAIEmbedder with explicit
// configuration, for tests and non-env wiring.
func NewOpenAIEmbedderWithConfig(apiKey, model, url string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKey,
		url:    url,
		model:  model,
	}
}

// Model implements Embedder.Model.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed implements Embedder.Embed with a single batched round trip.
//
// The response data array is ordered by index per the API contract; vectors
// are re-placed by index anyway so a misordered response cannot scramble
// passage scores.
func (e *OpenAIEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(openaiEmbedReq{
		Model: e.model,
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("openai: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: embed API returned %d: %s", resp.StatusCode, SafeLogString(string(body)))
	}

	var embedResp openaiEmbedResp
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("openai: parse embed response: %w", err)
	}
	if embedResp.Error != nil {
		return nil, fmt.Errorf("openai: embed API error: %s - %s", embedResp.Error.Type, SafeLogString(embedResp.Error.Message))
	}
	if len(embedResp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai: embed API returned %d vectors for %d inputs",
			len(embedResp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, d := range embedResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embed API returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai: embed API returned empty vector at index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: embed API response missing vector for index %d", i)
		}
	}

	return out, nil
}
