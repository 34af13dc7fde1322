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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Ollama embedder
// ============================================================================

func TestOllamaEmbedder_BatchSuccess(t *testing.T) {
	var gotReq ollamaEmbedReq
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := ollamaEmbedResp{
			Embeddings: [][]float32{
				{0.1, 0.2, 0.3},
				{0.4, 0.5, 0.6},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedderWithConfig(server.URL, "nomic-embed-text-v2-moe")

	vectors, err := embedder.Embed(context.Background(), []string{
		"casos de SRAG em crescimento",
		"taxa de ocupacao de UTI",
	})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if gotReq.Model != "nomic-embed-text-v2-moe" {
		t.Errorf("expected model in request, got %q", gotReq.Model)
	}
	if len(gotReq.Input) != 2 {
		t.Errorf("expected batch of 2 inputs in one request, got %d", len(gotReq.Input))
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][2] != 0.6 {
		t.Errorf("vectors out of order or corrupted: %v", vectors)
	}
}

func TestOllamaEmbedder_EmptyInputShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected for empty input")
	}))
	defer server.Close()

	embedder := NewOllamaEmbedderWithConfig(server.URL, "nomic-embed-text-v2-moe")

	vectors, err := embedder.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected nil error for empty input, got %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors for empty input, got %v", vectors)
	}
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaEmbedResp{Embeddings: [][]float32{{0.1, 0.2}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedderWithConfig(server.URL, "nomic-embed-text-v2-moe")

	_, err := embedder.Embed(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error on vector count mismatch")
	}
	if !strings.Contains(err.Error(), "1 vectors for 3 inputs") {
		t.Errorf("expected count mismatch detail, got: %v", err)
	}
}

func TestOllamaEmbedder_EmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaEmbedResp{Embeddings: [][]float32{{0.1}, {}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedderWithConfig(server.URL, "nomic-embed-text-v2-moe")

	_, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error on empty vector in response")
	}
	if !strings.Contains(err.Error(), "empty vector at index 1") {
		t.Errorf("expected empty vector detail, got: %v", err)
	}
}

func TestOllamaEmbedder_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	embedder := NewOllamaEmbedderWithConfig(server.URL, "nomic-embed-text-v2-moe")

	_, err := embedder.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status code in error, got: %v", err)
	}
}

func TestOllamaEmbedder_Model(t *testing.T) {
	embedder := NewOllamaEmbedderWithConfig("http://localhost:11434/api/embed", "nomic-embed-text-v2-moe")
	if embedder.Model() != "nomic-embed-text-v2-moe" {
		t.Errorf("expected configured model, got %q", embedder.Model())
	}
}

// ============================================================================
// OpenAI embedder
// ============================================================================

func TestOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAIEmbedder()
	if err == nil {
		t.Fatal("expected error when OPENAI_API_KEY is missing")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("expected env var name in error, got: %v", err)
	}
}

func TestOpenAIEmbedder_ReplacesVectorsByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("expected Bearer auth header, got %q", auth)
		}
		// Deliberately misordered data array. Index fields are authoritative.
		resp := openaiEmbedResp{
			Data: []openaiEmbedDatum{
				{Index: 1, Embedding: []float32{0.4, 0.5}},
				{Index: 0, Embedding: []float32{0.1, 0.2}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedderWithConfig("sk-test-key", "text-embedding-3-small", server.URL)

	vectors, err := embedder.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 0.1 {
		t.Errorf("expected index 0 vector first, got %v", vectors[0])
	}
	if vectors[1][0] != 0.4 {
		t.Errorf("expected index 1 vector second, got %v", vectors[1])
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedderWithConfig("sk-bad-key", "text-embedding-3-small", server.URL)

	_, err := embedder.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status code in error, got: %v", err)
	}
}

func TestOpenAIEmbedder_OutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openaiEmbedResp{
			Data: []openaiEmbedDatum{
				{Index: 5, Embedding: []float32{0.1}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedderWithConfig("sk-test-key", "text-embedding-3-small", server.URL)

	_, err := embedder.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error on out-of-range index")
	}
	if !strings.Contains(err.Error(), "out-of-range index") {
		t.Errorf("expected index detail, got: %v", err)
	}
}
