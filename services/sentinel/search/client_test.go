// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/secrets"
)

// fakeBackend serves secrets from a map.
type fakeBackend struct {
	values map[string]string
}

func (f *fakeBackend) GetSecret(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("fetching secret %s: %w", key, secrets.ErrSecretNotFound)
	}
	return v, nil
}

func testSecretStore(key string) *secrets.Store {
	values := map[string]string{}
	if key != "" {
		values[secrets.KeySearchAPI] = key
	}
	return secrets.NewStore(&fakeBackend{values: values})
}

func testSearchCfg() config.SearchToolConfig {
	return config.SearchToolConfig{MaxResults: 5, TimeoutSeconds: 5, RequestsPerMinute: 600}
}

func TestClient_Search(t *testing.T) {
	var gotReq searchRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(searchResponse{
			Results: []searchResult{
				{Title: "Boletim SRAG", URL: "https://example.org/srag", Content: "Casos de SRAG em alta no sudeste."},
				{Title: "Vacinação", URL: "https://example.org/vacina", Content: "Campanha de vacinação ampliada."},
			},
		})
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())

	docs, err := c.Search(context.Background(), "SRAG casos recentes", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth from secret store, got %q", gotAuth)
	}
	if gotReq.Query != "SRAG casos recentes" {
		t.Errorf("unexpected query sent: %q", gotReq.Query)
	}
	if gotReq.MaxResults != 5 {
		t.Errorf("expected max_results 5, got %d", gotReq.MaxResults)
	}
	if gotReq.Days != 0 || gotReq.Topic != "" {
		t.Errorf("expected no recency fields without a constraint, got topic=%q days=%d", gotReq.Topic, gotReq.Days)
	}

	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Title != "Boletim SRAG" || docs[0].URL != "https://example.org/srag" {
		t.Errorf("unexpected first document: %+v", docs[0])
	}
	if docs[1].Content != "Campanha de vacinação ampliada." {
		t.Errorf("unexpected second document content: %q", docs[1].Content)
	}
	for i, d := range docs {
		if d.FetchedAt.IsZero() {
			t.Errorf("document %d missing fetch timestamp", i)
		}
	}
}

func TestClient_SearchRecencyConstraint(t *testing.T) {
	var gotReq searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())
	if _, err := c.Search(context.Background(), "surtos respiratórios", 14); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotReq.Days != 14 {
		t.Errorf("expected days 14, got %d", gotReq.Days)
	}
	if gotReq.Topic != "news" {
		t.Errorf("expected news topic with a recency constraint, got %q", gotReq.Topic)
	}
}

func TestClient_SearchEmptyResultsIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Results: []searchResult{}})
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())
	docs, err := c.Search(context.Background(), "tema sem resultados", 0)
	if err != nil {
		t.Fatalf("empty result set must not be an error, got: %v", err)
	}
	if docs == nil {
		t.Fatal("expected empty slice, not nil")
	}
	if len(docs) != 0 {
		t.Errorf("expected 0 documents, got %d", len(docs))
	}
}

func TestClient_SearchSkipsEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{
			Results: []searchResult{
				{Title: "Sem texto", URL: "https://example.org/a", Content: ""},
				{Title: "Com texto", URL: "https://example.org/b", Content: "Conteúdo útil."},
			},
		})
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())
	docs, err := c.Search(context.Background(), "qualquer tema", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Com texto" {
		t.Errorf("expected only the document with content, got %v", docs)
	}
}

func TestClient_SearchProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail": "invalid key tvly-secret1234567890abcd"}`))
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("bad-key"), testSearchCfg())
	_, err := c.Search(context.Background(), "qualquer tema", 0)
	if err == nil {
		t.Fatal("expected error for provider failure")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got: %v", err)
	}
	if strings.Contains(err.Error(), "tvly-secret1234567890abcd") {
		t.Errorf("provider error must not leak API keys: %v", err)
	}
}

func TestClient_SearchEmptyQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty query")
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())
	if _, err := c.Search(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestClient_SearchMissingKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an API key")
	}))
	defer server.Close()

	c := NewClientWithConfig(server.URL, testSecretStore(""), testSearchCfg())
	_, err := c.Search(context.Background(), "qualquer tema", 0)
	if err == nil {
		t.Fatal("expected error when the API key is missing")
	}
}

func TestClient_SearchRateLimitSpacesCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer server.Close()

	// 600 requests per minute spaces calls 100ms apart after the
	// initial burst token.
	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), testSearchCfg())

	ctx := context.Background()
	if _, err := c.Search(ctx, "primeira chamada", 0); err != nil {
		t.Fatalf("first Search failed: %v", err)
	}
	start := time.Now()
	if _, err := c.Search(ctx, "segunda chamada", 0); err != nil {
		t.Fatalf("second Search failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected rate limiter to space the second call, elapsed %v", elapsed)
	}
}

func TestClient_SearchRateLimitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer server.Close()

	// One request per minute: the second call would wait 60s, so a short
	// deadline must abort the wait instead.
	cfg := config.SearchToolConfig{MaxResults: 5, TimeoutSeconds: 5, RequestsPerMinute: 1}
	c := NewClientWithConfig(server.URL, testSecretStore("test-key"), cfg)

	if _, err := c.Search(context.Background(), "primeira chamada", 0); err != nil {
		t.Fatalf("first Search failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "segunda chamada", 0)
	if err == nil {
		t.Fatal("expected context deadline to abort the rate-limit wait")
	}
}
