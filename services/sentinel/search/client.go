// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search provides the external news search client.
//
// Description:
//
//	Thin client for a Tavily-style JSON search API. The client enforces a
//	requests-per-minute budget before every call, fetches its API key from
//	the sealed secret store at call time, and returns hits in provider
//	order with fetch provenance attached. Ranking is not this package's
//	job; the retrieval pipeline re-ranks the returned documents.
package search

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

	"golang.org/x/time/rate"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/secrets"
)

// DefaultSearchURL is the search endpoint used when SEARCH_SERVICE_URL is
// not set.
const DefaultSearchURL = "https://api.tavily.com/search"

// =============================================================================
// Documents
// =============================================================================

// Document is one search hit with fetch provenance.
type Document struct {
	// Title is the source headline.
	Title string `json:"title"`

	// URL is the source location.
	URL string `json:"url"`

	// Content is the provider's extracted text for the hit.
	Content string `json:"content"`

	// FetchedAt is when this client received the hit (UTC).
	FetchedAt time.Time `json:"fetched_at"`
}

// =============================================================================
// Wire Format
// =============================================================================

// searchRequest is the provider request body.
type searchRequest struct {
	Query string `json:"query"`

	// Topic must be "news" for the days filter to apply on Tavily-style
	// providers; it is set only when a recency constraint is requested.
	Topic      string `json:"topic,omitempty"`
	Days       int    `json:"days,omitempty"`
	MaxResults int    `json:"max_results"`
}

// searchResult is one hit in the provider response.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// searchResponse is the provider response body.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

// =============================================================================
// Client
// =============================================================================

// Client is a rate-limited search provider client.
//
// Thread Safety: Client is safe for concurrent use. Concurrent callers
// share the rate budget and block in Wait until capacity is available.
type Client struct {
	client     *http.Client
	url        string
	store      *secrets.Store
	limiter    *rate.Limiter
	maxResults int
}

// NewClient creates a Client from environment variables.
//
// Description:
//
//	Reads SEARCH_SERVICE_URL from the environment, defaulting to the
//	public Tavily endpoint. The API key is not resolved here; it is
//	fetched from the secret store on each call so rotation does not
//	require a restart.
//
// Inputs:
//   - store: Sealed secret store holding the provider key.
//   - cfg: Result count, timeout, and rate budget.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil if store is nil.
func NewClient(store *secrets.Store, cfg config.SearchToolConfig) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("search: secret store must not be nil")
	}
	url := os.Getenv("SEARCH_SERVICE_URL")
	if url == "" {
		url = DefaultSearchURL
	}
	slog.Info("Initializing search client",
		slog.String("url", url),
		slog.Int("max_results", cfg.MaxResults),
		slog.Int("requests_per_minute", cfg.RequestsPerMinute),
	)
	return newClient(url, store, cfg), nil
}

// NewClientWithConfig creates a Client with an explicit endpoint, for tests
// and non-env wiring.
func NewClientWithConfig(url string, store *secrets.Store, cfg config.SearchToolConfig) *Client {
	return newClient(url, store, cfg)
}

func newClient(url string, store *secrets.Store, cfg config.SearchToolConfig) *Client {
	// Burst 1 keeps calls evenly spaced instead of letting a fresh
	// process drain a minute of budget at once.
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	return &Client{
		client:     &http.Client{Timeout: cfg.Timeout()},
		url:        url,
		store:      store,
		limiter:    limiter,
		maxResults: cfg.MaxResults,
	}
}

// Search fetches candidate documents for a topic.
//
// Description:
//
//	Blocks until the rate budget admits the call, then performs one
//	provider round trip. Results come back in provider order; an empty
//	result set is a successful empty slice, not an error, so callers can
//	distinguish "nothing found" from "provider unreachable".
//
// Inputs:
//   - ctx: Context for cancellation; also bounds the rate-limit wait.
//   - query: The search topic. Must not be empty.
//   - recencyDays: Restrict hits to the last N days when > 0.
//
// Outputs:
//   - []Document: Hits in provider order, each stamped with the fetch
//     time. Never nil on success.
//   - error: Non-nil on transport failure, non-200 status, or a missing
//     API key.
func (c *Client) Search(ctx context.Context, query string, recencyDays int) ([]Document, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query must not be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search: waiting for rate budget: %w", err)
	}

	key, err := c.store.Get(ctx, secrets.KeySearchAPI)
	if err != nil {
		return nil, fmt.Errorf("search: resolving API key: %w", err)
	}

	reqBody := searchRequest{
		Query:      query,
		MaxResults: c.maxResults,
	}
	if recencyDays > 0 {
		reqBody.Topic = "news"
		reqBody.Days = recencyDays
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("search: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	slog.Debug("Executing news search",
		slog.String("query", query),
		slog.Int("recency_days", recencyDays),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: provider returned status %d: %s",
			resp.StatusCode, llm.SafeLogString(string(bodyBytes)))
	}

	var apiResp searchResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("search: parsing response JSON: %w", err)
	}

	fetchedAt := time.Now().UTC()
	docs := make([]Document, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.Content == "" {
			continue
		}
		docs = append(docs, Document{
			Title:     r.Title,
			URL:       r.URL,
			Content:   r.Content,
			FetchedAt: fetchedAt,
		})
	}

	slog.Info("News search completed",
		slog.String("query", query),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}
