// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/retrieval"
)

// SearchToolName is the tool name advertised to the model for news
// retrieval.
const SearchToolName = "search_news"

// Retriever runs one hybrid retrieval for a topic. *retrieval.Pipeline
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, topic string, recencyDays int) (*retrieval.Result, error)
}

// =============================================================================
// Search Tool
// =============================================================================

// SearchTool surfaces recent news context through the retrieval pipeline.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type SearchTool struct {
	retriever Retriever
}

// NewSearchTool builds the news search tool.
func NewSearchTool(retriever Retriever) (*SearchTool, error) {
	if retriever == nil {
		return nil, errors.New("search tool: retriever is nil")
	}
	return &SearchTool{retriever: retriever}, nil
}

// Definition returns the schema advertised to the model.
func (t *SearchTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: SearchToolName,
			Description: "Search recent news for epidemiological context the case " +
				"database cannot hold: outbreaks, public-health measures, vaccination " +
				"campaigns, hospital capacity. Returns the most relevant passages.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"topic": {
						Type:        "string",
						Description: "The topic to search for, e.g. \"surto de SRAG em São Paulo\".",
					},
					"recency_days": {
						Type: "integer",
						Description: "Only consider documents published within this " +
							"many days. Omit for no recency restriction.",
					},
				},
				Required: []string{"topic"},
			},
		},
	}
}

// Execute runs one retrieval and renders the ranked passages.
//
// An empty result set is a successful observation, not an error: the
// planner should learn that nothing recent exists and move on instead
// of retrying the identical search.
func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	topic := strings.TrimSpace(argString(args, "topic"))
	if topic == "" {
		return "", classifyf(ClassValidation, "topic is empty")
	}
	days := argInt(args, "recency_days", 0)
	if days < 0 {
		return "", classifyf(ClassValidation, "recency_days must not be negative, got %d", days)
	}

	result, err := t.retriever.Retrieve(ctx, topic, days)
	if err != nil {
		return "", Classify(ClassProvider, fmt.Errorf("searching news: %w", err))
	}
	return renderSearchPayload(topic, days, result), nil
}

// renderSearchPayload renders ranked passages as the observation payload.
func renderSearchPayload(topic string, days int, result *retrieval.Result) string {
	var b strings.Builder

	if len(result.Passages) == 0 {
		fmt.Fprintf(&b, "No recent documents found for %q", topic)
		if days > 0 {
			fmt.Fprintf(&b, " within the last %d days", days)
		}
		b.WriteString(".\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Top %d passages for %q", len(result.Passages), topic)
	if days > 0 {
		fmt.Fprintf(&b, " (last %d days)", days)
	}
	b.WriteString(":\n\n")

	for i, p := range result.Passages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Title)
		fmt.Fprintf(&b, "   Source: %s (fetched %s)\n", p.URL, p.FetchedAt.UTC().Format("2006-01-02"))
		fmt.Fprintf(&b, "   %s\n\n", strings.TrimSpace(p.Text))
	}

	if result.Degraded {
		b.WriteString("(semantic ranking was unavailable; passages are ordered by keyword relevance only)\n")
	}
	return b.String()
}
