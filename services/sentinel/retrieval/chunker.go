// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements hybrid ranking over freshly fetched documents.
//
// Description:
//
//	Documents from the news search are split into passages, scored twice
//	(embedding similarity and Okapi BM25), and the two rankings are fused
//	into one deterministic ordering. All indices built here are
//	request-scoped: created, scored, and discarded per call. Nothing
//	about a previous retrieval influences the next one except the
//	content-addressed embedding cache.
package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/search"
)

// =============================================================================
// Passages
// =============================================================================

// Passage is one quotable unit of retrieved evidence with provenance.
type Passage struct {
	// Title is the source document headline.
	Title string `json:"title"`

	// URL is the source document location.
	URL string `json:"url"`

	// FetchedAt is when the source document was fetched (UTC).
	FetchedAt time.Time `json:"fetched_at"`

	// Text is the passage content.
	Text string `json:"text"`
}

// RankedPassage is a passage with its component and fused scores.
//
// Description:
//
//	Component scores are max-normalized to [0, 1] within one retrieval
//	call; they are comparable inside a call, not across calls. The fused
//	score is the weighted sum of the two.
type RankedPassage struct {
	Passage

	// SemanticScore is the normalized embedding similarity. Zero when the
	// call degraded to lexical-only ranking.
	SemanticScore float64 `json:"semantic_score"`

	// LexicalScore is the normalized BM25 relevance.
	LexicalScore float64 `json:"lexical_score"`

	// FusedScore orders the final result.
	FusedScore float64 `json:"fused_score"`
}

// =============================================================================
// Chunker
// =============================================================================

// Chunker splits fetched documents into passages sized for ranking.
//
// Description:
//
//	Search results arrive as whole extracted articles of wildly different
//	lengths. BM25 and embedding similarity both behave badly when unit
//	sizes vary that much, so documents are split with a recursive
//	character splitter into overlapping windows. Each passage keeps its
//	source provenance; passage order follows document fetch order, then
//	position within the document. That order is the tie-break identity
//	used by fusion.
//
// Thread Safety: Chunker is immutable after construction and safe for
// concurrent use.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker creates a Chunker with the given window geometry.
//
// Inputs:
//   - chunkSize: Character window per passage. Must be positive.
//   - chunkOverlap: Characters shared by neighboring passages. Must be
//     smaller than chunkSize.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("retrieval: chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("retrieval: chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}, nil
}

// Split turns fetched documents into provenance-tagged passages.
//
// Description:
//
//	Documents with blank content contribute nothing. A document shorter
//	than the chunk window becomes a single passage. Split never fails on
//	content; the error return covers splitter-internal failures only.
//
// Outputs:
//   - []Passage: Passages in fetch order, then document position. Never
//     nil on success.
//   - error: Non-nil if the splitter rejects a document.
func (c *Chunker) Split(docs []search.Document) ([]Passage, error) {
	passages := []Passage{}
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}

		chunks, err := c.splitter.SplitText(content)
		if err != nil {
			return nil, fmt.Errorf("retrieval: splitting document %q: %w", doc.URL, err)
		}

		for _, chunk := range chunks {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}
			passages = append(passages, Passage{
				Title:     doc.Title,
				URL:       doc.URL,
				FetchedAt: doc.FetchedAt,
				Text:      chunk,
			})
		}
	}
	return passages, nil
}
