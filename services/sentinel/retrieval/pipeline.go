// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/search"
)

var retrievalTracer = otel.Tracer("aleutian.sentinel")

// Searcher is the document source consumed by the pipeline.
type Searcher interface {
	// Search fetches candidate documents for a topic, in provider order.
	Search(ctx context.Context, query string, recencyDays int) ([]search.Document, error)
}

// Result is the outcome of one retrieval call.
type Result struct {
	// Passages holds the fused top-k evidence, best first.
	Passages []RankedPassage `json:"passages"`

	// Degraded reports that the embedding service was unavailable and
	// ranking fell back to lexical-only for this call.
	Degraded bool `json:"degraded,omitempty"`
}

// Pipeline runs one hybrid retrieval: fetch, chunk, rank twice, fuse.
//
// Thread Safety: Pipeline is safe for concurrent use.
type Pipeline struct {
	searcher Searcher
	scorer   *SemanticScorer
	chunker  *Chunker
	cfg      config.RetrievalConfig
}

// NewPipeline creates a Pipeline.
//
// Inputs:
//   - searcher: Document source. Must not be nil.
//   - scorer: Semantic ranking backend. Must not be nil.
//   - cfg: Chunk geometry, fusion weights, and result size.
//
// Outputs:
//   - *Pipeline: The configured pipeline.
//   - error: Non-nil on nil dependencies or invalid chunk geometry.
func NewPipeline(searcher Searcher, scorer *SemanticScorer, cfg config.RetrievalConfig) (*Pipeline, error) {
	if searcher == nil {
		return nil, fmt.Errorf("retrieval: searcher must not be nil")
	}
	if scorer == nil {
		return nil, fmt.Errorf("retrieval: semantic scorer must not be nil")
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		searcher: searcher,
		scorer:   scorer,
		chunker:  chunker,
		cfg:      cfg,
	}, nil
}

// Retrieve fetches and ranks evidence passages for a topic.
//
// Description:
//
//	Provider failure is an error: the controller must see the difference
//	between "the search broke" and "the search found nothing". Zero
//	documents or zero non-blank passages yield a successful empty result
//	so the controller can rephrase the topic instead. Embedding failure
//	degrades the call to lexical-only ranking, flagged on the result.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - topic: The search topic. Must not be empty.
//   - recencyDays: Restrict source documents to the last N days when > 0.
//
// Outputs:
//   - *Result: Top-k fused passages with provenance. Never nil on
//     success.
//   - error: Non-nil on provider failure or internal scoring errors.
func (p *Pipeline) Retrieve(ctx context.Context, topic string, recencyDays int) (*Result, error) {
	if topic == "" {
		return nil, fmt.Errorf("retrieval: topic must not be empty")
	}

	ctx, span := retrievalTracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("recency_days", recencyDays))

	docs, err := p.searcher.Search(ctx, topic, recencyDays)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fetching documents: %w", err)
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		slog.Info("Retrieval found no documents", slog.String("topic", topic))
		return &Result{Passages: []RankedPassage{}}, nil
	}

	passages, err := p.chunker.Split(docs)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))

	if len(passages) == 0 {
		return &Result{Passages: []RankedPassage{}}, nil
	}

	lexical := BuildBM25Index(passages, p.cfg.Fusion.BM25K1, p.cfg.Fusion.BM25B).Scores(topic)

	degraded := false
	semantic, err := p.scorer.Scores(ctx, topic, passages)
	if err != nil {
		slog.Warn("Embedding unavailable, ranking lexical-only",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		semantic = nil
		degraded = true
	}

	ranked, err := FuseRankings(passages, semantic, lexical, p.cfg.Fusion, p.cfg.TopK)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("returned", len(ranked)),
		attribute.Bool("degraded", degraded),
	)
	slog.Info("Retrieval completed",
		slog.String("topic", topic),
		slog.Int("documents", len(docs)),
		slog.Int("passages", len(passages)),
		slog.Int("returned", len(ranked)),
		slog.Bool("degraded", degraded),
	)

	return &Result{Passages: ranked, Degraded: degraded}, nil
}
