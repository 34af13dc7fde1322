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
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
)

const (
	// embedBatchSize is how many passage texts share one embedding request.
	embedBatchSize = 16

	// embedConcurrency bounds concurrent embedding requests per call.
	embedConcurrency = 4
)

// =============================================================================
// Semantic Scorer
// =============================================================================

// SemanticScorer ranks passages by embedding similarity to the query.
//
// Description:
//
//	The query and every passage are embedded with the same model and
//	unit-normalized on receipt, so similarity is a plain dot product.
//	Passage vectors go through the content-addressed cache; only cache
//	misses reach the embedding service, batched and embedded with bounded
//	concurrency. Any service failure surfaces as an error so the caller
//	can degrade to lexical-only ranking instead of failing the call.
//
// Thread Safety: SemanticScorer is safe for concurrent use.
type SemanticScorer struct {
	embedder llm.Embedder
	cache    *EmbeddingCache
}

// NewSemanticScorer creates a SemanticScorer.
//
// Inputs:
//   - embedder: The embedding backend. Must not be nil.
//   - cache: Vector cache. Must not be nil; use a memory-only cache when
//     persistence is not configured.
func NewSemanticScorer(embedder llm.Embedder, cache *EmbeddingCache) (*SemanticScorer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("retrieval: embedding cache must not be nil")
	}
	return &SemanticScorer{embedder: embedder, cache: cache}, nil
}

// Scores computes the raw similarity of every passage to the query.
//
// Description:
//
//	Position i of the result is the similarity of passage i. Scores are
//	dot products of unit vectors, in [-1, 1]; fusion clamps and
//	normalizes them. The same text always yields the same score given a
//	stable embedding service, which the cache assumes anyway.
//
// Outputs:
//   - []float64: One score per passage. Empty input yields an empty
//     slice without touching the embedding service.
//   - error: Non-nil when the embedding service fails; the caller should
//     degrade to lexical-only ranking rather than fail the retrieval.
func (s *SemanticScorer) Scores(ctx context.Context, query string, passages []Passage) ([]float64, error) {
	scores := make([]float64, len(passages))
	if len(passages) == 0 {
		return scores, nil
	}

	queryVec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}

	vectors, err := s.embedPassages(ctx, passages)
	if err != nil {
		return nil, err
	}

	for i, vec := range vectors {
		scores[i] = float64(dotProduct(queryVec, vec))
	}
	return scores, nil
}

// embedOne embeds a single text through the cache.
func (s *SemanticScorer) embedOne(ctx context.Context, text string) ([]float32, error) {
	model := s.embedder.Model()
	if vec, ok := s.cache.Get(ctx, model, text); ok {
		return vec, nil
	}

	raw, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := normalizeUnit(raw[0])
	if vec == nil {
		return nil, fmt.Errorf("embedding service returned a zero vector")
	}

	s.cache.Put(ctx, model, text, vec)
	return vec, nil
}

// embedPassages resolves one unit vector per passage, batching cache misses
// through the embedding service with bounded concurrency.
func (s *SemanticScorer) embedPassages(ctx context.Context, passages []Passage) ([][]float32, error) {
	model := s.embedder.Model()
	vectors := make([][]float32, len(passages))

	missIdx := make([]int, 0, len(passages))
	for i, p := range passages {
		if vec, ok := s.cache.Get(ctx, model, p.Text); ok {
			vectors[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)

	// Semaphore to limit concurrent embedding requests.
	sem := make(chan struct{}, embedConcurrency)

	for start := 0; start < len(missIdx); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = passages[idx].Text
			}

			raw, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("retrieval: embedding passage batch: %w", err)
			}

			// Batches cover disjoint index ranges; no lock is needed to
			// place results.
			for j, idx := range batch {
				vec := normalizeUnit(raw[j])
				if vec == nil {
					return fmt.Errorf("retrieval: embedding service returned a zero vector for passage %d", idx)
				}
				vectors[idx] = vec
				s.cache.Put(gctx, model, passages[idx].Text, vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// =============================================================================
// Vector Helpers
// =============================================================================

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// normalizeUnit returns a unit-length copy of v, or nil for a zero vector.
func normalizeUnit(v []float32) []float32 {
	norm := l2Norm(v)
	if norm == 0 {
		return nil
	}
	unit := make([]float32, len(v))
	for i, x := range v {
		unit[i] = x / float32(norm)
	}
	return unit
}

// dotProduct computes the dot product of two float32 vectors.
// Both vectors must have the same length; mismatched lengths use the shorter.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
