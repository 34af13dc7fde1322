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
	"fmt"
	"sort"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

// =============================================================================
// Score Fusion
// =============================================================================

// FuseRankings combines the component rankings into one ordering and
// returns the top-k passages.
//
// Description:
//
//	Semantic scores are clamped at zero (a passage pointing away from the
//	query carries no usable signal), then both components are
//	max-normalized to [0, 1] and combined as a weighted sum. The fused
//	score is monotonic in both components. Ordering is deterministic:
//	equal fused scores keep fetch order, so identical inputs always
//	produce identical output.
//
//	A nil semantic slice selects lexical-only ranking: the fused score is
//	the normalized lexical score with full weight, and every
//	SemanticScore is zero. This is the degraded mode used when the
//	embedding service is unavailable.
//
// Inputs:
//   - passages: The scored corpus, in fetch order.
//   - semantic: Raw similarity per passage, or nil for lexical-only.
//   - lexical: Raw BM25 score per passage. Must match passages in length.
//   - weights: Fusion weights; they must sum to 1 (validated at config
//     load).
//   - topK: Result size cap. Must be positive.
//
// Outputs:
//   - []RankedPassage: At most topK passages, fused score descending.
//   - error: Non-nil on length mismatches or a non-positive topK.
func FuseRankings(passages []Passage, semantic, lexical []float64, weights config.FusionConfig, topK int) ([]RankedPassage, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("retrieval: topK must be positive, got %d", topK)
	}
	if len(lexical) != len(passages) {
		return nil, fmt.Errorf("retrieval: %d lexical scores for %d passages", len(lexical), len(passages))
	}
	if semantic != nil && len(semantic) != len(passages) {
		return nil, fmt.Errorf("retrieval: %d semantic scores for %d passages", len(semantic), len(passages))
	}
	if len(passages) == 0 {
		return []RankedPassage{}, nil
	}

	lexNorm := maxNormalize(lexical)

	var semNorm []float64
	fused := make([]float64, len(passages))
	if semantic == nil {
		copy(fused, lexNorm)
	} else {
		semNorm = maxNormalize(clampNonNegative(semantic))
		for i := range fused {
			fused[i] = weights.SemanticWeight*semNorm[i] + weights.LexicalWeight*lexNorm[i]
		}
	}

	// Sort indices, not passages: SliceStable keeps fetch order for equal
	// fused scores.
	order := make([]int, len(passages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fused[order[a]] > fused[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}

	ranked := make([]RankedPassage, 0, topK)
	for _, idx := range order[:topK] {
		rp := RankedPassage{
			Passage:      passages[idx],
			LexicalScore: lexNorm[idx],
			FusedScore:   fused[idx],
		}
		if semNorm != nil {
			rp.SemanticScore = semNorm[idx]
		}
		ranked = append(ranked, rp)
	}
	return ranked, nil
}

// maxNormalize scales scores so the maximum becomes 1. All-zero input
// stays all-zero.
func maxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return out
	}
	for i, s := range scores {
		out[i] = s / max
	}
	return out
}

// clampNonNegative zeroes negative scores.
func clampNonNegative(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		if s > 0 {
			out[i] = s
		}
	}
	return out
}
