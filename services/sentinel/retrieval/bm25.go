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
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// Tokenization
// =============================================================================

// tokenize lowercases text and splits it on anything that is not a letter
// or a digit. Single-rune tokens are dropped; everything else passes, since
// stop words in mixed-language news text are better discounted by IDF than
// by a hand-maintained list.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// termFrequencies counts token occurrences.
func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// =============================================================================
// BM25 Index
// =============================================================================

// bm25Doc holds the BM25 representation of a single passage.
type bm25Doc struct {
	// tf maps each term to its frequency within the passage.
	tf map[string]int

	// len is the total token count of the passage.
	len int
}

// BM25Index is an ephemeral Okapi BM25 index over one retrieval call's
// passages.
//
// Description:
//
//	Documents are the passages of a single call, identified by position;
//	position i in every score slice refers to the passage at index i of
//	the slice the index was built from. IDF uses Lucene-style add-one
//	smoothing, log((N+1)/(df+1)) + 1, so scores stay positive and a term
//	present in every passage still contributes.
//
// Thread Safety: BM25Index is immutable after construction via
// BuildBM25Index. Safe for concurrent use.
type BM25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64

	// k1 controls term-frequency saturation; b controls length
	// normalization. Standard Okapi values are 1.5 and 0.75.
	k1 float64
	b  float64
}

// BuildBM25Index constructs a BM25Index over the given passages.
//
// Inputs:
//   - passages: The corpus. An empty slice yields a valid index that
//     scores every query as empty.
//   - k1: Term-frequency saturation parameter. Values <= 0 fall back to
//     1.5.
//   - b: Length-normalization parameter in [0, 1]. Values outside fall
//     back to 0.75.
//
// Outputs:
//   - *BM25Index: The constructed index. Never nil.
func BuildBM25Index(passages []Passage, k1, b float64) *BM25Index {
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}
	idx := &BM25Index{
		idf: make(map[string]float64),
		k1:  k1,
		b:   b,
	}
	if len(passages) == 0 {
		return idx
	}

	docs := make([]bm25Doc, 0, len(passages))
	totalLen := 0

	// df[term] = number of passages containing term, for IDF.
	df := make(map[string]int)

	for _, p := range passages {
		tokens := tokenize(p.Text)
		doc := bm25Doc{
			tf:  termFrequencies(tokens),
			len: len(tokens),
		}
		docs = append(docs, doc)
		totalLen += doc.len

		for term := range doc.tf {
			df[term]++
		}
	}

	N := len(docs)
	idx.docs = docs
	idx.avgLen = float64(totalLen) / float64(N)

	for term, docFreq := range df {
		idx.idf[term] = math.Log(float64(N+1)/float64(docFreq+1)) + 1.0
	}
	return idx
}

// Scores computes the raw BM25 score of every passage against a query.
//
// Description:
//
//	Position i of the result is the score of passage i in build order.
//	Scores are raw, not normalized; fusion max-normalizes both component
//	rankings in one place so they are treated identically.
//
// Outputs:
//   - []float64: One score per indexed passage, all zero for an empty or
//     fully out-of-vocabulary query.
//
// Thread Safety: Safe for concurrent use. Does not modify the index.
func (idx *BM25Index) Scores(query string) []float64 {
	scores := make([]float64, len(idx.docs))
	if len(idx.docs) == 0 {
		return scores
	}

	queryTF := termFrequencies(tokenize(query))
	if len(queryTF) == 0 {
		return scores
	}

	for i, doc := range idx.docs {
		scores[i] = idx.score(queryTF, doc)
	}
	return scores
}

// score computes the raw BM25 score for a single (query, passage) pair.
func (idx *BM25Index) score(queryTF map[string]int, doc bm25Doc) float64 {
	if doc.len == 0 {
		return 0
	}

	dl := float64(doc.len)
	var score float64

	for term := range queryTF {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, known := idx.idf[term]
		if !known {
			continue
		}

		tfFloat := float64(tf)
		numerator := tfFloat * (idx.k1 + 1)
		lengthNorm := idx.k1 * (1.0 - idx.b + idx.b*dl/idx.avgLen)
		denominator := tfFloat + lengthNorm

		score += termIDF * (numerator / denominator)
	}
	return score
}
