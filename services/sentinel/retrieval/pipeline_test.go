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
	"errors"
	"testing"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/search"
)

// fakeSearcher returns scripted documents.
type fakeSearcher struct {
	docs     []search.Document
	err      error
	gotQuery string
	gotDays  int
}

func (f *fakeSearcher) Search(_ context.Context, query string, recencyDays int) ([]search.Document, error) {
	f.gotQuery = query
	f.gotDays = recencyDays
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func testRetrievalCfg() config.RetrievalConfig {
	return config.RetrievalConfig{
		ChunkSize:    800,
		ChunkOverlap: 100,
		TopK:         2,
		Fusion:       defaultWeights(),
	}
}

func newTestPipeline(t *testing.T, searcher Searcher, embedder *fakeEmbedder) *Pipeline {
	t.Helper()
	scorer, err := NewSemanticScorer(embedder, NewEmbeddingCache(nil, 0))
	if err != nil {
		t.Fatalf("NewSemanticScorer failed: %v", err)
	}
	p, err := NewPipeline(searcher, scorer, testRetrievalCfg())
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p
}

func TestNewPipeline_Validation(t *testing.T) {
	scorer, _ := NewSemanticScorer(&fakeEmbedder{}, NewEmbeddingCache(nil, 0))

	if _, err := NewPipeline(nil, scorer, testRetrievalCfg()); err == nil {
		t.Error("expected error for nil searcher")
	}
	if _, err := NewPipeline(&fakeSearcher{}, nil, testRetrievalCfg()); err == nil {
		t.Error("expected error for nil scorer")
	}

	bad := testRetrievalCfg()
	bad.ChunkSize = 0
	if _, err := NewPipeline(&fakeSearcher{}, scorer, bad); err == nil {
		t.Error("expected error for invalid chunk geometry")
	}
}

func TestPipeline_RanksAndTruncates(t *testing.T) {
	const (
		vacinaText   = "Vacinação contra gripe avança no país."
		sragText     = "Casos de SRAG aumentam entre idosos."
		festivalText = "Festival de música atrai multidão."
	)
	searcher := &fakeSearcher{docs: []search.Document{
		{Title: "Vacinas", URL: "https://example.org/vacinas", Content: vacinaText},
		{Title: "SRAG", URL: "https://example.org/srag", Content: sragText},
		{Title: "Festival", URL: "https://example.org/festival", Content: festivalText},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"casos de SRAG em idosos": {1, 0},
		sragText:                  {1, 0},
		vacinaText:                {0, 1},
		festivalText:              {0, 1},
	}}
	p := newTestPipeline(t, searcher, embedder)

	result, err := p.Retrieve(context.Background(), "casos de SRAG em idosos", 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if result.Degraded {
		t.Error("expected full hybrid ranking, not degraded")
	}
	if len(result.Passages) != 2 {
		t.Fatalf("expected top-2 passages, got %d", len(result.Passages))
	}

	best := result.Passages[0]
	if best.URL != "https://example.org/srag" {
		t.Errorf("expected the SRAG passage first, got %q", best.URL)
	}
	if best.SemanticScore <= 0 || best.LexicalScore <= 0 || best.FusedScore <= 0 {
		t.Errorf("expected positive scores on the winner, got %+v", best)
	}
	if best.FusedScore <= result.Passages[1].FusedScore {
		t.Error("expected descending fused scores")
	}
}

func TestPipeline_ProviderFailureIsError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("rate limited")}
	p := newTestPipeline(t, searcher, &fakeEmbedder{})

	if _, err := p.Retrieve(context.Background(), "qualquer tema", 0); err == nil {
		t.Fatal("expected provider failure to surface as an error")
	}
}

func TestPipeline_NoDocumentsIsEmptySuccess(t *testing.T) {
	p := newTestPipeline(t, &fakeSearcher{}, &fakeEmbedder{})

	result, err := p.Retrieve(context.Background(), "tema sem notícias", 0)
	if err != nil {
		t.Fatalf("zero documents must not be an error, got: %v", err)
	}
	if result.Passages == nil {
		t.Fatal("expected empty slice, not nil")
	}
	if len(result.Passages) != 0 || result.Degraded {
		t.Errorf("expected clean empty result, got %+v", result)
	}
}

func TestPipeline_BlankDocumentsIsEmptySuccess(t *testing.T) {
	searcher := &fakeSearcher{docs: []search.Document{
		{Title: "Vazio", URL: "https://example.org/vazio", Content: "   "},
	}}
	p := newTestPipeline(t, searcher, &fakeEmbedder{})

	result, err := p.Retrieve(context.Background(), "tema", 0)
	if err != nil {
		t.Fatalf("blank-only documents must not be an error, got: %v", err)
	}
	if len(result.Passages) != 0 {
		t.Errorf("expected no passages, got %d", len(result.Passages))
	}
}

func TestPipeline_EmbeddingFailureDegradesToLexical(t *testing.T) {
	searcher := &fakeSearcher{docs: []search.Document{
		{Title: "Vacinas", URL: "https://example.org/vacinas", Content: "Vacinação contra gripe avança."},
		{Title: "SRAG", URL: "https://example.org/srag", Content: "Casos de SRAG aumentam entre idosos."},
	}}
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	p := newTestPipeline(t, searcher, embedder)

	result, err := p.Retrieve(context.Background(), "casos de SRAG", 0)
	if err != nil {
		t.Fatalf("embedding failure must degrade, not fail: %v", err)
	}

	if !result.Degraded {
		t.Error("expected result flagged as degraded")
	}
	if len(result.Passages) == 0 {
		t.Fatal("expected lexical-only passages")
	}
	if result.Passages[0].URL != "https://example.org/srag" {
		t.Errorf("expected BM25 to rank the SRAG passage first, got %q", result.Passages[0].URL)
	}
	for _, rp := range result.Passages {
		if rp.SemanticScore != 0 {
			t.Errorf("degraded result must carry zero semantic scores, got %v", rp.SemanticScore)
		}
	}
}

func TestPipeline_EmptyTopic(t *testing.T) {
	p := newTestPipeline(t, &fakeSearcher{}, &fakeEmbedder{})
	if _, err := p.Retrieve(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestPipeline_ForwardsRecencyConstraint(t *testing.T) {
	searcher := &fakeSearcher{}
	p := newTestPipeline(t, searcher, &fakeEmbedder{})

	if _, err := p.Retrieve(context.Background(), "tema recente", 21); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if searcher.gotQuery != "tema recente" || searcher.gotDays != 21 {
		t.Errorf("expected topic and recency forwarded, got %q / %d", searcher.gotQuery, searcher.gotDays)
	}
}
