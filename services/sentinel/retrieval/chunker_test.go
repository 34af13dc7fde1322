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
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/search"
)

func TestNewChunker_RejectsBadGeometry(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -100, 0},
		{"negative overlap", 800, -1},
		{"overlap equals size", 800, 800},
		{"overlap exceeds size", 800, 900},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewChunker(tc.size, tc.overlap); err == nil {
				t.Errorf("expected error for size=%d overlap=%d", tc.size, tc.overlap)
			}
		})
	}
}

func TestChunker_ShortDocumentIsOnePassage(t *testing.T) {
	c, err := NewChunker(800, 100)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	fetched := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	docs := []search.Document{{
		Title:     "Boletim semanal",
		URL:       "https://example.org/boletim",
		Content:   "Casos de SRAG seguem estáveis na maior parte do país.",
		FetchedAt: fetched,
	}}

	passages, err := c.Split(docs)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(passages))
	}

	p := passages[0]
	if p.Text != docs[0].Content {
		t.Errorf("unexpected passage text: %q", p.Text)
	}
	if p.Title != "Boletim semanal" || p.URL != "https://example.org/boletim" {
		t.Errorf("provenance not carried: %+v", p)
	}
	if !p.FetchedAt.Equal(fetched) {
		t.Errorf("fetch timestamp not carried: %v", p.FetchedAt)
	}
}

func TestChunker_LongDocumentSplitsWithinWindow(t *testing.T) {
	c, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// ~600 characters of space-separated words.
	content := strings.TrimSpace(strings.Repeat("hospitalizacao respiratoria aguda monitorada ", 13))
	docs := []search.Document{{Title: "Longo", URL: "https://example.org/longo", Content: content}}

	passages, err := c.Split(docs)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(passages) < 2 {
		t.Fatalf("expected the document split into multiple passages, got %d", len(passages))
	}
	for i, p := range passages {
		if len(p.Text) > 100 {
			t.Errorf("passage %d exceeds chunk window: %d chars", i, len(p.Text))
		}
		if p.URL != "https://example.org/longo" {
			t.Errorf("passage %d lost provenance", i)
		}
	}
}

func TestChunker_SkipsBlankDocuments(t *testing.T) {
	c, err := NewChunker(800, 100)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	docs := []search.Document{
		{Title: "Vazio", URL: "https://example.org/a", Content: "   \n\t  "},
		{Title: "Com conteúdo", URL: "https://example.org/b", Content: "Texto com conteúdo real."},
	}

	passages, err := c.Split(docs)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(passages) != 1 || passages[0].Title != "Com conteúdo" {
		t.Errorf("expected only the non-blank document, got %v", passages)
	}
}

func TestChunker_PreservesFetchOrder(t *testing.T) {
	c, err := NewChunker(800, 100)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	docs := []search.Document{
		{Title: "Primeiro", URL: "https://example.org/1", Content: "Primeiro documento."},
		{Title: "Segundo", URL: "https://example.org/2", Content: "Segundo documento."},
		{Title: "Terceiro", URL: "https://example.org/3", Content: "Terceiro documento."},
	}

	passages, err := c.Split(docs)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(passages) != 3 {
		t.Fatalf("expected 3 passages, got %d", len(passages))
	}
	for i, want := range []string{"Primeiro", "Segundo", "Terceiro"} {
		if passages[i].Title != want {
			t.Errorf("position %d: expected %s, got %s", i, want, passages[i].Title)
		}
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	c, err := NewChunker(800, 100)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	passages, err := c.Split(nil)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if passages == nil {
		t.Fatal("expected empty slice, not nil")
	}
	if len(passages) != 0 {
		t.Errorf("expected no passages, got %d", len(passages))
	}
}
