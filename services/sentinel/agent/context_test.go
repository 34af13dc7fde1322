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
	"strings"
	"testing"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

type fakeMeta struct {
	date  string
	err   error
	calls int
}

func (f *fakeMeta) MostRecentDate(ctx context.Context) (string, error) {
	f.calls++
	return f.date, f.err
}

func testStoreSchema(t *testing.T) *config.StoreSchema {
	t.Helper()
	config.ResetStoreSchema()
	t.Cleanup(config.ResetStoreSchema)

	schema, err := config.GetStoreSchema(context.Background())
	if err != nil {
		t.Fatalf("loading embedded schema: %v", err)
	}
	return schema
}

func TestAssembleSessionSeedsPlanningState(t *testing.T) {
	schema := testStoreSchema(t)
	meta := &fakeMeta{date: "2025-06-18"}

	s, err := AssembleSession(context.Background(), "Como está a taxa de UTI?", meta, schema, "pt-BR")
	if err != nil {
		t.Fatalf("AssembleSession() error = %v", err)
	}

	if s.State != StatePlanning {
		t.Errorf("state = %s, want %s", s.State, StatePlanning)
	}
	if s.ID == "" || s.ID != s.Facts.SessionID {
		t.Errorf("session id %q does not match facts id %q", s.ID, s.Facts.SessionID)
	}
	if s.Facts.MostRecentDataDate != "2025-06-18" {
		t.Errorf("most recent data date = %q, want 2025-06-18", s.Facts.MostRecentDataDate)
	}
	if meta.calls != 1 {
		t.Errorf("metadata read %d times, want 1", meta.calls)
	}
	if s.Iteration != 0 {
		t.Errorf("iteration = %d, want 0", s.Iteration)
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}

	if len(s.Messages) != 2 {
		t.Fatalf("seeded %d messages, want 2", len(s.Messages))
	}
	if s.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", s.Messages[0].Role)
	}
	if !strings.Contains(s.Messages[0].Content, "2025-06-18") {
		t.Error("system prompt does not carry the data anchor date")
	}
	if s.Messages[1].Role != "user" || s.Messages[1].Content != "Como está a taxa de UTI?" {
		t.Errorf("second message = %+v, want the user question", s.Messages[1])
	}
}

func TestAssembleSessionDefaultsLocale(t *testing.T) {
	schema := testStoreSchema(t)

	s, err := AssembleSession(context.Background(), "pergunta", &fakeMeta{date: "2025-01-01"}, schema, "")
	if err != nil {
		t.Fatalf("AssembleSession() error = %v", err)
	}
	if s.Facts.Locale != config.DefaultReportLanguage {
		t.Errorf("locale = %q, want %q", s.Facts.Locale, config.DefaultReportLanguage)
	}
}

func TestAssembleSessionCapturesSchemaSummary(t *testing.T) {
	schema := testStoreSchema(t)

	s, err := AssembleSession(context.Background(), "pergunta", &fakeMeta{date: "2025-01-01"}, schema, "pt-BR")
	if err != nil {
		t.Fatalf("AssembleSession() error = %v", err)
	}
	if s.Facts.SchemaSummary != schema.PromptText() {
		t.Error("schema summary does not match the declared schema rendering")
	}
	if !strings.Contains(s.Facts.SchemaSummary, "casos_srag") {
		t.Error("schema summary does not mention the case table")
	}
}

func TestAssembleSessionGeneratesUniqueIDs(t *testing.T) {
	schema := testStoreSchema(t)
	meta := &fakeMeta{date: "2025-01-01"}

	a, err := AssembleSession(context.Background(), "pergunta", meta, schema, "pt-BR")
	if err != nil {
		t.Fatalf("AssembleSession() error = %v", err)
	}
	b, err := AssembleSession(context.Background(), "pergunta", meta, schema, "pt-BR")
	if err != nil {
		t.Fatalf("AssembleSession() error = %v", err)
	}
	if a.ID == b.ID {
		t.Errorf("two sessions share id %q", a.ID)
	}
}

func TestAssembleSessionValidation(t *testing.T) {
	schema := testStoreSchema(t)
	meta := &fakeMeta{date: "2025-01-01"}

	tests := []struct {
		name     string
		question string
		meta     MetadataSource
		schema   *config.StoreSchema
	}{
		{"blank question", "   ", meta, schema},
		{"nil metadata source", "pergunta", nil, schema},
		{"nil schema", "pergunta", meta, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssembleSession(context.Background(), tt.question, tt.meta, tt.schema, "pt-BR")
			if err == nil {
				t.Fatal("AssembleSession() succeeded, want error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want a validation error", err)
			}
		})
	}
}

func TestAssembleSessionMetadataFailure(t *testing.T) {
	schema := testStoreSchema(t)
	meta := &fakeMeta{err: errors.New("store offline")}

	_, err := AssembleSession(context.Background(), "pergunta", meta, schema, "pt-BR")
	if err == nil {
		t.Fatal("AssembleSession() succeeded, want error")
	}
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want a provider error", err)
	}
}
