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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

// =============================================================================
// Context Assembly
// =============================================================================

// MetadataSource supplies cached store metadata for session grounding.
// *store.Store satisfies it.
type MetadataSource interface {
	// MostRecentDate returns the latest symptom-onset date present in
	// the case store, formatted as YYYY-MM-DD.
	MostRecentDate(ctx context.Context) (string, error)
}

// AssembleSession builds the initial session state for a question.
//
// Description:
//
//	Deterministic given its inputs apart from the generated session ID
//	and start timestamp: the same question, metadata, and schema always
//	produce the same facts and seed messages. The most-recent-data-date
//	read is served from the store's cached metadata, so assembly does
//	not scan the dataset.
//
// Inputs:
//   - ctx: context for the metadata read.
//   - question: the user's question. Must be non-blank.
//   - meta: source of the most-recent-data-date anchor.
//   - schema: declared store schema, rendered into the prompts.
//   - locale: report language tag. Blank selects the configured default.
//
// Outputs:
//   - *Session: a session in StatePlanning with the system and user
//     messages seeded, ready for Controller.Run.
//   - error: validation failure or a metadata read failure.
func AssembleSession(ctx context.Context, question string, meta MetadataSource, schema *config.StoreSchema, locale string) (*Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, classifyf(ClassValidation, "assemble session: question is empty")
	}
	if meta == nil {
		return nil, classifyf(ClassValidation, "assemble session: metadata source is nil")
	}
	if schema == nil {
		return nil, classifyf(ClassValidation, "assemble session: store schema is nil")
	}
	if locale == "" {
		locale = config.DefaultReportLanguage
	}

	mostRecent, err := meta.MostRecentDate(ctx)
	if err != nil {
		return nil, Classify(ClassProvider, fmt.Errorf("assemble session: reading most recent data date: %w", err))
	}

	facts := ContextFacts{
		SessionID:          uuid.NewString(),
		Locale:             locale,
		MostRecentDataDate: mostRecent,
		SchemaSummary:      schema.PromptText(),
	}

	s := &Session{
		ID:        facts.SessionID,
		Question:  question,
		Facts:     facts,
		StartedAt: time.Now().UTC(),
		State:     StatePlanning,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt(facts)},
			{Role: "user", Content: question},
		},
	}
	return s, nil
}
