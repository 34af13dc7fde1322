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
	"log/slog"
	"strings"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/store"
)

// QueryToolName is the tool name advertised to the model for the
// structured case store.
const QueryToolName = "query_cases"

// CaseStore is the slice of the structured store the query tool needs.
// *store.Store satisfies it.
type CaseStore interface {
	// MostRecentDate returns the latest symptom-onset date (YYYY-MM-DD).
	MostRecentDate(ctx context.Context) (string, error)

	// ExecuteSelect runs a guarded SELECT and returns the capped result.
	ExecuteSelect(ctx context.Context, sqlText string) (*store.QueryResult, error)
}

// SQLValidator checks one generated statement and returns the sanitized
// form to execute. *store.Guard satisfies it.
type SQLValidator interface {
	Validate(ctx context.Context, sqlText string) (string, error)
}

// =============================================================================
// Query Tool
// =============================================================================

// QueryTool answers analytic questions by generating a guarded SELECT
// against the case store.
//
// Description:
//
//	Text-to-SQL with a bounded correction loop: the model turns the
//	question into a single SELECT, the guard validates it against the
//	declared schema, and a rejection is fed back (rule and reason, not
//	the raw statement echoed blind) for a limited number of
//	regeneration attempts. A statement that never passes the guard
//	fails the call as a schema violation; the store is never touched
//	with unvalidated SQL.
//
// Thread Safety: immutable after construction; safe for concurrent use.
// The most-recent-date anchor is read per call from the store's cached
// metadata rather than held in the tool.
type QueryTool struct {
	client llm.Client
	cases  CaseStore
	guard  SQLValidator
	schema *config.StoreSchema
	cfg    config.QueryToolConfig
}

// NewQueryTool builds the case-store query tool.
func NewQueryTool(client llm.Client, cases CaseStore, guard SQLValidator, schema *config.StoreSchema, cfg config.QueryToolConfig) (*QueryTool, error) {
	if client == nil {
		return nil, errors.New("query tool: llm client is nil")
	}
	if cases == nil {
		return nil, errors.New("query tool: case store is nil")
	}
	if guard == nil {
		return nil, errors.New("query tool: sql validator is nil")
	}
	if schema == nil {
		return nil, errors.New("query tool: store schema is nil")
	}
	return &QueryTool{client: client, cases: cases, guard: guard, schema: schema, cfg: cfg}, nil
}

// Definition returns the schema advertised to the model.
func (t *QueryTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: QueryToolName,
			Description: "Query the SRAG case database for exact counts, rates, and " +
				"breakdowns. Ask one focused analytic question in natural language; " +
				"the result is a table computed from reported cases.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"question": {
						Type: "string",
						Description: "The analytic question to answer from the case " +
							"database, e.g. \"How many cases were reported in the last 30 days?\"",
					},
				},
				Required: []string{"question"},
			},
		},
	}
}

// Execute generates, validates, and runs the SELECT for one question.
func (t *QueryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	question := strings.TrimSpace(argString(args, "question"))
	if question == "" {
		return "", classifyf(ClassValidation, "question is empty")
	}

	mostRecent, err := t.cases.MostRecentDate(ctx)
	if err != nil {
		return "", Classify(ClassProvider, fmt.Errorf("reading most recent data date: %w", err))
	}
	facts := ContextFacts{
		MostRecentDataDate: mostRecent,
		SchemaSummary:      t.schema.PromptText(),
	}

	sanitized, err := t.generateValidated(ctx, question, facts)
	if err != nil {
		return "", err
	}

	result, err := t.cases.ExecuteSelect(ctx, sanitized)
	if err != nil {
		return "", Classify(ClassProvider, fmt.Errorf("executing statement: %w", err))
	}
	return renderQueryPayload(sanitized, result), nil
}

// generateValidated runs the generate-validate loop until the guard
// accepts a statement or the regeneration budget runs out.
func (t *QueryTool) generateValidated(ctx context.Context, question string, facts ContextFacts) (string, error) {
	var (
		rejected   string
		lastReason string
	)

	attempts := 1 + t.cfg.RegenerationAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		var messages []llm.Message
		if attempt == 1 {
			messages = sqlMessages(question, facts, t.cfg.MaxRows)
		} else {
			messages = sqlRegenerationMessages(question, facts, t.cfg.MaxRows, rejected, lastReason)
		}

		raw, err := t.client.Chat(ctx, messages, sqlGenerationParams())
		if err != nil {
			return "", Classify(ClassProvider, fmt.Errorf("generating sql: %w", err))
		}
		candidate := stripSQLFences(raw)

		sanitized, err := t.guard.Validate(ctx, candidate)
		if err == nil {
			if attempt > 1 {
				slog.Info("regenerated sql accepted", slog.Int("attempt", attempt))
			}
			return sanitized, nil
		}

		rejected = candidate
		lastReason = err.Error()
		var ve *store.ViolationError
		if errors.As(err, &ve) {
			lastReason = ve.Detail
			slog.Warn("generated sql rejected",
				slog.String("rule", ve.Rule),
				slog.Int("attempt", attempt),
				slog.Int("attempts_allowed", attempts))
		} else {
			slog.Warn("generated sql rejected",
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt))
		}
		if attempt < attempts {
			queryRegenerationsTotal.Inc()
		}
	}

	return "", classifyf(ClassSchemaViolation,
		"statement rejected after %d attempts: %s", attempts, lastReason)
}

// sqlGenerationParams pins generation at low temperature so statement
// shape stays stable across regeneration attempts.
func sqlGenerationParams() llm.GenerationParams {
	temp := float32(0.0)
	return llm.GenerationParams{Temperature: &temp}
}

// stripSQLFences unwraps a statement from Markdown code fences when the
// model adds them despite instructions.
func stripSQLFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// drop the language tag line (```sql)
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, " \t") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// renderQueryPayload renders an executed statement and its result as the
// observation payload.
func renderQueryPayload(sqlText string, result *store.QueryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Executed SQL: %s\n", sqlText)

	if result.RowCount == 0 {
		b.WriteString("(no rows matched)\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteString("\n")
	for _, row := range result.Rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}

	if result.RowCount == 1 {
		b.WriteString("(1 row)\n")
	} else {
		fmt.Fprintf(&b, "(%d rows)\n", result.RowCount)
	}
	if result.Truncated {
		fmt.Fprintf(&b, "(result truncated by the %s cap; narrow the question for the full picture)\n", result.TruncatedBy)
	}
	return b.String()
}
