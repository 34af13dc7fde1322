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
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/store"
)

// fakeValidator rejects the first len(rejections) statements, then
// accepts with a LIMIT appended.
type fakeValidator struct {
	rejections []string
	seen       []string
}

func (f *fakeValidator) Validate(ctx context.Context, sqlText string) (string, error) {
	f.seen = append(f.seen, sqlText)
	if len(f.seen) <= len(f.rejections) {
		return "", &store.ViolationError{Rule: "unknown_identifier", Detail: f.rejections[len(f.seen)-1]}
	}
	return sqlText + " LIMIT 50", nil
}

type fakeCaseStore struct {
	date     string
	dateErr  error
	result   *store.QueryResult
	execErr  error
	executed []string
}

func (f *fakeCaseStore) MostRecentDate(ctx context.Context) (string, error) {
	return f.date, f.dateErr
}

func (f *fakeCaseStore) ExecuteSelect(ctx context.Context, sqlText string) (*store.QueryResult, error) {
	f.executed = append(f.executed, sqlText)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.result, nil
}

func queryToolConfig() config.QueryToolConfig {
	return config.QueryToolConfig{MaxRows: 50, MaxResultBytes: 8192, RegenerationAttempts: 1}
}

func newQueryToolForTest(t *testing.T, client *scriptedClient, cases *fakeCaseStore, guard *fakeValidator) *QueryTool {
	t.Helper()
	tool, err := NewQueryTool(client, cases, guard, testStoreSchema(t), queryToolConfig())
	if err != nil {
		t.Fatalf("NewQueryTool() error = %v", err)
	}
	return tool
}

func TestQueryToolDefinition(t *testing.T) {
	tool := newQueryToolForTest(t, &scriptedClient{}, &fakeCaseStore{}, &fakeValidator{})

	def := tool.Definition()
	if def.Function.Name != QueryToolName {
		t.Errorf("name = %q, want %q", def.Function.Name, QueryToolName)
	}
	if _, ok := def.Function.Parameters.Properties["question"]; !ok {
		t.Error("definition does not declare the question parameter")
	}
	if len(def.Function.Parameters.Required) != 1 || def.Function.Parameters.Required[0] != "question" {
		t.Errorf("required = %v, want [question]", def.Function.Parameters.Required)
	}
}

func TestQueryToolExecutesValidatedStatement(t *testing.T) {
	client := &scriptedClient{chatText: "SELECT COUNT(*) AS total FROM casos_srag"}
	cases := &fakeCaseStore{
		date: "2025-06-18",
		result: &store.QueryResult{
			Columns:  []string{"total"},
			Rows:     [][]string{{"42"}},
			RowCount: 1,
		},
	}
	guard := &fakeValidator{}
	tool := newQueryToolForTest(t, client, cases, guard)

	payload, err := tool.Execute(context.Background(), map[string]any{"question": "quantos casos?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(cases.executed) != 1 {
		t.Fatalf("store executed %d statements, want 1", len(cases.executed))
	}
	if cases.executed[0] != "SELECT COUNT(*) AS total FROM casos_srag LIMIT 50" {
		t.Errorf("executed = %q, want the sanitized statement", cases.executed[0])
	}

	for _, want := range []string{"Executed SQL:", "LIMIT 50", "total", "42", "(1 row)"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}

	// The generation prompt carries the schema and the data anchor date.
	if len(client.chatMessages) != 1 {
		t.Fatalf("model called %d times, want 1", len(client.chatMessages))
	}
	system := client.chatMessages[0][0].Content
	if !strings.Contains(system, "casos_srag") {
		t.Error("generation prompt does not carry the declared schema")
	}
	if !strings.Contains(system, "2025-06-18") {
		t.Error("generation prompt does not carry the data anchor date")
	}
}

func TestQueryToolStripsCodeFences(t *testing.T) {
	client := &scriptedClient{chatText: "```sql\nSELECT COUNT(*) FROM casos_srag\n```"}
	cases := &fakeCaseStore{
		date:   "2025-06-18",
		result: &store.QueryResult{Columns: []string{"c"}, Rows: [][]string{{"1"}}, RowCount: 1},
	}
	guard := &fakeValidator{}
	tool := newQueryToolForTest(t, client, cases, guard)

	if _, err := tool.Execute(context.Background(), map[string]any{"question": "quantos?"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if guard.seen[0] != "SELECT COUNT(*) FROM casos_srag" {
		t.Errorf("guard saw %q, want the unfenced statement", guard.seen[0])
	}
}

func TestQueryToolRegeneratesAfterRejection(t *testing.T) {
	client := &scriptedClient{chatQueue: []string{
		"SELECT vacina FROM casos_srag",
		"SELECT vacina_covid FROM casos_srag",
	}}
	cases := &fakeCaseStore{
		date:   "2025-06-18",
		result: &store.QueryResult{Columns: []string{"vacina_covid"}, Rows: [][]string{{"1"}}, RowCount: 1},
	}
	guard := &fakeValidator{rejections: []string{`identifier "vacina" is not in the declared schema`}}
	tool := newQueryToolForTest(t, client, cases, guard)

	if _, err := tool.Execute(context.Background(), map[string]any{"question": "vacinados?"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(client.chatMessages) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.chatMessages))
	}
	retry := client.chatMessages[1][1].Content
	if !strings.Contains(retry, `identifier "vacina" is not in the declared schema`) {
		t.Error("regeneration prompt does not carry the rejection reason")
	}
	if !strings.Contains(retry, "SELECT vacina FROM casos_srag") {
		t.Error("regeneration prompt does not carry the rejected statement")
	}
	if len(cases.executed) != 1 {
		t.Errorf("store executed %d statements, want 1", len(cases.executed))
	}
}

func TestQueryToolSchemaViolationAfterRetries(t *testing.T) {
	client := &scriptedClient{chatQueue: []string{
		"SELECT senha FROM usuarios",
		"SELECT senha FROM usuarios",
	}}
	cases := &fakeCaseStore{date: "2025-06-18"}
	guard := &fakeValidator{rejections: []string{
		`table "usuarios" is not in the declared schema`,
		`table "usuarios" is not in the declared schema`,
	}}
	tool := newQueryToolForTest(t, client, cases, guard)

	_, err := tool.Execute(context.Background(), map[string]any{"question": "senhas?"})
	if err == nil {
		t.Fatal("Execute() succeeded, want schema violation")
	}
	if !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("error = %v, want a schema violation", err)
	}
	if len(cases.executed) != 0 {
		t.Errorf("store executed %d statements, want 0", len(cases.executed))
	}
	if len(guard.seen) != 2 {
		t.Errorf("guard validated %d statements, want 2 (initial + one regeneration)", len(guard.seen))
	}
}

func TestQueryToolFailureClasses(t *testing.T) {
	tests := []struct {
		name   string
		client *scriptedClient
		cases  *fakeCaseStore
		args   map[string]any
		want   error
	}{
		{
			"empty question",
			&scriptedClient{},
			&fakeCaseStore{date: "2025-06-18"},
			map[string]any{"question": "  "},
			ErrValidation,
		},
		{
			"metadata failure",
			&scriptedClient{},
			&fakeCaseStore{dateErr: errors.New("store offline")},
			map[string]any{"question": "quantos?"},
			ErrProvider,
		},
		{
			"generation failure",
			&scriptedClient{chatErr: errors.New("model offline")},
			&fakeCaseStore{date: "2025-06-18"},
			map[string]any{"question": "quantos?"},
			ErrProvider,
		},
		{
			"execution failure",
			&scriptedClient{chatText: "SELECT COUNT(*) FROM casos_srag"},
			&fakeCaseStore{date: "2025-06-18", execErr: errors.New("disk error")},
			map[string]any{"question": "quantos?"},
			ErrProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newQueryToolForTest(t, tt.client, tt.cases, &fakeValidator{})
			_, err := tool.Execute(context.Background(), tt.args)
			if err == nil {
				t.Fatal("Execute() succeeded, want failure")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v in the chain", err, tt.want)
			}
		})
	}
}

func TestQueryToolRendersTruncation(t *testing.T) {
	client := &scriptedClient{chatText: "SELECT uf FROM casos_srag"}
	cases := &fakeCaseStore{
		date: "2025-06-18",
		result: &store.QueryResult{
			Columns:     []string{"uf"},
			Rows:        [][]string{{"SP"}, {"RJ"}},
			RowCount:    2,
			Truncated:   true,
			TruncatedBy: "rows",
		},
	}
	tool := newQueryToolForTest(t, client, cases, &fakeValidator{})

	payload, err := tool.Execute(context.Background(), map[string]any{"question": "estados?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(payload, "truncated by the rows cap") {
		t.Errorf("payload does not flag truncation:\n%s", payload)
	}
}

func TestQueryToolRendersEmptyResult(t *testing.T) {
	client := &scriptedClient{chatText: "SELECT uf FROM casos_srag WHERE uf = 'XX'"}
	cases := &fakeCaseStore{
		date:   "2025-06-18",
		result: &store.QueryResult{Columns: []string{"uf"}, Rows: [][]string{}, RowCount: 0},
	}
	tool := newQueryToolForTest(t, client, cases, &fakeValidator{})

	payload, err := tool.Execute(context.Background(), map[string]any{"question": "estado XX?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(payload, "(no rows matched)") {
		t.Errorf("payload does not flag the empty result:\n%s", payload)
	}
}

func TestStripSQLFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1 FROM casos_srag", "SELECT 1 FROM casos_srag"},
		{"sql fence", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"fence with whitespace", "  ```sql\nSELECT 1\n```  ", "SELECT 1"},
		{"multiline statement", "```sql\nSELECT uf,\n  COUNT(*)\nFROM casos_srag\n```", "SELECT uf,\n  COUNT(*)\nFROM casos_srag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripSQLFences(tt.in); got != tt.want {
				t.Errorf("stripSQLFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
