// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Store Schema
// =============================================================================

//go:embed schema.yaml
var defaultSchemaYAML []byte

// =============================================================================
// Store Schema Types
// =============================================================================

// StoreSchema is the declared read surface of the case store.
//
// Description:
//
//	Lists every table and column a generated SQL statement may reference.
//	The SQL guard rejects identifiers outside this set before execution,
//	and the SQL generation prompt is rendered from the same declarations,
//	so the model and the validator always agree on the schema.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type StoreSchema struct {
	// Tables lists the readable tables.
	Tables []TableSchema `yaml:"tables"`

	// tableIndex maps lowercased table names for O(1) lookup.
	tableIndex map[string]*TableSchema
}

// TableSchema declares one readable table.
type TableSchema struct {
	// Name is the table name as it appears in the store.
	Name string `yaml:"name"`

	// Description is a one-line summary rendered into the SQL prompt.
	Description string `yaml:"description"`

	// RecencyColumn names the date column whose maximum value defines how
	// current the data is. The store caches MAX(RecencyColumn) and the
	// context assembler injects it into every session.
	RecencyColumn string `yaml:"recency_column"`

	// Columns lists the readable columns.
	Columns []ColumnSchema `yaml:"columns"`

	// columnIndex maps lowercased column names for O(1) lookup.
	columnIndex map[string]*ColumnSchema
}

// ColumnSchema declares one readable column.
type ColumnSchema struct {
	// Name is the column name as it appears in the store.
	Name string `yaml:"name"`

	// Type is the logical type (date, text, integer) rendered into the
	// SQL prompt. Informational only; the store itself is dynamically typed.
	Type string `yaml:"type"`

	// Description explains the column for the SQL prompt.
	Description string `yaml:"description"`
}

// =============================================================================
// Lookups
// =============================================================================

// Table returns the schema for the named table, case-insensitively.
//
// Outputs:
//   - *TableSchema: The table schema, or nil when the table is not declared.
//   - bool: Whether the table is declared.
func (s *StoreSchema) Table(name string) (*TableSchema, bool) {
	t, ok := s.tableIndex[strings.ToLower(name)]
	return t, ok
}

// HasTable reports whether the named table is declared, case-insensitively.
func (s *StoreSchema) HasTable(name string) bool {
	_, ok := s.tableIndex[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether any declared table carries the named column,
// case-insensitively. SQL statements against a single declared table do
// not qualify column references, so column membership is checked across
// the whole schema.
func (s *StoreSchema) HasColumn(name string) bool {
	key := strings.ToLower(name)
	for i := range s.Tables {
		if _, ok := s.Tables[i].columnIndex[key]; ok {
			return true
		}
	}
	return false
}

// HasColumn reports whether this table carries the named column,
// case-insensitively.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.columnIndex[strings.ToLower(name)]
	return ok
}

// ColumnNames returns the declared column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PromptText renders the schema as plain text for the SQL generation prompt.
//
// Description:
//
//	One block per table: the table name and description, then one line per
//	column with its logical type and description. The rendering is stable
//	across calls so prompt caching keys stay valid.
func (s *StoreSchema) PromptText() string {
	var b strings.Builder
	for i := range s.Tables {
		t := &s.Tables[i]
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table %s: %s\n", t.Name, strings.TrimSpace(t.Description))
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s (%s): %s\n", c.Name, c.Type, strings.TrimSpace(c.Description))
		}
	}
	return b.String()
}

// =============================================================================
// Singleton Store Schema
// =============================================================================

var (
	schemaMu      sync.RWMutex
	schemaOnce    sync.Once
	cachedSchema  *StoreSchema
	schemaLoadErr error
)

// GetStoreSchema returns the cached store schema.
//
// Description:
//
//	Loads the embedded schema declarations on first call and caches for
//	subsequent calls.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*StoreSchema - The loaded schema. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetStoreSchema(ctx context.Context) (*StoreSchema, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetStoreSchema: ctx must not be nil")
	}

	schemaMu.RLock()
	if cachedSchema != nil || schemaLoadErr != nil {
		s, err := cachedSchema, schemaLoadErr
		schemaMu.RUnlock()
		return s, err
	}
	schemaMu.RUnlock()

	schemaMu.Lock()
	defer schemaMu.Unlock()

	if cachedSchema != nil || schemaLoadErr != nil {
		return cachedSchema, schemaLoadErr
	}

	schemaOnce.Do(func() {
		cachedSchema, schemaLoadErr = LoadStoreSchema(ctx, defaultSchemaYAML)
	})

	return cachedSchema, schemaLoadErr
}

// ResetStoreSchema resets the cached schema for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetStoreSchema() {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	cachedSchema = nil
	schemaLoadErr = nil
	schemaOnce = sync.Once{}
}

// LoadStoreSchema loads and validates a StoreSchema from YAML bytes.
//
// Description:
//
//	Parses the YAML, validates that every table and column has a non-empty
//	name and that names are unique within their scope, then builds the
//	lowercased lookup indices.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*StoreSchema - The validated schema with lookup indices built.
//	error - Non-nil if parsing or validation fails.
func LoadStoreSchema(ctx context.Context, data []byte) (*StoreSchema, error) {
	_, span := configTracer.Start(ctx, "config.LoadStoreSchema")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadStoreSchema: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadStoreSchema: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var schema StoreSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("LoadStoreSchema: parsing YAML: %w", err)
	}

	if err := validateStoreSchema(&schema); err != nil {
		return nil, fmt.Errorf("LoadStoreSchema: validation: %w", err)
	}

	schema.tableIndex = make(map[string]*TableSchema, len(schema.Tables))
	totalColumns := 0
	for i := range schema.Tables {
		t := &schema.Tables[i]
		schema.tableIndex[strings.ToLower(t.Name)] = t
		t.columnIndex = make(map[string]*ColumnSchema, len(t.Columns))
		for j := range t.Columns {
			t.columnIndex[strings.ToLower(t.Columns[j].Name)] = &t.Columns[j]
		}
		totalColumns += len(t.Columns)
	}

	span.SetAttributes(
		attribute.Int("tables", len(schema.Tables)),
		attribute.Int("columns", totalColumns),
	)

	slog.Info("store schema loaded",
		slog.Int("tables", len(schema.Tables)),
		slog.Int("columns", totalColumns),
	)

	return &schema, nil
}

// validateStoreSchema checks table and column declarations for consistency.
func validateStoreSchema(schema *StoreSchema) error {
	if len(schema.Tables) == 0 {
		return fmt.Errorf("schema must declare at least one table")
	}

	seenTables := make(map[string]bool, len(schema.Tables))
	for i, t := range schema.Tables {
		if t.Name == "" {
			return fmt.Errorf("table[%d]: name must not be empty", i)
		}
		key := strings.ToLower(t.Name)
		if seenTables[key] {
			return fmt.Errorf("table[%d] (%s): duplicate table name", i, t.Name)
		}
		seenTables[key] = true

		if len(t.Columns) == 0 {
			return fmt.Errorf("table[%d] (%s): must declare at least one column", i, t.Name)
		}
		seenColumns := make(map[string]bool, len(t.Columns))
		for j, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("table %s column[%d]: name must not be empty", t.Name, j)
			}
			colKey := strings.ToLower(c.Name)
			if seenColumns[colKey] {
				return fmt.Errorf("table %s column[%d] (%s): duplicate column name", t.Name, j, c.Name)
			}
			seenColumns[colKey] = true
		}
		if t.RecencyColumn != "" && !seenColumns[strings.ToLower(t.RecencyColumn)] {
			return fmt.Errorf("table %s: recency_column %q is not a declared column", t.Name, t.RecencyColumn)
		}
	}

	return nil
}
