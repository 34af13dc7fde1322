// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides read-only access to the surveillance case store.
//
// Description:
//
//	The case store is a SQLite file produced by an external ingestion job.
//	This package opens it strictly read-only, validates generated SQL
//	against the declared schema (see Guard), enforces row and byte caps on
//	every result, and caches the most recent data date so the agent can
//	reason relative to how current the data actually is.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

var storeTracer = otel.Tracer("aleutian.sentinel")

// =============================================================================
// Query Results
// =============================================================================

// QueryResult is a capped tabular result from the case store.
//
// Description:
//
//	Rows holds stringified cell values, at most the configured row cap,
//	and at most the configured byte cap of total cell content. Truncation
//	at either cap is flagged so the model knows the result is partial
//	rather than complete. An empty Rows slice with a nil error is a valid
//	empty result, not a failure.
type QueryResult struct {
	// Columns are the result column names in order.
	Columns []string `json:"columns"`

	// Rows are the stringified result rows.
	Rows [][]string `json:"rows"`

	// RowCount is len(Rows), serialized for the model's convenience.
	RowCount int `json:"row_count"`

	// Truncated reports whether the result hit a cap.
	Truncated bool `json:"truncated,omitempty"`

	// TruncatedBy names the cap that fired: "rows" or "bytes".
	TruncatedBy string `json:"truncated_by,omitempty"`
}

// =============================================================================
// Store
// =============================================================================

// Store is a read-only handle to the case store.
//
// Thread Safety: Safe for concurrent use. SQLite serves concurrent readers
// without locking; the recency cache is mutex-guarded.
type Store struct {
	db     *sqlx.DB
	path   string
	schema *config.StoreSchema
	query  config.QueryToolConfig

	mu         sync.RWMutex
	recentDate string
}

// Open opens the case store read-only.
//
// Description:
//
//	The DSN forces mode=ro and query_only, so even a bug that slips a
//	write statement past the guard fails at the driver. A missing file is
//	an immediate error rather than SQLite's default create-on-open.
//
// Inputs:
//   - ctx: Context for the connection check.
//   - path: Filesystem path to the SQLite case store.
//   - schema: The declared read surface. Must not be nil.
//   - queryCfg: Row, byte, and regeneration caps.
//
// Outputs:
//   - *Store: The opened store.
//   - error: Non-nil if the file is missing or cannot be opened.
func Open(ctx context.Context, path string, schema *config.StoreSchema, queryCfg config.QueryToolConfig) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path must not be empty")
	}
	if schema == nil {
		return nil, fmt.Errorf("store: schema must not be nil")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: case store %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true&_busy_timeout=5000", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening case store %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("case store opened",
		slog.String("path", path),
		slog.Int("max_rows", queryCfg.MaxRows),
		slog.Int("max_result_bytes", queryCfg.MaxResultBytes),
	)

	return &Store{
		db:     db,
		path:   path,
		schema: schema,
		query:  queryCfg,
	}, nil
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the case store file path.
func (s *Store) Path() string {
	return s.path
}

// caseTable returns the primary case table declaration.
func (s *Store) caseTable() (*config.TableSchema, error) {
	if len(s.schema.Tables) == 0 {
		return nil, fmt.Errorf("store: schema declares no tables")
	}
	return &s.schema.Tables[0], nil
}

// =============================================================================
// Recency
// =============================================================================

// MostRecentDate returns the latest value of the declared recency column.
//
// Description:
//
//	The case store lags real time by however long ingestion takes, so
//	"today" questions must be answered relative to this date, not the
//	wall clock. The value is cached until InvalidateRecencyCache is
//	called (the file watcher does this when the store file changes).
//
// Outputs:
//   - string: The most recent data date as stored (ISO 8601 date).
//   - error: Non-nil if no recency column is declared, the query fails,
//     or the store is empty.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) MostRecentDate(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.recentDate != "" {
		d := s.recentDate
		s.mu.RUnlock()
		return d, nil
	}
	s.mu.RUnlock()

	table, err := s.caseTable()
	if err != nil {
		return "", err
	}
	if table.RecencyColumn == "" {
		return "", fmt.Errorf("store: table %s declares no recency column", table.Name)
	}

	ctx, span := storeTracer.Start(ctx, "store.MostRecentDate")
	defer span.End()

	// Identifiers come from the validated embedded schema, never from
	// model output.
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", table.RecencyColumn, table.Name)

	var d sql.NullString
	if err := s.db.GetContext(ctx, &d, q); err != nil {
		return "", fmt.Errorf("store: querying most recent date: %w", err)
	}
	if !d.Valid || d.String == "" {
		return "", fmt.Errorf("store: case store has no %s values", table.RecencyColumn)
	}

	s.mu.Lock()
	s.recentDate = d.String
	s.mu.Unlock()

	span.SetAttributes(attribute.String("most_recent_date", d.String))
	return d.String, nil
}

// InvalidateRecencyCache drops the cached recency date, forcing a re-query
// on next use. Called by the store file watcher after ingestion replaces
// the file.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) InvalidateRecencyCache() {
	s.mu.Lock()
	s.recentDate = ""
	s.mu.Unlock()
	slog.Info("recency cache invalidated", slog.String("path", s.path))
}

// =============================================================================
// Query Execution
// =============================================================================

// ExecuteSelect runs one validated SELECT and returns the capped result.
//
// Description:
//
//	The caller is responsible for validating the statement with Guard
//	first; ExecuteSelect re-enforces the row and byte caps while scanning
//	regardless, so the caps hold even if validation is bypassed. Scanning
//	stops at the first cap hit and the result is flagged truncated.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - sqlText: A validated SELECT statement.
//
// Outputs:
//   - *QueryResult: The capped result. Never nil on success.
//   - error: Non-nil on execution failure. The error wraps the driver
//     error for logs; callers expose only the failure class to the model.
func (s *Store) ExecuteSelect(ctx context.Context, sqlText string) (*QueryResult, error) {
	ctx, span := storeTracer.Start(ctx, "store.ExecuteSelect")
	defer span.End()

	rows, err := s.db.QueryxContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("store: executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("store: reading result columns: %w", err)
	}

	result := &QueryResult{
		Columns: cols,
		Rows:    [][]string{},
	}

	byteBudget := s.query.MaxResultBytes
	for rows.Next() {
		if len(result.Rows) >= s.query.MaxRows {
			result.Truncated = true
			result.TruncatedBy = "rows"
			break
		}

		raw, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("store: scanning row %d: %w", len(result.Rows), err)
		}

		cells := make([]string, len(raw))
		rowBytes := 0
		for i, v := range raw {
			cells[i] = formatCell(v)
			rowBytes += len(cells[i])
		}

		if rowBytes > byteBudget {
			result.Truncated = true
			result.TruncatedBy = "bytes"
			break
		}
		byteBudget -= rowBytes
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating result: %w", err)
	}

	result.RowCount = len(result.Rows)

	span.SetAttributes(
		attribute.Int("row_count", result.RowCount),
		attribute.Bool("truncated", result.Truncated),
	)

	return result, nil
}

// formatCell renders one driver value as a string for the model.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", x)
	}
}
