// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// CaseBucket is one bucket of an aggregated case series.
type CaseBucket struct {
	// Period identifies the bucket: a date for daily series, YYYY-MM for
	// monthly series.
	Period string `db:"period" json:"period"`

	// Cases is the case count in the bucket.
	Cases int `db:"cases" json:"cases"`
}

// DailyCaseSeries returns per-day case counts for a trailing window.
//
// Description:
//
//	The window is anchored at the most recent data date, not the wall
//	clock, so a lagging store yields the last days it actually has. Days
//	with zero reported cases produce no bucket.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - days: Window length in days, anchored at the most recent data date
//     (inclusive). Must be between 1 and 365.
//
// Outputs:
//   - []CaseBucket: One bucket per day with cases, in ascending order.
//     Empty slice when the window holds no cases.
//   - error: Non-nil on invalid input or query failure.
func (s *Store) DailyCaseSeries(ctx context.Context, days int) ([]CaseBucket, error) {
	if days < 1 || days > 365 {
		return nil, fmt.Errorf("store: daily series window must be 1-365 days, got %d", days)
	}

	table, err := s.caseTable()
	if err != nil {
		return nil, err
	}
	if table.RecencyColumn == "" {
		return nil, fmt.Errorf("store: table %s declares no recency column", table.Name)
	}

	ctx, span := storeTracer.Start(ctx, "store.DailyCaseSeries")
	defer span.End()
	span.SetAttributes(attribute.Int("days", days))

	q := fmt.Sprintf(`
		SELECT %[1]s AS period, COUNT(*) AS cases
		FROM %[2]s
		WHERE %[1]s >= date((SELECT MAX(%[1]s) FROM %[2]s), ?)
		GROUP BY period
		ORDER BY period`, table.RecencyColumn, table.Name)
	modifier := fmt.Sprintf("-%d days", days-1)

	buckets := []CaseBucket{}
	if err := s.db.SelectContext(ctx, &buckets, q, modifier); err != nil {
		return nil, fmt.Errorf("store: querying daily series: %w", err)
	}

	span.SetAttributes(attribute.Int("buckets", len(buckets)))
	return buckets, nil
}

// MonthlyCaseSeries returns per-month case counts for a trailing window.
//
// Description:
//
//	Buckets are keyed YYYY-MM. The window covers the given number of
//	calendar months ending at the month of the most recent data date,
//	which is usually partial.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - months: Window length in months, between 1 and 60.
//
// Outputs:
//   - []CaseBucket: One bucket per month with cases, in ascending order.
//   - error: Non-nil on invalid input or query failure.
func (s *Store) MonthlyCaseSeries(ctx context.Context, months int) ([]CaseBucket, error) {
	if months < 1 || months > 60 {
		return nil, fmt.Errorf("store: monthly series window must be 1-60 months, got %d", months)
	}

	table, err := s.caseTable()
	if err != nil {
		return nil, err
	}
	if table.RecencyColumn == "" {
		return nil, fmt.Errorf("store: table %s declares no recency column", table.Name)
	}

	ctx, span := storeTracer.Start(ctx, "store.MonthlyCaseSeries")
	defer span.End()
	span.SetAttributes(attribute.Int("months", months))

	q := fmt.Sprintf(`
		SELECT strftime('%%Y-%%m', %[1]s) AS period, COUNT(*) AS cases
		FROM %[2]s
		WHERE %[1]s >= date((SELECT MAX(%[1]s) FROM %[2]s), 'start of month', ?)
		GROUP BY period
		ORDER BY period`, table.RecencyColumn, table.Name)
	modifier := fmt.Sprintf("-%d months", months-1)

	buckets := []CaseBucket{}
	if err := s.db.SelectContext(ctx, &buckets, q, modifier); err != nil {
		return nil, fmt.Errorf("store: querying monthly series: %w", err)
	}

	span.SetAttributes(attribute.Int("buckets", len(buckets)))
	return buckets, nil
}
