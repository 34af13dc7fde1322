// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runlog records per-session summaries in a time-series database
// for operational dashboards.
//
// Description:
//
//	The sink is optional: a server without a configured InfluxDB endpoint
//	runs without one and sessions behave identically. Callers treat writes
//	as fire-and-forget; a failed write is logged and counted, never
//	surfaced into the session result.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// runMeasurement is the InfluxDB measurement name for session summaries.
const runMeasurement = "sentinel_run"

var runlogWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "runlog",
	Name:      "writes_total",
	Help:      "Run summaries written to the run log, by status",
}, []string{"status"})

// =============================================================================
// Run Summary
// =============================================================================

// RunSummary is one finished session, flattened for the run log.
//
// The question text itself is deliberately absent; only its length is
// recorded so the run log holds no user content.
type RunSummary struct {
	// RunID is the HTTP run identifier.
	RunID string

	// SessionID is the agent session identifier.
	SessionID string

	// Outcome is the terminal outcome: done, done_degraded, or failed.
	Outcome string

	// Degraded reports whether the report fell back to the raw trail.
	Degraded bool

	// Iterations is the number of completed planning turns.
	Iterations int

	// ToolCalls is the total number of dispatched tool calls.
	ToolCalls int

	// FailedToolCalls counts dispatches that produced a failure observation.
	FailedToolCalls int

	// QuestionChars is the length of the submitted question.
	QuestionChars int

	// Duration is the wall time from submission to completion.
	Duration time.Duration

	// FinishedAt is the completion time, UTC. Used as the point timestamp.
	FinishedAt time.Time
}

// Sink receives one summary per finished session.
//
// Thread Safety: Implementations must be safe for concurrent use; runs
// finish on independent goroutines.
type Sink interface {
	// RecordRun writes one summary. The error return feeds the caller's
	// warning log; it never affects the session that produced the summary.
	RecordRun(ctx context.Context, sum RunSummary) error

	// Close flushes and releases the underlying client.
	Close()
}

// =============================================================================
// InfluxDB Sink
// =============================================================================

// InfluxSink writes run summaries to an InfluxDB v2 bucket.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	bucket string
}

// NewInfluxSink connects a run log sink to an InfluxDB v2 endpoint.
//
// Inputs:
//   - url: Base URL of the InfluxDB server, e.g. http://localhost:8086.
//   - token: API token. May be empty against an unauthenticated server.
//   - org: Organization name.
//   - bucket: Destination bucket.
//
// Outputs:
//   - *InfluxSink: The connected sink. Connection is lazy; a down server
//     surfaces on the first RecordRun, not here.
//   - error: Non-nil if url, org, or bucket is empty.
func NewInfluxSink(url, token, org, bucket string) (*InfluxSink, error) {
	if url == "" {
		return nil, fmt.Errorf("NewInfluxSink: url must not be empty")
	}
	if org == "" {
		return nil, fmt.Errorf("NewInfluxSink: org must not be empty")
	}
	if bucket == "" {
		return nil, fmt.Errorf("NewInfluxSink: bucket must not be empty")
	}

	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		bucket: bucket,
	}, nil
}

// RecordRun writes one summary point.
//
// Description:
//
//	Tags carry the low-cardinality dimensions (outcome, degraded) so
//	dashboards can group by them; identifiers and counters travel as
//	fields. The point is timestamped with the session completion time.
//
// Thread Safety: Safe for concurrent use.
func (s *InfluxSink) RecordRun(ctx context.Context, sum RunSummary) error {
	point := influxdb2.NewPoint(
		runMeasurement,
		map[string]string{
			"outcome":  sum.Outcome,
			"degraded": fmt.Sprintf("%t", sum.Degraded),
		},
		map[string]interface{}{
			"run_id":            sum.RunID,
			"session_id":        sum.SessionID,
			"iterations":        sum.Iterations,
			"tool_calls":        sum.ToolCalls,
			"failed_tool_calls": sum.FailedToolCalls,
			"question_chars":    sum.QuestionChars,
			"duration_ms":       sum.Duration.Milliseconds(),
		},
		sum.FinishedAt,
	)

	if err := s.write.WritePoint(ctx, point); err != nil {
		runlogWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("RecordRun: writing to bucket %s: %w", s.bucket, err)
	}

	runlogWritesTotal.WithLabelValues("ok").Inc()
	slog.Debug("run summary recorded",
		slog.String("run_id", sum.RunID),
		slog.String("outcome", sum.Outcome),
		slog.Int("iterations", sum.Iterations),
	)
	return nil
}

// Close releases the underlying InfluxDB client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
