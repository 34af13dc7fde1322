// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/store"
)

// =============================================================================
// Request Types
// =============================================================================

// RunReportRequest submits a question for a report session.
type RunReportRequest struct {
	// Question is the epidemiological question, in natural language.
	Question string `json:"question"`

	// Locale overrides the configured report language (BCP 47). Optional.
	Locale string `json:"locale,omitempty"`

	// Wait blocks the request until the run finishes or the wait budget
	// elapses, instead of returning 202 immediately.
	Wait bool `json:"wait,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// RunStatusResponse describes one run: returned on submission and by the
// status endpoint.
type RunStatusResponse struct {
	// RunID identifies the run for status, abort, and event endpoints.
	RunID string `json:"run_id"`

	// State is RUNNING, DONE, or FAILED.
	State string `json:"state"`

	// Question echoes the submitted question.
	Question string `json:"question"`

	// Report is the finished report. Nil until the run reaches DONE.
	Report *agent.Report `json:"report,omitempty"`

	// Error describes the failure of a FAILED run.
	Error string `json:"error,omitempty"`

	// ErrorClass is the taxonomy tag of a FAILED run's error.
	ErrorClass string `json:"error_class,omitempty"`

	// CreatedAt is the submission time, UTC.
	CreatedAt time.Time `json:"created_at"`

	// FinishedAt is the completion time. Nil while RUNNING.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ToolsResponse lists the tool schemas offered to the reasoning model.
type ToolsResponse struct {
	// Tools are the declared tool definitions, in registration order.
	Tools []llm.ToolDef `json:"tools"`

	// Count is len(Tools), for quick inspection.
	Count int `json:"count"`
}

// AggregatesResponse is one aggregate case series for the dashboard.
type AggregatesResponse struct {
	// AnchorDate is the most recent data date the window is anchored at.
	AnchorDate string `json:"anchor_date"`

	// Granularity is "daily" or "monthly".
	Granularity string `json:"granularity"`

	// Window is the trailing window length in Granularity units.
	Window int `json:"window"`

	// Series holds one bucket per period with cases, ascending.
	Series []store.CaseBucket `json:"series"`
}

// HealthResponse reports service liveness and store reachability.
type HealthResponse struct {
	// Status is "ok", or "degraded" when the case store is unreachable.
	Status string `json:"status"`

	// MostRecentDataDate is the store's data anchor date. Empty when
	// degraded.
	MostRecentDataDate string `json:"most_recent_data_date,omitempty"`

	// ActiveRuns is the number of sessions currently executing.
	ActiveRuns int `json:"active_runs"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	// Error is the human-readable description.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code"`
}
