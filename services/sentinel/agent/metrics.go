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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Reasoning Loop
// =============================================================================

var (
	// agentSessionsTotal counts finished sessions by outcome.
	// Labels: outcome (done, done_degraded, failed)
	agentSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "agent",
		Name:      "sessions_total",
		Help:      "Finished reasoning sessions by outcome",
	}, []string{"outcome"})

	// agentIterationsPerSession measures planning iterations used per session.
	agentIterationsPerSession = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "agent",
		Name:      "iterations_per_session",
		Help:      "Planning iterations used per session",
		Buckets:   prometheus.LinearBuckets(1, 1, 16),
	})

	// agentStateTransitionsTotal counts state-machine transitions.
	// Labels: from, to
	agentStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "agent",
		Name:      "state_transitions_total",
		Help:      "State machine transitions by source and target state",
	}, []string{"from", "to"})

	// agentMalformedTurnsTotal counts model turns that were neither a tool
	// call nor a final answer.
	agentMalformedTurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "agent",
		Name:      "malformed_turns_total",
		Help:      "Model turns that parsed as neither tool call nor final answer",
	})

	// queryRegenerationsTotal counts guard-rejected statements sent back
	// to the model for correction.
	queryRegenerationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "dispatch",
		Name:      "sql_regenerations_total",
		Help:      "Generated SQL statements rejected by the guard and regenerated",
	})

	// dispatchCallsTotal counts tool dispatches by tool and status.
	// Labels: tool, status (ok, validation, timeout, provider, schema_violation)
	dispatchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "dispatch",
		Name:      "calls_total",
		Help:      "Tool dispatches by tool and status",
	}, []string{"tool", "status"})

	// dispatchLatencySeconds measures tool execution latency.
	// Labels: tool
	dispatchLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "dispatch",
		Name:      "latency_seconds",
		Help:      "Tool execution latency including argument validation",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"tool"})
)

// recordDispatch records one tool dispatch outcome.
func recordDispatch(tool string, class ErrorClass, durationSec float64) {
	status := "ok"
	if class != ClassNone {
		status = string(class)
	}
	dispatchCallsTotal.WithLabelValues(tool, status).Inc()
	dispatchLatencySeconds.WithLabelValues(tool).Observe(durationSec)
}

// recordStateTransition records one state-machine transition.
func recordStateTransition(from, to State) {
	agentStateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// recordSessionOutcome records a finished session.
func recordSessionOutcome(outcome string, iterations int) {
	agentSessionsTotal.WithLabelValues(outcome).Inc()
	agentIterationsPerSession.Observe(float64(iterations))
}
