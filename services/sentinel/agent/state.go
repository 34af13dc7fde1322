// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the reasoning loop that answers epidemiological
// questions: a bounded state machine that alternates between asking the
// reasoning model what to do next and dispatching the requested tool, then
// synthesizes a structured report from the accumulated observations.
//
// The loop is deliberately not open-ended. Every session has a hard
// iteration ceiling, every model call and tool call a timeout, and every
// tool failure is converted into an observation the model can react to
// instead of an error that escapes the loop. Reaching the ceiling produces
// a report from whatever evidence was collected; only an unrecoverable
// model outage or an abort fails a session outright.
package agent

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
)

// =============================================================================
// State Machine
// =============================================================================

// State is one node of the session state machine.
type State string

const (
	// StatePlanning means the loop is awaiting the next model decision.
	StatePlanning State = "PLANNING"

	// StateExecutingTool means a tool dispatch is in flight.
	StateExecutingTool State = "EXECUTING_TOOL"

	// StateFinalizing means the report is being synthesized.
	StateFinalizing State = "FINALIZING"

	// StateDone is the terminal success state.
	StateDone State = "DONE"

	// StateFailed is the terminal failure state.
	StateFailed State = "FAILED"
)

// =============================================================================
// Session State
// =============================================================================

// ContextFacts are the invariant facts injected at session start so the
// model cannot hallucinate temporal context.
type ContextFacts struct {
	// SessionID correlates logs, metrics, and events for one run.
	SessionID string `json:"session_id"`

	// Locale is the BCP 47 language the final report is written in.
	Locale string `json:"locale"`

	// MostRecentDataDate is the newest symptom-onset date in the case
	// store. All relative date arithmetic anchors here, never at the
	// wall clock.
	MostRecentDataDate string `json:"most_recent_data_date"`

	// SchemaSummary is the declared read surface of the case store,
	// rendered for prompts.
	SchemaSummary string `json:"-"`
}

// Observation records the outcome of one tool dispatch. Immutable once
// created; appended to the session trail and never mutated afterward.
type Observation struct {
	// Tool is the source tool name.
	Tool string `json:"tool"`

	// Success reports whether the tool produced a payload.
	Success bool `json:"success"`

	// Payload is the token-budgeted tool output. Empty on failure.
	Payload string `json:"payload,omitempty"`

	// Error describes the failure. Empty on success.
	Error string `json:"error,omitempty"`

	// ErrorClass is the taxonomy tag of the failure. ClassNone on success.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Timestamp is when the dispatch started, UTC.
	Timestamp time.Time `json:"timestamp"`

	// Elapsed is how long the dispatch took.
	Elapsed time.Duration `json:"elapsed"`
}

// promptText renders the observation as the tool-result message fed back
// to the model.
func (o Observation) promptText() string {
	if o.Success {
		return o.Payload
	}
	return fmt.Sprintf("Tool %s failed (%s): %s", o.Tool, o.ErrorClass, o.Error)
}

// Session is the mutable state of one reasoning run.
//
// Description:
//
//	Owned exclusively by one Controller.Run call: the message history,
//	observation trail, iteration counter, and state field are mutated
//	only from that goroutine and discarded when the run ends. The single
//	cross-goroutine entry point is Abort, which the HTTP layer may call
//	while the loop runs; the loop checks it between iterations, never
//	mid-tool-call.
//
// Thread Safety: Abort and Aborted are safe for concurrent use. All other
// fields and methods belong to the running loop.
type Session struct {
	// ID is the session identifier (uuid).
	ID string

	// Question is the user's question, verbatim.
	Question string

	// Facts are the injected invariant facts.
	Facts ContextFacts

	// StartedAt is the session start time, UTC.
	StartedAt time.Time

	// State is the current state-machine node.
	State State

	// Iteration counts completed planning turns.
	Iteration int

	// Messages is the conversation history sent to the reasoning model,
	// beginning with the system prompt and the question.
	Messages []llm.ChatMessage

	// Observations is the append-only tool observation trail.
	Observations []Observation

	aborted atomic.Bool
}

// Abort requests termination. The loop honors it at the next iteration
// boundary and transitions to StateFailed; a dispatch already in flight
// runs to completion first.
func (s *Session) Abort() {
	s.aborted.Store(true)
}

// Aborted reports whether termination was requested.
func (s *Session) Aborted() bool {
	return s.aborted.Load()
}

// Trail returns a copy of the observation trail, safe to hand outside the
// loop.
func (s *Session) Trail() []Observation {
	out := make([]Observation, len(s.Observations))
	copy(out, s.Observations)
	return out
}
