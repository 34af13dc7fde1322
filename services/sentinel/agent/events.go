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
	"sync"
	"time"
)

// =============================================================================
// Run Events
// =============================================================================

// Event types emitted over the lifetime of a run.
const (
	// EventStateTransition is emitted on every state-machine transition.
	EventStateTransition = "state_transition"

	// EventToolDispatch is emitted when a tool call is handed to the
	// dispatcher.
	EventToolDispatch = "tool_dispatch"

	// EventToolResult is emitted when a dispatch returns an observation.
	EventToolResult = "tool_result"

	// EventIterationLimit is emitted when the iteration cap forces
	// finalization.
	EventIterationLimit = "iteration_limit"

	// EventReportReady is emitted when synthesis produced a report.
	EventReportReady = "report_ready"
)

// Event is one timestamped run event.
type Event struct {
	// Seq is the 1-based emission order within the run.
	Seq int `json:"seq"`

	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Payload carries event-specific fields.
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp is the emission time, UTC.
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this loses events rather than stalling
// the loop.
const subscriberBuffer = 64

// EventBuffer accumulates the events of one run and fans them out to
// subscribers.
//
// Description:
//
//	The loop emits; the HTTP layer reads. Events returns everything
//	emitted so far (for status polls), Subscribe streams new events (for
//	WebSocket clients). Emit never blocks: a subscriber whose channel is
//	full is skipped for that event. A nil *EventBuffer is valid and
//	ignores all emissions, so callers that do not stream pass nil.
//
// Thread Safety: Safe for concurrent use.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// NewEventBuffer creates an empty event buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{subs: make(map[int]chan Event)}
}

// Emit appends an event and forwards it to live subscribers. No-op on a
// nil or closed buffer.
func (b *EventBuffer) Emit(eventType string, payload map[string]any) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	evt := Event{
		Seq:       len(b.events) + 1,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	b.events = append(b.events, evt)

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber is behind; drop rather than stall the loop.
		}
	}
}

// Events returns a copy of everything emitted so far.
func (b *EventBuffer) Events() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Subscribe registers a listener for events emitted after this call.
//
// Outputs:
//   - <-chan Event: The event stream. Closed when the buffer closes or
//     the cancel function runs.
//   - func(): Cancel function; safe to call more than once.
func (b *EventBuffer) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close marks the run finished: subscriber channels are closed and later
// emissions are dropped. Events remain readable.
func (b *EventBuffer) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
