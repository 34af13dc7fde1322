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
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
)

// =============================================================================
// Run Registry
// =============================================================================

// Run states exposed by the HTTP layer. A run is RUNNING from submission
// until its session terminates, then DONE or FAILED for the retention
// window.
const (
	RunStateRunning = "RUNNING"
	RunStateDone    = "DONE"
	RunStateFailed  = "FAILED"
)

const (
	// defaultRunRetention is how long finished runs stay pollable.
	defaultRunRetention = 30 * time.Minute

	// defaultMaxActiveRuns bounds concurrently executing sessions.
	defaultMaxActiveRuns = 32
)

// ErrRunNotFound marks a run ID with no registry entry: never submitted,
// or finished longer than the retention window ago.
var ErrRunNotFound = errors.New("run not found")

// ErrTooManyRuns marks a submission rejected because the active-run limit
// is reached.
var ErrTooManyRuns = errors.New("active run limit reached")

// runRecord tracks one run while it executes and through retention.
//
// The id, question, session, events, and done fields are set at creation
// and never reassigned; they are safe to read without the registry lock.
// The remaining fields are guarded by runRegistry.mu.
type runRecord struct {
	id       string
	question string
	session  *agent.Session
	events   *agent.EventBuffer

	// done closes when the run finishes, unblocking waiters.
	done chan struct{}

	state      string
	report     *agent.Report
	err        error
	createdAt  time.Time
	finishedAt time.Time
}

// newRunRecord wraps a freshly assembled session. The run ID is the
// session ID: one run executes exactly one session.
func newRunRecord(session *agent.Session, events *agent.EventBuffer) *runRecord {
	return &runRecord{
		id:        session.ID,
		question:  session.Question,
		session:   session,
		events:    events,
		done:      make(chan struct{}),
		state:     RunStateRunning,
		createdAt: time.Now().UTC(),
	}
}

// RunView is an immutable snapshot of one run's registry entry.
type RunView struct {
	// RunID identifies the run.
	RunID string

	// Question is the submitted question, verbatim.
	Question string

	// State is RUNNING, DONE, or FAILED.
	State string

	// Report is the finished report; nil unless State is DONE.
	Report *agent.Report

	// Err is the terminal error; nil unless State is FAILED.
	Err error

	// CreatedAt is the submission time, UTC.
	CreatedAt time.Time

	// FinishedAt is the completion time; zero while RUNNING.
	FinishedAt time.Time
}

// runRegistry is the one shared mutable structure of the HTTP layer: a
// mutex-guarded map of runs, swept lazily on insertion.
//
// Thread Safety: Safe for concurrent use.
type runRegistry struct {
	mu        sync.RWMutex
	runs      map[string]*runRecord
	retention time.Duration
	maxActive int
}

func newRunRegistry(retention time.Duration, maxActive int) *runRegistry {
	if retention <= 0 {
		retention = defaultRunRetention
	}
	if maxActive <= 0 {
		maxActive = defaultMaxActiveRuns
	}
	return &runRegistry{
		runs:      make(map[string]*runRecord),
		retention: retention,
		maxActive: maxActive,
	}
}

// add registers a new run, first sweeping entries past retention.
// Returns ErrTooManyRuns when the active-run limit is reached.
func (r *runRegistry) add(rec *runRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now().UTC())

	active := 0
	for _, existing := range r.runs {
		if existing.state == RunStateRunning {
			active++
		}
	}
	if active >= r.maxActive {
		return ErrTooManyRuns
	}

	r.runs[rec.id] = rec
	return nil
}

// get returns the live record. Callers may touch only its immutable
// fields; mutable state goes through view.
func (r *runRegistry) get(id string) (*runRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	return rec, ok
}

// view returns a snapshot of one run.
func (r *runRegistry) view(id string) (RunView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[id]
	if !ok {
		return RunView{}, false
	}
	return RunView{
		RunID:      rec.id,
		Question:   rec.question,
		State:      rec.state,
		Report:     rec.report,
		Err:        rec.err,
		CreatedAt:  rec.createdAt,
		FinishedAt: rec.finishedAt,
	}, true
}

// finish records the terminal outcome and unblocks waiters. Idempotent;
// only the first call for a run takes effect.
func (r *runRegistry) finish(id string, report *agent.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[id]
	if !ok || rec.state != RunStateRunning {
		return
	}

	rec.report = report
	rec.err = err
	rec.finishedAt = time.Now().UTC()
	if err != nil {
		rec.state = RunStateFailed
	} else {
		rec.state = RunStateDone
	}
	close(rec.done)
}

// active counts currently executing runs.
func (r *runRegistry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.runs {
		if rec.state == RunStateRunning {
			n++
		}
	}
	return n
}

// sweepLocked drops finished runs past the retention window. Running
// entries are never swept. Caller holds r.mu.
func (r *runRegistry) sweepLocked(now time.Time) {
	for id, rec := range r.runs {
		if rec.state == RunStateRunning {
			continue
		}
		if now.Sub(rec.finishedAt) > r.retention {
			delete(r.runs, id)
		}
	}
}
