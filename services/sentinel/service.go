// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sentinel is the HTTP surface of the Aleutian Sentinel server:
// run submission and tracking, event streaming, tool listing, and the
// aggregate feeds consumed by the dashboard.
//
// Description:
//
//	A run executes one agent session on its own goroutine. The run
//	registry is the only shared mutable structure; everything else the
//	handlers touch (configuration, schema, case store) is read-only.
//	Finished runs stay pollable for a bounded retention window.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/archive"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/runlog"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/store"
)

var sentinelTracer = otel.Tracer("aleutian.sentinel")

// sinkTimeout bounds the post-run writes to the run log and the report
// archive so a hung sink cannot pin run goroutines.
const sinkTimeout = 15 * time.Second

// =============================================================================
// Service Dependencies
// =============================================================================

// SessionRunner executes one assembled session to completion.
// Implemented by agent.Controller.
type SessionRunner interface {
	Run(ctx context.Context, s *agent.Session, events *agent.EventBuffer) (*agent.Report, error)
}

// CaseData is the read surface of the case store the HTTP layer needs:
// the data anchor date and the dashboard aggregate series.
// Implemented by store.Store.
type CaseData interface {
	MostRecentDate(ctx context.Context) (string, error)
	DailyCaseSeries(ctx context.Context, days int) ([]store.CaseBucket, error)
	MonthlyCaseSeries(ctx context.Context, months int) ([]store.CaseBucket, error)
}

// =============================================================================
// Service
// =============================================================================

// Service owns the run registry and the wired components the handlers
// operate on.
//
// Thread Safety: Safe for concurrent use after construction.
type Service struct {
	cfg    *config.Config
	schema *config.StoreSchema
	cases  CaseData
	runner SessionRunner
	tools  []llm.ToolDef
	runs   *runRegistry

	runLog  runlog.Sink
	archive archive.Archiver
	closers []io.Closer

	retention time.Duration
	maxActive int
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithRunLog attaches an optional run log sink.
func WithRunLog(sink runlog.Sink) ServiceOption {
	return func(s *Service) { s.runLog = sink }
}

// WithArchive attaches an optional report archive.
func WithArchive(a archive.Archiver) ServiceOption {
	return func(s *Service) { s.archive = a }
}

// WithRunRetention overrides how long finished runs stay pollable.
func WithRunRetention(d time.Duration) ServiceOption {
	return func(s *Service) { s.retention = d }
}

// WithMaxActiveRuns overrides the concurrent session limit.
func WithMaxActiveRuns(n int) ServiceOption {
	return func(s *Service) { s.maxActive = n }
}

// WithCloser registers a resource to close on shutdown (store, cache DB,
// file watcher). Closed in reverse registration order.
func WithCloser(c io.Closer) ServiceOption {
	return func(s *Service) { s.closers = append(s.closers, c) }
}

// NewService wires the HTTP layer.
//
// Inputs:
//   - cfg: Loaded configuration. Must not be nil.
//   - schema: Declared store schema for session assembly. Must not be nil.
//   - cases: Case store read surface. Must not be nil.
//   - runner: Session executor. Must not be nil.
//   - tools: Tool definitions for the listing endpoint, in registration
//     order.
//   - opts: Optional sinks and tuning.
//
// Outputs:
//   - *Service: The wired service.
//   - error: Non-nil if a required dependency is nil.
func NewService(cfg *config.Config, schema *config.StoreSchema, cases CaseData, runner SessionRunner, tools []llm.ToolDef, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewService: cfg must not be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("NewService: schema must not be nil")
	}
	if cases == nil {
		return nil, fmt.Errorf("NewService: cases must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("NewService: runner must not be nil")
	}

	s := &Service{
		cfg:    cfg,
		schema: schema,
		cases:  cases,
		runner: runner,
		tools:  tools,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runs = newRunRegistry(s.retention, s.maxActive)
	return s, nil
}

// =============================================================================
// Run Lifecycle
// =============================================================================

// StartRun assembles a session for the question and executes it on its
// own goroutine.
//
// Description:
//
//	Validation failures (blank question) and metadata failures surface
//	immediately through the agent error taxonomy; after that the run is
//	registered and this returns while the session executes. The returned
//	view is the initial RUNNING snapshot.
//
// Outputs:
//   - RunView: Snapshot of the accepted run.
//   - error: agent.ErrValidation for bad input, agent.ErrProvider when
//     the store anchor date is unreadable, ErrTooManyRuns at the
//     concurrency limit.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) StartRun(ctx context.Context, question, locale string) (RunView, error) {
	if locale == "" {
		locale = s.cfg.Report.Language
	}

	session, err := agent.AssembleSession(ctx, question, s.cases, s.schema, locale)
	if err != nil {
		return RunView{}, err
	}

	rec := newRunRecord(session, agent.NewEventBuffer())
	if err := s.runs.add(rec); err != nil {
		return RunView{}, err
	}

	slog.Info("run accepted",
		slog.String("run_id", rec.id),
		slog.Int("question_chars", len(rec.question)),
		slog.String("locale", locale),
		slog.Int("active_runs", s.runs.active()),
	)

	go s.executeRun(rec)

	view, _ := s.runs.view(rec.id)
	return view, nil
}

// RunStatus returns the current snapshot of a run.
func (s *Service) RunStatus(id string) (RunView, error) {
	view, ok := s.runs.view(id)
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	return view, nil
}

// WaitRun blocks until the run finishes, the budget elapses, or ctx is
// done, then returns the current snapshot. A budget expiry is not an
// error; the snapshot simply still reads RUNNING.
func (s *Service) WaitRun(ctx context.Context, id string, budget time.Duration) (RunView, error) {
	rec, ok := s.runs.get(id)
	if !ok {
		return RunView{}, ErrRunNotFound
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-rec.done:
	case <-timer.C:
	case <-ctx.Done():
		return RunView{}, ctx.Err()
	}

	view, ok := s.runs.view(id)
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	return view, nil
}

// AbortRun requests termination of a running session. The loop honors
// the request between iterations; an in-flight tool call completes
// first, so the run may take one more dispatch to reach FAILED.
func (s *Service) AbortRun(id string) error {
	rec, ok := s.runs.get(id)
	if !ok {
		return ErrRunNotFound
	}

	rec.session.Abort()
	slog.Info("run abort requested", slog.String("run_id", id))
	return nil
}

// RunEvents returns the event buffer of a run for streaming.
func (s *Service) RunEvents(id string) (*agent.EventBuffer, bool) {
	rec, ok := s.runs.get(id)
	if !ok {
		return nil, false
	}
	return rec.events, true
}

// Tools returns the declared tool definitions, in registration order.
func (s *Service) Tools() []llm.ToolDef {
	return s.tools
}

// ActiveRuns counts currently executing sessions.
func (s *Service) ActiveRuns() int {
	return s.runs.active()
}

// executeRun drives one session to completion and feeds the optional
// sinks. Runs on its own goroutine with a background context: the
// submitting request's lifetime does not bound the session.
func (s *Service) executeRun(rec *runRecord) {
	ctx, span := sentinelTracer.Start(context.Background(), "sentinel.run",
		trace.WithAttributes(attribute.String("run_id", rec.id)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			slog.Error("run goroutine panic recovered",
				slog.String("run_id", rec.id),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			span.SetStatus(codes.Error, "panic")
			s.runs.finish(rec.id, nil, fmt.Errorf("internal error: %v", r))
			rec.events.Close()
		}
	}()

	report, err := s.runner.Run(ctx, rec.session, rec.events)

	s.runs.finish(rec.id, report, err)
	rec.events.Close()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	} else {
		span.SetAttributes(attribute.Bool("degraded", report.Degraded))
	}

	s.afterRun(ctx, rec, report, err)
}

// afterRun feeds the optional run log and report archive. Both are
// best-effort: failures are logged and never reach the run record.
func (s *Service) afterRun(ctx context.Context, rec *runRecord, report *agent.Report, runErr error) {
	if s.runLog == nil && s.archive == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	view, ok := s.runs.view(rec.id)
	if !ok {
		// Swept already; nothing depends on the sinks seeing it.
		return
	}

	if s.runLog != nil {
		outcome := "done"
		switch {
		case runErr != nil:
			outcome = "failed"
		case report != nil && report.Degraded:
			outcome = "done_degraded"
		}

		iterations := rec.session.Iteration
		if report != nil {
			iterations = report.Iterations
		}

		trail := rec.session.Trail()
		failedCalls := 0
		for _, obs := range trail {
			if !obs.Success {
				failedCalls++
			}
		}

		sum := runlog.RunSummary{
			RunID:           rec.id,
			SessionID:       rec.session.ID,
			Outcome:         outcome,
			Degraded:        report != nil && report.Degraded,
			Iterations:      iterations,
			ToolCalls:       len(trail),
			FailedToolCalls: failedCalls,
			QuestionChars:   len(rec.question),
			Duration:        view.FinishedAt.Sub(view.CreatedAt),
			FinishedAt:      view.FinishedAt,
		}
		if err := s.runLog.RecordRun(ctx, sum); err != nil {
			slog.Warn("run log write failed",
				slog.String("run_id", rec.id),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.archive != nil && report != nil {
		if err := s.archive.ArchiveReport(ctx, report); err != nil {
			slog.Warn("report archive failed",
				slog.String("run_id", rec.id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close releases the optional sinks and every registered closer, in
// reverse registration order. Errors are collected, not short-circuited.
func (s *Service) Close() error {
	var errs []error

	if s.runLog != nil {
		s.runLog.Close()
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing archive: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
