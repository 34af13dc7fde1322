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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

var agentTracer = otel.Tracer("aleutian.sentinel")

// =============================================================================
// Controller
// =============================================================================

// Controller drives sessions through the bounded planning state machine.
//
// Description:
//
//	One Controller serves every session in the process; per-session
//	mutable state lives entirely in the Session passed to Run. The loop
//	is strictly sequential within a session: one model turn, then its
//	tool calls one at a time, then the next turn. Reaching the iteration
//	cap is not a failure; the session finalizes with whatever evidence
//	it gathered. Hard failures are reserved for an exhausted retry
//	budget against the model, an abort or cancellation, and synthesis
//	with nothing to fall back on.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type Controller struct {
	client      llm.Client
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	cfg         config.AgentConfig
}

// NewController builds a Controller.
func NewController(client llm.Client, dispatcher *Dispatcher, synthesizer *Synthesizer, cfg config.AgentConfig) (*Controller, error) {
	if client == nil {
		return nil, errors.New("controller: llm client is nil")
	}
	if dispatcher == nil {
		return nil, errors.New("controller: dispatcher is nil")
	}
	if synthesizer == nil {
		return nil, errors.New("controller: synthesizer is nil")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("controller: max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.MalformedRetries < 0 {
		return nil, fmt.Errorf("controller: malformed retries must not be negative, got %d", cfg.MalformedRetries)
	}
	return &Controller{client: client, dispatcher: dispatcher, synthesizer: synthesizer, cfg: cfg}, nil
}

// decision is one parsed planning turn. Tool calls win over text when a
// turn carries both; text alone is a final answer attempt.
type decision struct {
	toolCalls []llm.ToolCallResponse
	finalText string
}

// Run executes one session to a terminal state and returns its report.
//
// Inputs:
//   - ctx: Session-scoped context. Cancellation is honored between
//     iterations, never mid-tool-call.
//   - s: A freshly assembled session in the planning state. Owned by
//     this call until it returns.
//   - events: Observer feed for the run. May be nil.
//
// Outputs:
//   - *Report: The finished report when the session reaches its done
//     state, possibly degraded.
//   - error: The terminal failure otherwise. Abort surfaces as
//     ErrAborted; everything else carries its taxonomy class.
func (c *Controller) Run(ctx context.Context, s *Session, events *EventBuffer) (*Report, error) {
	if s == nil {
		return nil, classifyf(ClassValidation, "session is nil")
	}
	if s.State != StatePlanning {
		return nil, classifyf(ClassValidation, "session %s already ran (state %s)", s.ID, s.State)
	}

	ctx, span := agentTracer.Start(ctx, "agent.Run",
		trace.WithAttributes(attribute.String("session.id", s.ID)))
	defer span.End()

	slog.Info("session started",
		slog.String("session_id", s.ID),
		slog.Int("max_iterations", c.cfg.MaxIterations),
		slog.String("locale", s.Facts.Locale))

	var (
		pending   []llm.ToolCallResponse
		finalText string
		limitHit  bool
	)

	for {
		switch s.State {
		case StatePlanning:
			if err := interrupted(ctx, s); err != nil {
				return c.fail(s, events, err)
			}
			if s.Iteration >= c.cfg.MaxIterations {
				limitHit = true
				events.Emit(EventIterationLimit, map[string]any{
					"session_id": s.ID,
					"iterations": s.Iteration,
				})
				slog.Warn("iteration cap reached, finalizing with partial evidence",
					slog.String("session_id", s.ID),
					slog.Int("iterations", s.Iteration))
				c.transition(s, StateFinalizing, events)
				continue
			}
			s.Iteration++

			d, err := c.plan(ctx, s)
			if err != nil {
				return c.fail(s, events, err)
			}
			if len(d.toolCalls) > 0 {
				pending = d.toolCalls
				c.transition(s, StateExecutingTool, events)
				continue
			}
			finalText = d.finalText
			c.transition(s, StateFinalizing, events)

		case StateExecutingTool:
			c.execute(ctx, s, pending, events)
			pending = nil
			c.transition(s, StatePlanning, events)

		case StateFinalizing:
			report, err := c.synthesizer.Synthesize(ctx, s, finalText, limitHit)
			if err != nil {
				return c.fail(s, events, err)
			}
			c.transition(s, StateDone, events)

			outcome := "done"
			if report.Degraded {
				outcome = "done_degraded"
			}
			recordSessionOutcome(outcome, s.Iteration)
			events.Emit(EventReportReady, map[string]any{
				"session_id": s.ID,
				"degraded":   report.Degraded,
				"iterations": s.Iteration,
			})
			slog.Info("session finished",
				slog.String("session_id", s.ID),
				slog.Int("iterations", s.Iteration),
				slog.Bool("degraded", report.Degraded))
			return report, nil

		default:
			return nil, classifyf(ClassValidation, "session %s in unexpected state %s", s.ID, s.State)
		}
	}
}

// interrupted checks the between-iterations stop conditions: an abort
// request or a dead context.
func interrupted(ctx context.Context, s *Session) error {
	if s.Aborted() {
		return fmt.Errorf("session %s: %w", s.ID, ErrAborted)
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Classify(ClassTimeout, fmt.Errorf("session %s deadline exceeded: %w", s.ID, err))
		}
		return fmt.Errorf("session %s context canceled: %w", s.ID, err)
	}
	return nil
}

// plan runs one model turn against the transcript and parses the outcome.
//
// The model is unreliable by contract: a provider failure or a turn
// that is neither a tool call nor final text consumes one attempt from
// the per-turn retry budget. Retrying re-sends the identical transcript
// so a replayed session stays deterministic.
func (c *Controller) plan(ctx context.Context, s *Session) (*decision, error) {
	attempts := 1 + c.cfg.MalformedRetries
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		mctx, cancel := context.WithTimeout(ctx, c.cfg.ModelTimeout())
		result, err := c.client.ChatWithTools(mctx, s.Messages, planningParams(), c.dispatcher.Definitions())
		cancel()

		if err != nil {
			lastErr = err
			slog.Warn("model turn failed",
				slog.String("session_id", s.ID),
				slog.Int("iteration", s.Iteration),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				// Parent context is gone; retrying cannot succeed.
				break
			}
			continue
		}

		if len(result.ToolCalls) > 0 {
			return &decision{toolCalls: result.ToolCalls}, nil
		}
		if text := strings.TrimSpace(result.Content); text != "" {
			return &decision{finalText: text}, nil
		}

		agentMalformedTurnsTotal.Inc()
		lastErr = errors.New("turn was neither a tool call nor final text")
		slog.Warn("malformed model turn",
			slog.String("session_id", s.ID),
			slog.Int("iteration", s.Iteration),
			slog.Int("attempt", attempt),
			slog.Int("attempts_allowed", attempts))
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, Classify(ClassTimeout,
			fmt.Errorf("planning turn timed out after %d attempts: %w", attempts, lastErr))
	}
	return nil, Classify(ClassProvider,
		fmt.Errorf("planning turn failed after %d attempts: %w", attempts, lastErr))
}

// execute dispatches pending tool calls sequentially and appends the
// assistant turn plus every observation to the transcript.
//
// The assistant message carrying the tool calls is appended before any
// tool result so a replayed transcript never holds an orphaned result.
func (c *Controller) execute(ctx context.Context, s *Session, calls []llm.ToolCallResponse, events *EventBuffer) {
	s.Messages = append(s.Messages, llm.ChatMessage{Role: "assistant", ToolCalls: calls})

	for _, call := range calls {
		events.Emit(EventToolDispatch, map[string]any{
			"session_id": s.ID,
			"tool":       call.Name,
			"call_id":    call.ID,
		})

		obs := c.dispatcher.Dispatch(ctx, call)
		s.Observations = append(s.Observations, obs)

		events.Emit(EventToolResult, map[string]any{
			"session_id":  s.ID,
			"tool":        obs.Tool,
			"success":     obs.Success,
			"error_class": string(obs.ErrorClass),
		})

		s.Messages = append(s.Messages, llm.ChatMessage{
			Role:       "tool",
			Content:    obs.promptText(),
			ToolCallID: call.ID,
		})
	}
}

// transition moves the session to a new state, recording the edge.
func (c *Controller) transition(s *Session, to State, events *EventBuffer) {
	from := s.State
	s.State = to
	recordStateTransition(from, to)
	events.Emit(EventStateTransition, map[string]any{
		"session_id": s.ID,
		"from":       string(from),
		"to":         string(to),
		"iteration":  s.Iteration,
	})
	slog.Debug("state transition",
		slog.String("session_id", s.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("iteration", s.Iteration))
}

// fail moves the session to the failed state and surfaces err.
func (c *Controller) fail(s *Session, events *EventBuffer, err error) (*Report, error) {
	c.transition(s, StateFailed, events)
	recordSessionOutcome("failed", s.Iteration)
	slog.Error("session failed",
		slog.String("session_id", s.ID),
		slog.Int("iteration", s.Iteration),
		slog.String("error_class", string(ClassOf(err))),
		slog.String("error", err.Error()))
	return nil, err
}

// planningParams pins planning at zero temperature so a replayed
// transcript takes the same path.
func planningParams() llm.GenerationParams {
	temp := float32(0.0)
	return llm.GenerationParams{Temperature: &temp}
}
