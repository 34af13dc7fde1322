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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
)

// =============================================================================
// Tool Contract
// =============================================================================

// Tool is an executable capability the planner may invoke.
//
// Implementations must be safe for concurrent use: a single registered
// tool instance serves every session in the process.
type Tool interface {
	// Definition returns the schema advertised to the model.
	Definition() llm.ToolDef

	// Execute runs the tool with validated arguments and returns a
	// plain-text payload for the observation trail.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher validates and executes tool calls under a per-call timeout.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type Dispatcher struct {
	order   []string
	tools   map[string]Tool
	timeout time.Duration
}

// NewDispatcher builds a dispatcher over a fixed tool set.
// Registration order is preserved in Definitions.
func NewDispatcher(timeout time.Duration, tools ...Tool) (*Dispatcher, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("dispatcher: timeout must be positive, got %v", timeout)
	}
	d := &Dispatcher{
		tools:   make(map[string]Tool, len(tools)),
		timeout: timeout,
	}
	for _, t := range tools {
		name := t.Definition().Function.Name
		if name == "" {
			return nil, errors.New("dispatcher: tool with empty name")
		}
		if _, dup := d.tools[name]; dup {
			return nil, fmt.Errorf("dispatcher: duplicate tool %q", name)
		}
		d.tools[name] = t
		d.order = append(d.order, name)
	}
	return d, nil
}

// Definitions returns the advertised tool schemas in registration order.
func (d *Dispatcher) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.tools[name].Definition())
	}
	return defs
}

// Has reports whether a tool is registered under name.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// Dispatch validates and executes one tool call, returning an observation
// either way.
//
// Description:
//
//	Rejections happen before execution: an unknown tool name, arguments
//	that are not a JSON object, or arguments that violate the declared
//	schema produce a failed observation without touching the tool. Valid
//	calls run under the dispatcher's timeout; a deadline hit is recorded
//	as a timeout, any other failure keeps the tool's own classification
//	or falls back to a provider failure.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCallResponse) Observation {
	ctx, span := agentTracer.Start(ctx, "agent.Dispatch",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	slog.Debug("dispatching tool call",
		slog.String("tool", call.Name),
		slog.String("arguments", llm.SafeLogString(call.ArgumentsString())))

	start := time.Now()
	obs := Observation{Tool: call.Name, Timestamp: start.UTC()}

	tool, ok := d.tools[call.Name]
	if !ok {
		return d.reject(obs, start, classifyf(ClassValidation, "tool %q is not registered", call.Name))
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return d.reject(obs, start, Classify(ClassValidation, err))
	}
	if err := validateArgs(tool.Definition().Function.Parameters, args); err != nil {
		return d.reject(obs, start, Classify(ClassValidation, err))
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	payload, err := tool.Execute(execCtx, args)
	elapsed := time.Since(start)
	if err != nil {
		class := ClassOf(err)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			class = ClassTimeout
			err = classifyf(ClassTimeout, "tool %s exceeded %v", call.Name, d.timeout)
		case class == ClassNone:
			class = ClassProvider
			err = Classify(ClassProvider, err)
		}
		obs.Error = err.Error()
		obs.ErrorClass = class
		obs.Elapsed = elapsed
		span.RecordError(err)
		recordDispatch(call.Name, class, elapsed.Seconds())
		slog.Warn("tool call failed",
			slog.String("tool", call.Name),
			slog.String("error_class", string(class)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return obs
	}

	obs.Success = true
	obs.Payload = payload
	obs.Elapsed = elapsed
	recordDispatch(call.Name, ClassNone, elapsed.Seconds())
	slog.Info("tool call succeeded",
		slog.String("tool", call.Name),
		slog.Duration("elapsed", elapsed),
		slog.Int("payload_bytes", len(payload)))
	return obs
}

// reject finalizes a pre-execution rejection observation.
func (d *Dispatcher) reject(obs Observation, start time.Time, err error) Observation {
	obs.Error = err.Error()
	obs.ErrorClass = ClassOf(err)
	obs.Elapsed = time.Since(start)
	recordDispatch(obs.Tool, obs.ErrorClass, obs.Elapsed.Seconds())
	slog.Warn("tool call rejected",
		slog.String("tool", obs.Tool),
		slog.String("error", err.Error()))
	return obs
}

// =============================================================================
// Argument Validation
// =============================================================================

// decodeArgs parses raw tool-call arguments into a JSON object.
// Empty arguments decode as an empty object.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// validateArgs checks decoded arguments against the declared schema:
// required fields present, no undeclared fields, and types matching.
func validateArgs(params llm.ToolParameters, args map[string]any) error {
	for _, name := range params.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	for name, value := range args {
		def, ok := params.Properties[name]
		if !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
		if err := checkArgType(name, def.Type, value); err != nil {
			return err
		}
	}
	return nil
}

// checkArgType verifies one argument against its declared JSON type.
// JSON numbers decode as float64, so integer arguments are float64
// values with an integral part only.
func checkArgType(name, declared string, value any) error {
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	}
	return nil
}

// argString extracts a string argument.
func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// argInt extracts an integer argument with a fallback default.
func argInt(args map[string]any, name string, fallback int) int {
	f, ok := args[name].(float64)
	if !ok {
		return fallback
	}
	return int(f)
}
