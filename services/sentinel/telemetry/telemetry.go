// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry trace pipeline.
//
// The pipeline is disabled unless explicitly switched on: the default
// mode installs the W3C propagator and nothing else, so span creation
// throughout the codebase stays a no-op. The otlp mode ships spans to a
// collector over OTLP/HTTP; the stdout mode pretty-prints them for
// local debugging.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Trace pipeline modes.
const (
	// ModeNone installs the propagator only. Spans are no-ops.
	ModeNone = "none"

	// ModeStdout pretty-prints spans to stderr for local debugging.
	ModeStdout = "stdout"

	// ModeOTLP exports spans to a collector over OTLP/HTTP.
	ModeOTLP = "otlp"
)

const (
	defaultServiceName = "aleutian-sentinel"
	defaultEndpoint    = "localhost:4318"
)

// Config selects the trace pipeline.
type Config struct {
	// Mode is one of the Mode* constants. Empty means ModeNone.
	Mode string

	// Endpoint is the OTLP/HTTP collector address (host:port). Only
	// read in ModeOTLP. Empty means localhost:4318.
	Endpoint string

	// ServiceName tags every exported span. Empty means
	// aleutian-sentinel.
	ServiceName string

	// ServiceVersion tags every exported span. Empty means dev.
	ServiceVersion string
}

// FromEnv builds a Config from the environment.
//
//	SENTINEL_TRACE_MODE          - none (default), stdout, or otlp
//	OTEL_EXPORTER_OTLP_ENDPOINT  - collector host:port for otlp mode
func FromEnv() Config {
	return Config{
		Mode:     os.Getenv("SENTINEL_TRACE_MODE"),
		Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// Setup installs the global propagator and, for the exporting modes,
// the tracer provider.
//
// Description:
//
//	The W3C trace-context and baggage propagators are always installed
//	so inbound request context flows through regardless of mode. The
//	returned shutdown function flushes and stops the provider; it is
//	never nil and is safe to call in every mode.
//
// Outputs:
//   - func(context.Context) error: Shutdown hook for process exit.
//   - error: Exporter construction failure or an unknown mode.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Mode {
	case "", ModeNone:
		slog.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil

	case ModeStdout:
		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("Setup: creating stdout exporter: %w", err)
		}
		exporter = exp

	case ModeOTLP:
		if cfg.Endpoint == "" {
			cfg.Endpoint = defaultEndpoint
		}
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("Setup: creating OTLP exporter: %w", err)
		}
		exporter = exp

	default:
		return nil, fmt.Errorf("Setup: unknown trace mode %q", cfg.Mode)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("Setup: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing initialized",
		slog.String("mode", cfg.Mode),
		slog.String("endpoint", cfg.Endpoint),
		slog.String("service", cfg.ServiceName),
	)
	return tp.Shutdown, nil
}
