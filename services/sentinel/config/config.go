// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the Sentinel runtime configuration.
//
// Description:
//
//	Two embedded YAML documents ship with the binary: defaults.yaml with
//	every tunable knob, and schema.yaml with the declared read surface of
//	the case store. An operator file can replace the defaults at startup;
//	missing fields fall back to the embedded values. All loaded structures
//	are immutable after load and safe for concurrent reads.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Configuration
// =============================================================================

//go:embed defaults.yaml
var defaultConfigYAML []byte

// MaxYAMLFileSize bounds any YAML document accepted by this package.
const MaxYAMLFileSize = 1 << 20

var configTracer = otel.Tracer("aleutian.sentinel")

// validate is the shared struct validator for configuration types.
var validate = validator.New()

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the root Sentinel configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Agent controls the reasoning loop bounds and timeouts.
	Agent AgentConfig `yaml:"agent"`

	// Retrieval controls chunking and hybrid ranking.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Tools controls per-tool execution caps.
	Tools ToolsConfig `yaml:"tools"`

	// Report controls final report rendering.
	Report ReportConfig `yaml:"report"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	// MaxIterations is the hard cap on reasoning iterations per session.
	// On reaching the cap the loop synthesizes from whatever evidence it
	// has instead of erroring out.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1,lte=64"`

	// MalformedRetries is how many times the loop re-prompts after model
	// output that is neither a valid tool call nor a final answer.
	MalformedRetries int `yaml:"malformed_retries" validate:"gte=0,lte=10"`

	// ToolTimeoutSeconds is the per-call timeout for a single tool execution.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds" validate:"gte=1,lte=600"`

	// ModelTimeoutSeconds is the timeout for one reasoning-model call.
	ModelTimeoutSeconds int `yaml:"model_timeout_seconds" validate:"gte=1,lte=900"`
}

// ToolTimeout returns the tool execution timeout as a duration.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutSeconds) * time.Second
}

// ModelTimeout returns the reasoning-model call timeout as a duration.
func (a AgentConfig) ModelTimeout() time.Duration {
	return time.Duration(a.ModelTimeoutSeconds) * time.Second
}

// RetrievalConfig controls passage chunking and hybrid ranking.
type RetrievalConfig struct {
	// ChunkSize is the character window per passage chunk.
	ChunkSize int `yaml:"chunk_size" validate:"gte=100,lte=8000"`

	// ChunkOverlap is the character overlap between neighboring chunks.
	// Must be smaller than ChunkSize.
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0"`

	// TopK is the number of fused evidence chunks returned to the agent.
	TopK int `yaml:"top_k" validate:"gte=1,lte=50"`

	// Fusion holds the score combination weights and BM25 parameters.
	Fusion FusionConfig `yaml:"fusion"`
}

// FusionConfig holds the hybrid score fusion weights and BM25 shape
// parameters. The weights apply to max-normalized component scores and
// must sum to 1.0.
type FusionConfig struct {
	// SemanticWeight scales the normalized embedding similarity.
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0,lte=1"`

	// LexicalWeight scales the normalized BM25 score.
	LexicalWeight float64 `yaml:"lexical_weight" validate:"gte=0,lte=1"`

	// BM25K1 is the Okapi BM25 term-frequency saturation parameter.
	BM25K1 float64 `yaml:"bm25_k1" validate:"gt=0,lte=10"`

	// BM25B is the Okapi BM25 length-normalization parameter.
	BM25B float64 `yaml:"bm25_b" validate:"gte=0,lte=1"`
}

// ToolsConfig groups per-tool execution caps.
type ToolsConfig struct {
	// Query caps database tool results.
	Query QueryToolConfig `yaml:"query"`

	// Search caps external search calls.
	Search SearchToolConfig `yaml:"search"`
}

// QueryToolConfig caps the database query tool.
type QueryToolConfig struct {
	// MaxRows is the row cap applied to every result set.
	MaxRows int `yaml:"max_rows" validate:"gte=1,lte=10000"`

	// MaxResultBytes is the serialized-size cap applied after the row cap.
	// Truncation at either cap is flagged in the observation, never silent.
	MaxResultBytes int `yaml:"max_result_bytes" validate:"gte=512,lte=1048576"`

	// RegenerationAttempts is how many times a rejected SQL statement may
	// be regenerated before the tool reports failure.
	RegenerationAttempts int `yaml:"regeneration_attempts" validate:"gte=0,lte=5"`
}

// SearchToolConfig caps the external search tool.
type SearchToolConfig struct {
	// MaxResults is the number of search hits requested per call.
	MaxResults int `yaml:"max_results" validate:"gte=1,lte=20"`

	// TimeoutSeconds bounds one search provider round trip.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=1,lte=120"`

	// RequestsPerMinute is the client-side budget for the search provider.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=1,lte=600"`
}

// Timeout returns the search round-trip timeout as a duration.
func (s SearchToolConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ReportConfig controls final report rendering.
type ReportConfig struct {
	// Language is the language the final report is written in (BCP 47).
	Language string `yaml:"language" validate:"required"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultMaxIterations is the default reasoning iteration cap.
	DefaultMaxIterations = 8

	// DefaultMalformedRetries is the default malformed-output retry budget.
	DefaultMalformedRetries = 2

	// DefaultToolTimeoutSeconds is the default per-tool-call timeout.
	DefaultToolTimeoutSeconds = 30

	// DefaultModelTimeoutSeconds is the default reasoning-model call timeout.
	DefaultModelTimeoutSeconds = 120

	// DefaultChunkSize is the default passage chunk window in characters.
	DefaultChunkSize = 800

	// DefaultChunkOverlap is the default overlap between neighboring chunks.
	DefaultChunkOverlap = 100

	// DefaultTopK is the default fused evidence count.
	DefaultTopK = 5

	// DefaultSemanticWeight is the default weight of the semantic ranking.
	DefaultSemanticWeight = 0.6

	// DefaultLexicalWeight is the default weight of the lexical ranking.
	DefaultLexicalWeight = 0.4

	// DefaultBM25K1 is the default BM25 term-frequency saturation parameter.
	DefaultBM25K1 = 1.5

	// DefaultBM25B is the default BM25 length-normalization parameter.
	DefaultBM25B = 0.75

	// DefaultQueryMaxRows is the default database result row cap.
	DefaultQueryMaxRows = 50

	// DefaultQueryMaxResultBytes is the default database result byte cap.
	DefaultQueryMaxResultBytes = 8192

	// DefaultRegenerationAttempts is the default SQL regeneration budget.
	DefaultRegenerationAttempts = 1

	// DefaultSearchMaxResults is the default search hit count per call.
	DefaultSearchMaxResults = 5

	// DefaultSearchTimeoutSeconds is the default search round-trip timeout.
	DefaultSearchTimeoutSeconds = 15

	// DefaultSearchRequestsPerMinute is the default search provider budget.
	DefaultSearchRequestsPerMinute = 30

	// DefaultReportLanguage is the default report language.
	DefaultReportLanguage = "pt-BR"
)

// fusionWeightTolerance is the allowed deviation of the weight sum from 1.0.
const fusionWeightTolerance = 1e-9

// =============================================================================
// Singleton Config
// =============================================================================

var (
	configMu      sync.RWMutex
	configOnce    sync.Once
	cachedConfig  *Config
	configLoadErr error
)

// GetConfig returns the cached Sentinel configuration.
//
// Description:
//
//	Loads the embedded defaults on first call and caches the result.
//	SetConfig (called by server startup when an operator file is given)
//	replaces the cached value before the first GetConfig.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Config - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetConfig(ctx context.Context) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetConfig: ctx must not be nil")
	}

	configMu.RLock()
	if cachedConfig != nil || configLoadErr != nil {
		cfg, err := cachedConfig, configLoadErr
		configMu.RUnlock()
		return cfg, err
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if cachedConfig != nil || configLoadErr != nil {
		return cachedConfig, configLoadErr
	}

	configOnce.Do(func() {
		cachedConfig, configLoadErr = LoadConfig(ctx, defaultConfigYAML)
	})

	return cachedConfig, configLoadErr
}

// SetConfig installs an externally loaded configuration.
//
// Description:
//
//	Used by server startup after LoadConfigFile and by tests that need
//	non-default values. Subsequent GetConfig calls return cfg.
//
// Thread Safety: Safe for concurrent use.
func SetConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = cfg
	configLoadErr = nil
}

// ResetConfig resets the cached config for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = nil
	configLoadErr = nil
	configOnce = sync.Once{}
}

// LoadConfigFile loads and validates a configuration from an operator file.
//
// Inputs:
//
//	ctx - Context for tracing.
//	path - Filesystem path to a YAML configuration file.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if the file cannot be read, parsed, or validated.
func LoadConfigFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadConfigFile: reading %s: %w", path, err)
	}
	cfg, err := LoadConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("LoadConfigFile: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig loads and validates a Config from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies embedded defaults for missing fields, runs
//	struct tag validation, and checks cross-field constraints (fusion
//	weights sum to 1.0, chunk overlap smaller than chunk size).
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadConfig(ctx context.Context, data []byte) (*Config, error) {
	_, span := configTracer.Start(ctx, "config.LoadConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: parsing YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: validation: %w", err)
	}
	if err := validateConfigCrossFields(&cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("max_iterations", cfg.Agent.MaxIterations),
		attribute.Int("top_k", cfg.Retrieval.TopK),
		attribute.Float64("semantic_weight", cfg.Retrieval.Fusion.SemanticWeight),
		attribute.Float64("lexical_weight", cfg.Retrieval.Fusion.LexicalWeight),
		attribute.Int("query_max_rows", cfg.Tools.Query.MaxRows),
	)

	slog.Info("sentinel config loaded",
		slog.Int("max_iterations", cfg.Agent.MaxIterations),
		slog.Int("top_k", cfg.Retrieval.TopK),
		slog.Float64("semantic_weight", cfg.Retrieval.Fusion.SemanticWeight),
		slog.Float64("lexical_weight", cfg.Retrieval.Fusion.LexicalWeight),
		slog.Int("query_max_rows", cfg.Tools.Query.MaxRows),
		slog.String("report_language", cfg.Report.Language),
	)

	return &cfg, nil
}

// applyConfigDefaults fills zero-valued fields with embedded defaults.
func applyConfigDefaults(cfg *Config) {
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.MalformedRetries <= 0 {
		cfg.Agent.MalformedRetries = DefaultMalformedRetries
	}
	if cfg.Agent.ToolTimeoutSeconds <= 0 {
		cfg.Agent.ToolTimeoutSeconds = DefaultToolTimeoutSeconds
	}
	if cfg.Agent.ModelTimeoutSeconds <= 0 {
		cfg.Agent.ModelTimeoutSeconds = DefaultModelTimeoutSeconds
	}

	if cfg.Retrieval.ChunkSize <= 0 {
		cfg.Retrieval.ChunkSize = DefaultChunkSize
	}
	if cfg.Retrieval.ChunkOverlap <= 0 {
		cfg.Retrieval.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.Fusion.SemanticWeight == 0 && cfg.Retrieval.Fusion.LexicalWeight == 0 {
		cfg.Retrieval.Fusion.SemanticWeight = DefaultSemanticWeight
		cfg.Retrieval.Fusion.LexicalWeight = DefaultLexicalWeight
	}
	if cfg.Retrieval.Fusion.BM25K1 <= 0 {
		cfg.Retrieval.Fusion.BM25K1 = DefaultBM25K1
	}
	if cfg.Retrieval.Fusion.BM25B <= 0 {
		cfg.Retrieval.Fusion.BM25B = DefaultBM25B
	}

	if cfg.Tools.Query.MaxRows <= 0 {
		cfg.Tools.Query.MaxRows = DefaultQueryMaxRows
	}
	if cfg.Tools.Query.MaxResultBytes <= 0 {
		cfg.Tools.Query.MaxResultBytes = DefaultQueryMaxResultBytes
	}
	if cfg.Tools.Query.RegenerationAttempts <= 0 {
		cfg.Tools.Query.RegenerationAttempts = DefaultRegenerationAttempts
	}

	if cfg.Tools.Search.MaxResults <= 0 {
		cfg.Tools.Search.MaxResults = DefaultSearchMaxResults
	}
	if cfg.Tools.Search.TimeoutSeconds <= 0 {
		cfg.Tools.Search.TimeoutSeconds = DefaultSearchTimeoutSeconds
	}
	if cfg.Tools.Search.RequestsPerMinute <= 0 {
		cfg.Tools.Search.RequestsPerMinute = DefaultSearchRequestsPerMinute
	}

	if cfg.Report.Language == "" {
		cfg.Report.Language = DefaultReportLanguage
	}
}

// validateConfigCrossFields checks constraints that span multiple fields.
func validateConfigCrossFields(cfg *Config) error {
	sum := cfg.Retrieval.Fusion.SemanticWeight + cfg.Retrieval.Fusion.LexicalWeight
	if diff := sum - 1.0; diff > fusionWeightTolerance || diff < -fusionWeightTolerance {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.6f (semantic=%.3f lexical=%.3f)",
			sum, cfg.Retrieval.Fusion.SemanticWeight, cfg.Retrieval.Fusion.LexicalWeight)
	}
	if cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			cfg.Retrieval.ChunkOverlap, cfg.Retrieval.ChunkSize)
	}
	return nil
}
