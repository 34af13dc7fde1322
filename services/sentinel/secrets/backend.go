// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets retrieves provider credentials and keeps the at-rest
// copies sealed in locked memory.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrSecretNotFound indicates the requested secret is not configured.
var ErrSecretNotFound = errors.New("secret not found")

// Well-known secret keys used across the service.
const (
	// KeySearchAPI is the external search provider key.
	KeySearchAPI = "TAVILY_API_KEY"

	// KeyOpenAI is the OpenAI API key.
	KeyOpenAI = "OPENAI_API_KEY"

	// KeyAnthropic is the Anthropic API key.
	KeyAnthropic = "ANTHROPIC_API_KEY"

	// KeyInflux is the run log sink token.
	KeyInflux = "INFLUXDB_TOKEN"
)

// Backend is the interface for retrieving secrets.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// GetSecret retrieves a secret by key.
	//
	// Inputs:
	//   - ctx: Context for cancellation.
	//   - key: The secret key name.
	//
	// Outputs:
	//   - string: The secret value.
	//   - error: Non-nil if the secret cannot be retrieved (including
	//     ErrSecretNotFound).
	GetSecret(ctx context.Context, key string) (string, error)
}

// =============================================================================
// Environment Backend
// =============================================================================

// EnvBackend reads secrets from environment variables with TTL-based caching.
//
// Description:
//
//	Reads secrets from os.Getenv and caches them for the configured TTL.
//	This avoids repeated syscalls while allowing secret rotation by clearing
//	the cache after the TTL expires.
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type EnvBackend struct {
	mu    sync.RWMutex
	cache map[string]cachedSecret
	ttl   time.Duration
}

type cachedSecret struct {
	value     string
	fetchedAt int64 // Unix milliseconds UTC
}

// NewEnvBackend creates a secret backend that reads from environment variables.
//
// Inputs:
//   - ttl: How long to cache secrets before re-reading from the environment.
//     Use 0 for no caching (re-read every time).
//
// Outputs:
//   - *EnvBackend: Configured backend.
func NewEnvBackend(ttl time.Duration) *EnvBackend {
	return &EnvBackend{
		cache: make(map[string]cachedSecret),
		ttl:   ttl,
	}
}

// GetSecret retrieves a secret from the environment, using the cache if fresh.
//
// Inputs:
//   - ctx: Context for cancellation (environment reads are fast, but respected).
//   - key: The environment variable name.
//
// Outputs:
//   - string: The secret value.
//   - error: ErrSecretNotFound if the environment variable is not set or empty.
func (e *EnvBackend) GetSecret(ctx context.Context, key string) (string, error) {
	if ctx.Err() != nil {
		return "", fmt.Errorf("retrieving secret %q: %w", key, ctx.Err())
	}

	now := time.Now().UnixMilli()

	// Check cache first
	if e.ttl > 0 {
		e.mu.RLock()
		if cached, ok := e.cache[key]; ok {
			age := time.Duration(now-cached.fetchedAt) * time.Millisecond
			if age < e.ttl {
				e.mu.RUnlock()
				if cached.value == "" {
					return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
				}
				return cached.value, nil
			}
		}
		e.mu.RUnlock()
	}

	// Read from environment
	value := os.Getenv(key)

	// Update cache
	if e.ttl > 0 {
		e.mu.Lock()
		e.cache[key] = cachedSecret{value: value, fetchedAt: now}
		e.mu.Unlock()
	}

	if value == "" {
		return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}

	return value, nil
}

// =============================================================================
// File Backend
// =============================================================================

// DefaultSecretsDir is where container runtimes mount secret files.
const DefaultSecretsDir = "/run/secrets"

// FileBackend reads secrets from files in a directory.
//
// Description:
//
//	Resolves key FOO_BAR to <dir>/foo_bar, the naming convention used by
//	Podman and Docker secret mounts. Trailing whitespace is trimmed so a
//	secret file may end with a newline.
//
// Thread Safety: Safe for concurrent use (stateless reads).
type FileBackend struct {
	dir string
}

// NewFileBackend creates a secret backend that reads files under dir.
//
// Inputs:
//   - dir: Directory holding one file per secret. Empty selects
//     DefaultSecretsDir.
func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = DefaultSecretsDir
	}
	return &FileBackend{dir: dir}
}

// GetSecret reads the secret file for key.
//
// Outputs:
//   - string: The trimmed file content.
//   - error: ErrSecretNotFound if the file does not exist or is empty.
func (f *FileBackend) GetSecret(ctx context.Context, key string) (string, error) {
	if ctx.Err() != nil {
		return "", fmt.Errorf("retrieving secret %q: %w", key, ctx.Err())
	}

	path := filepath.Join(f.dir, strings.ToLower(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
		}
		return "", fmt.Errorf("secret %q: reading %s: %w", key, path, err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}

	return value, nil
}

// =============================================================================
// Chain Backend
// =============================================================================

// ChainBackend tries each backend in order and returns the first hit.
//
// Description:
//
//	ErrSecretNotFound advances to the next backend; any other error stops
//	the chain immediately, so a misconfigured backend is not silently
//	skipped.
//
// Thread Safety: Safe for concurrent use when all members are.
type ChainBackend struct {
	backends []Backend
}

// NewChainBackend creates a backend that consults members in order.
func NewChainBackend(backends ...Backend) *ChainBackend {
	return &ChainBackend{backends: backends}
}

// GetSecret tries each member backend in order.
func (c *ChainBackend) GetSecret(ctx context.Context, key string) (string, error) {
	for _, b := range c.backends {
		value, err := b.GetSecret(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
}

// =============================================================================
// Backend Selection
// =============================================================================

// NewBackend selects a backend from the SENTINEL_SECRET_BACKEND variable.
//
// Description:
//
//	"env" reads environment variables only, "file" reads container secret
//	files only. The default consults the environment first and falls back
//	to /run/secrets, which covers both local development and container
//	deployments without configuration.
//
// Inputs:
//   - cacheTTL: Cache TTL for the environment backend.
//
// Outputs:
//   - Backend: The configured backend.
func NewBackend(cacheTTL time.Duration) Backend {
	switch strings.ToLower(os.Getenv("SENTINEL_SECRET_BACKEND")) {
	case "env":
		return NewEnvBackend(cacheTTL)
	case "file":
		return NewFileBackend(os.Getenv("SENTINEL_SECRETS_DIR"))
	default:
		return NewChainBackend(
			NewEnvBackend(cacheTTL),
			NewFileBackend(os.Getenv("SENTINEL_SECRETS_DIR")),
		)
	}
}
