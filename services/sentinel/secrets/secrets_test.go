// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnvBackend_GetSecret_Found(t *testing.T) {
	t.Setenv("TEST_SECRET_KEY", "my-secret-value")

	backend := NewEnvBackend(0) // no caching
	ctx := context.Background()

	value, err := backend.GetSecret(ctx, "TEST_SECRET_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "my-secret-value" {
		t.Errorf("got %q, want %q", value, "my-secret-value")
	}
}

func TestEnvBackend_GetSecret_NotFound(t *testing.T) {
	t.Setenv("TEST_MISSING_KEY", "")

	backend := NewEnvBackend(0)
	ctx := context.Background()

	_, err := backend.GetSecret(ctx, "TEST_MISSING_KEY")
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error should wrap ErrSecretNotFound, got: %v", err)
	}
}

func TestEnvBackend_GetSecret_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := NewEnvBackend(0)

	_, err := backend.GetSecret(ctx, "ANY_KEY")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestEnvBackend_GetSecret_CachesWithinTTL(t *testing.T) {
	t.Setenv("TEST_CACHED_KEY", "first")

	backend := NewEnvBackend(time.Minute)
	ctx := context.Background()

	if _, err := backend.GetSecret(ctx, "TEST_CACHED_KEY"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Changing the environment must not be visible while the cache is fresh.
	t.Setenv("TEST_CACHED_KEY", "second")

	value, err := backend.GetSecret(ctx, "TEST_CACHED_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "first" {
		t.Errorf("expected cached value 'first', got %q", value)
	}
}

func TestFileBackend_GetSecret_Found(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tavily_api_key")
	if err := os.WriteFile(path, []byte("tvly-file-secret\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	backend := NewFileBackend(dir)
	ctx := context.Background()

	value, err := backend.GetSecret(ctx, "TAVILY_API_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "tvly-file-secret" {
		t.Errorf("expected trimmed file content, got %q", value)
	}
}

func TestFileBackend_GetSecret_NotFound(t *testing.T) {
	backend := NewFileBackend(t.TempDir())
	ctx := context.Background()

	_, err := backend.GetSecret(ctx, "NO_SUCH_KEY")
	if err == nil {
		t.Fatal("expected error for missing secret file")
	}
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error should wrap ErrSecretNotFound, got: %v", err)
	}
}

func TestFileBackend_GetSecret_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty_key"), []byte("  \n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	backend := NewFileBackend(dir)
	ctx := context.Background()

	_, err := backend.GetSecret(ctx, "EMPTY_KEY")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound for empty file, got: %v", err)
	}
}

func TestChainBackend_FallsThroughOnNotFound(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chain_key"), []byte("from-file"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	t.Setenv("CHAIN_KEY", "")

	chain := NewChainBackend(NewEnvBackend(0), NewFileBackend(dir))
	ctx := context.Background()

	value, err := chain.GetSecret(ctx, "CHAIN_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "from-file" {
		t.Errorf("expected fallback to file backend, got %q", value)
	}
}

func TestChainBackend_FirstHitWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chain_key"), []byte("from-file"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	t.Setenv("CHAIN_KEY", "from-env")

	chain := NewChainBackend(NewEnvBackend(0), NewFileBackend(dir))
	ctx := context.Background()

	value, err := chain.GetSecret(ctx, "CHAIN_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "from-env" {
		t.Errorf("expected env backend to win, got %q", value)
	}
}

func TestChainBackend_AllMiss(t *testing.T) {
	t.Setenv("CHAIN_MISS_KEY", "")

	chain := NewChainBackend(NewEnvBackend(0), NewFileBackend(t.TempDir()))
	ctx := context.Background()

	_, err := chain.GetSecret(ctx, "CHAIN_MISS_KEY")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got: %v", err)
	}
}

// countingBackend counts fetches so tests can verify sealing happens once.
type countingBackend struct {
	calls atomic.Int64
	value string
	err   error
}

func (c *countingBackend) GetSecret(ctx context.Context, key string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return c.value, nil
}

func TestStore_GetSealsOnFirstUse(t *testing.T) {
	backend := &countingBackend{value: "sealed-secret"}
	store := NewStore(backend)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		value, err := store.Get(ctx, KeySearchAPI)
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if value != "sealed-secret" {
			t.Errorf("Get %d: expected sealed value, got %q", i, value)
		}
	}

	if got := backend.calls.Load(); got != 1 {
		t.Errorf("expected a single backend fetch, got %d", got)
	}
}

func TestStore_GetPropagatesBackendError(t *testing.T) {
	backend := &countingBackend{err: ErrSecretNotFound}
	store := NewStore(backend)
	ctx := context.Background()

	_, err := store.Get(ctx, KeyOpenAI)
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got: %v", err)
	}

	// A failed fetch must not be sealed; the next Get retries the backend.
	_, _ = store.Get(ctx, KeyOpenAI)
	if got := backend.calls.Load(); got != 2 {
		t.Errorf("expected retry after failed fetch, got %d calls", got)
	}
}

func TestStore_ForgetForcesRefetch(t *testing.T) {
	backend := &countingBackend{value: "rotating"}
	store := NewStore(backend)
	ctx := context.Background()

	if _, err := store.Get(ctx, KeyAnthropic); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	store.Forget(KeyAnthropic)
	if _, err := store.Get(ctx, KeyAnthropic); err != nil {
		t.Fatalf("Get after Forget failed: %v", err)
	}

	if got := backend.calls.Load(); got != 2 {
		t.Errorf("expected re-fetch after Forget, got %d calls", got)
	}
}
