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
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Store caches retrieved secrets inside memguard enclaves.
//
// Description:
//
//	Each secret is fetched from the backend once and sealed into an
//	encrypted enclave, so long-lived at-rest copies never sit in plain
//	GC-managed memory or appear in heap dumps. Get decrypts on demand
//	and returns a transient string copy for use in request headers; the
//	sealed copy remains the only durable one.
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	sealed  map[string]*memguard.Enclave
}

// NewStore creates a sealed secret store over the given backend.
//
// Inputs:
//   - backend: Source of secret values. Must not be nil.
//
// Outputs:
//   - *Store: The configured store.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		sealed:  make(map[string]*memguard.Enclave),
	}
}

// Get returns the secret for key, fetching and sealing it on first use.
//
// Inputs:
//   - ctx: Context for cancellation during the backend fetch.
//   - key: The secret key name.
//
// Outputs:
//   - string: A transient copy of the secret value.
//   - error: Non-nil if the backend fetch or enclave open fails.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	enclave, ok := s.sealed[key]
	s.mu.RUnlock()

	if ok {
		return openEnclave(key, enclave)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have sealed it while we waited for the lock.
	if enclave, ok := s.sealed[key]; ok {
		return openEnclave(key, enclave)
	}

	value, err := s.backend.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}

	// NewEnclave wipes its input buffer, so pass a throwaway copy.
	s.sealed[key] = memguard.NewEnclave([]byte(value))

	return value, nil
}

// Forget drops the sealed copy of key, forcing a re-fetch on next Get.
// Used after a provider rejects a credential that may have been rotated.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sealed, key)
}

// openEnclave decrypts one sealed secret and returns a string copy.
func openEnclave(key string, enclave *memguard.Enclave) (string, error) {
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("secret %q: opening enclave: %w", key, err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
