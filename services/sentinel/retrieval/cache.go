// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

// =============================================================================
// EmbeddingCache: Content-Addressed Vector Persistence
// =============================================================================
//
// Embedding a passage costs an HTTP round trip to the embedding service;
// recurring topics re-fetch substantially similar articles across sessions.
// The cache is content-addressed: SHA256(model + text) keys a unit-normalized
// vector, relying on the embedding service being stable for identical input.
//
// Design choices:
//
//	1. Two layers: an in-memory map always, BadgerDB optionally. The memory
//	   layer serves repeat passages within a session; BadgerDB carries them
//	   across restarts. A nil DB degrades to memory-only, which is the
//	   correct mode for tests and diskless deployments.
//
//	2. Content hash as cache key: any change to passage text or embedding
//	   model produces a different key. There is no invalidation API; stale
//	   entries age out via BadgerDB's native TTL.
//
//	3. Vectors are stored unit-normalized, so similarity at query time is a
//	   plain dot product and normalization happens exactly once per text.
//
// Storage layout:
//
//	sentinel/emb/v1/{sha256(model \x00 text)}  →  gob-encoded []float32
//	                                              TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/SentinelFOSS/services/sentinel/storage/badger"
)

// embeddingCacheKeyPrefix is prepended to the content hash to form the
// BadgerDB key. Versioned (v1) to allow future format changes without
// collision.
const embeddingCacheKeyPrefix = "sentinel/emb/v1/"

// embeddingCacheDefaultTTL is the default lifetime of a persisted vector.
const embeddingCacheDefaultTTL = 7 * 24 * time.Hour

// errCacheMiss distinguishes "key not found" from a storage failure inside
// the read transaction.
var errCacheMiss = errors.New("cache miss")

// EmbeddingCache caches embedding vectors by content hash.
//
// Thread Safety: Safe for concurrent use.
type EmbeddingCache struct {
	mu  sync.RWMutex
	mem map[string][]float32

	db  *badgerstore.DB
	ttl time.Duration
}

// NewEmbeddingCache creates an EmbeddingCache.
//
// Inputs:
//   - db: Optional persistent layer. Nil selects memory-only mode.
//   - ttl: Lifetime of persisted entries. 0 selects the 7-day default.
func NewEmbeddingCache(db *badgerstore.DB, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = embeddingCacheDefaultTTL
	}
	return &EmbeddingCache{
		mem: make(map[string][]float32),
		db:  db,
		ttl: ttl,
	}
}

// embeddingKey computes the content-addressed key for a (model, text) pair.
// The NUL separator keeps distinct pairs from colliding by concatenation.
func embeddingKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached vector for a (model, text) pair.
//
// Description:
//
//	Memory first, then BadgerDB. A persistent hit is promoted into the
//	memory layer. Storage failures are logged and treated as misses; the
//	caller re-embeds, which is always safe.
//
// Outputs:
//   - []float32: The cached unit-normalized vector. Callers must not
//     mutate it.
//   - bool: Whether the lookup hit.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	key := embeddingKey(model, text)

	c.mu.RLock()
	vec, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return vec, true
	}

	if c.db == nil {
		return nil, false
	}

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(embeddingCacheKeyPrefix + key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})
	if errors.Is(err, errCacheMiss) {
		return nil, false
	}
	if err != nil {
		slog.Warn("embedding cache: load failed, treating as miss",
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	vec, err = gobDecodeVector(raw)
	if err != nil {
		slog.Warn("embedding cache: decode failed, treating as miss",
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()
	return vec, true
}

// Put stores a unit-normalized vector for a (model, text) pair.
//
// Description:
//
//	The memory layer is updated unconditionally. Persistence failure is
//	logged and swallowed: the vector is already in RAM, and the next
//	restart simply re-embeds.
func (c *EmbeddingCache) Put(ctx context.Context, model, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	key := embeddingKey(model, text)

	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()

	if c.db == nil {
		return
	}

	raw, err := gobEncodeVector(vec)
	if err != nil {
		slog.Warn("embedding cache: encode failed, entry not persisted",
			slog.String("error", err.Error()),
		)
		return
	}

	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry([]byte(embeddingCacheKeyPrefix+key), raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Warn("embedding cache: persist failed, entry kept in memory only",
			slog.String("error", err.Error()),
		)
	}
}

// gobEncodeVector serializes a []float32 using encoding/gob.
func gobEncodeVector(vec []float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vec); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecodeVector deserializes a []float32 from gob-encoded bytes.
func gobDecodeVector(data []byte) ([]float32, error) {
	var vec []float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vec); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return vec, nil
}
