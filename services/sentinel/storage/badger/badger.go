// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps the embedded BadgerDB used for service-local caches.
//
// Description:
//
//	Cache data here is service infrastructure, not user data: embedding
//	vectors and similar derived values that are expensive to recompute
//	but safe to lose. BadgerDB keeps access embedded and local, with no
//	network dependency, and its native TTL handles expiry without
//	application-level bookkeeping.
package badger

import (
	"context"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string

	// InMemory keeps all data in RAM. Used by tests and by deployments
	// that want caching without a writable disk.
	InMemory bool

	// SyncWrites forces an fsync per write. Cache data is recomputable,
	// so the default trades durability for latency.
	SyncWrites bool
}

// DefaultConfig returns the on-disk configuration. The caller sets Path.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for a RAM-only database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB handle.
//
// Thread Safety: Safe for concurrent use. Transactions are per-call.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens a BadgerDB instance.
//
// Description:
//
//	BadgerDB's internal logger is suppressed; it logs compaction chatter
//	at levels that drown structured service logs.
//
// Inputs:
//   - cfg: Open configuration. Path must be set unless InMemory is.
//
// Outputs:
//   - *DB: The opened handle. The caller owns the lifecycle and must
//     call Close.
//   - error: Non-nil if the directory cannot be opened or locked.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger: path must be set for on-disk databases")
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening %s: %w", cfg.Path, err)
	}
	return &DB{db: db}, nil
}

// Close releases the database. Safe to call once.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithTxn runs fn inside a read-write transaction.
//
// Inputs:
//   - ctx: Checked before the transaction starts; BadgerDB transactions
//     themselves do not observe contexts.
//   - fn: Transaction body. A non-nil return aborts the transaction.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}
