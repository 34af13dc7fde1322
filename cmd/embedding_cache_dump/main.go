// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// embedding_cache_dump inspects the Sentinel retrieval embedding cache.
//
// The retrieval pipeline persists passage and query vectors in BadgerDB
// between service restarts, keyed by a content hash of (model, text).
// This tool opens the cache read-only and prints a human-readable
// summary: keys, TTL remaining, vector dimensions, L2 norms, and a
// short sample of each vector.
//
// Usage:
//
//	embedding_cache_dump [--path /path/to/embedding/cache] [-n 50]
//
// If --path is not given, reads SENTINEL_CACHE_DIR from the environment,
// falling back to ~/.aleutian/cache/sentinel/embeddings.
//
// Exit codes:
//
//	0: success (including "empty cache", which prints a message and exits 0)
//	1: error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// embeddingCacheKeyPrefix must match retrieval/cache.go exactly.
const embeddingCacheKeyPrefix = "sentinel/emb/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to embedding BadgerDB directory (overrides SENTINEL_CACHE_DIR env var)")
	limitFlag := flag.Int("n", 20, "Maximum entries to print in full (0 = all); summary always covers everything")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("SENTINEL_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".aleutian", "cache", "sentinel", "embeddings")
	}

	fmt.Printf("Embedding cache path: %s\n", dbPath)

	// Check existence before trying to open; the alternative is BadgerDB's
	// "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The service has not yet written any embedding vectors.")
		fmt.Println("Run a question that triggers the search tool to populate the cache.")
		os.Exit(0)
	}

	// Open read-only; no writes are performed.
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		key       string
		hash      string
		expiresAt time.Time
		hasExpiry bool
		rawSize   int
		vec       []float32
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(embeddingCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.key = key
			e.hash = strings.TrimPrefix(key, embeddingCacheKeyPrefix)

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			vec, err := gobDecode(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.vec = vec
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo embedding cache entries found.")
		fmt.Println("The service has opened the cache but no search-tool question has run yet,")
		fmt.Println("or the embedding service was unavailable when one did.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d cache entr%s:\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	printed := 0
	for i, e := range entries {
		if *limitFlag > 0 && printed >= *limitFlag {
			fmt.Printf("\n... %d more entr%s (raise -n to print them)\n",
				len(entries)-printed, plural(len(entries)-printed, "y", "ies"))
			break
		}
		printed++

		fmt.Printf("\n[%d] Key:          %s\n", i+1, e.key)
		fmt.Printf("    Content hash: %s\n", e.hash)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:          EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:          %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:          no expiry set\n")
		}

		fmt.Printf("    Raw size:     %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		// Unit-normalized vectors show an L2 norm of ≈1.0000.
		fmt.Printf("    Vector:       %d dims, L2 norm %.4f, %s\n",
			len(e.vec), l2Norm(e.vec), formatSample(e.vec, 4))
	}

	// Aggregate stats over everything, printed even when -n truncated the
	// per-entry listing.
	var totalBytes, expired int
	dims := map[int]int{}
	for _, e := range entries {
		totalBytes += e.rawSize
		if e.hasExpiry && time.Until(e.expiresAt) < 0 {
			expired++
		}
		if e.decodeErr == nil {
			dims[len(e.vec)]++
		}
	}
	dimKeys := make([]int, 0, len(dims))
	for d := range dims {
		dimKeys = append(dimKeys, d)
	}
	sort.Ints(dimKeys)
	dimParts := make([]string, 0, len(dimKeys))
	for _, d := range dimKeys {
		dimParts = append(dimParts, fmt.Sprintf("%d×%dd", dims[d], d))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s (%d expired), %s total, vectors: %s\n",
		len(entries), plural(len(entries), "y", "ies"), expired,
		formatBytes(totalBytes), strings.Join(dimParts, ", "))
	fmt.Printf("Cache path: %s\n", dbPath)
}

// gobDecode deserializes a []float32 from gob-encoded bytes.
// Must match retrieval/cache.go exactly.
func gobDecode(data []byte) ([]float32, error) {
	var vec []float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// l2Norm computes the L2 norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// formatSample returns the first n values of a vector as a bracketed string.
func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	if n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "embedding_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
