// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive keeps a write-once copy of every finished report in an
// object-storage bucket for audit retention.
//
// Description:
//
//	Archival is optional and strictly best-effort: a server without a
//	configured bucket skips it, and a failed upload is logged by the
//	caller, never propagated into the session result. Objects are named
//	deterministically from the report identity, so replaying a session
//	cannot produce a second copy.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
)

// Archiver stores one finished report.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Archiver interface {
	// ArchiveReport uploads one report. A report already present under
	// its deterministic name is not an error.
	ArchiveReport(ctx context.Context, rep *agent.Report) error

	// Close releases the underlying client.
	Close() error
}

// =============================================================================
// Bucket Archive
// =============================================================================

// BucketArchive writes reports to a Google Cloud Storage bucket.
//
// Thread Safety: Safe for concurrent use.
type BucketArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewBucketArchive opens an object-storage archive.
//
// Inputs:
//   - ctx: Context for client construction.
//   - bucket: Destination bucket name.
//   - prefix: Object name prefix, e.g. "reports". May be empty.
//   - opts: Client options (credentials file, endpoint override). Default
//     application credentials are used when none are given.
//
// Outputs:
//   - *BucketArchive: The opened archive.
//   - error: Non-nil if bucket is empty or the client cannot be built.
func NewBucketArchive(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*BucketArchive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewBucketArchive: bucket must not be empty")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewBucketArchive: %w", err)
	}

	return &BucketArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// ArchiveReport uploads one report as pretty-printed JSON.
//
// Description:
//
//	The object name is derived from the report's generation date and
//	session ID. The write carries a does-not-exist precondition so an
//	existing object is never overwritten; the resulting precondition
//	failure is treated as success, keeping archival idempotent.
//
// Thread Safety: Safe for concurrent use.
func (a *BucketArchive) ArchiveReport(ctx context.Context, rep *agent.Report) error {
	if rep == nil {
		return fmt.Errorf("ArchiveReport: report must not be nil")
	}

	name := a.objectName(rep)
	w := a.client.Bucket(a.bucket).Object(name).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = "application/json"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		w.Close()
		return fmt.Errorf("ArchiveReport: encoding %s: %w", name, err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Debug("report already archived",
				slog.String("session_id", rep.SessionID),
				slog.String("object", name),
			)
			return nil
		}
		return fmt.Errorf("ArchiveReport: uploading %s: %w", name, err)
	}

	slog.Info("report archived",
		slog.String("session_id", rep.SessionID),
		slog.String("bucket", a.bucket),
		slog.String("object", name),
	)
	return nil
}

// Close releases the storage client.
func (a *BucketArchive) Close() error {
	return a.client.Close()
}

// objectName builds the deterministic object name for a report:
// [prefix/]YYYY/MM/DD/<session-id>.json, dated by generation time.
func (a *BucketArchive) objectName(rep *agent.Report) string {
	name := fmt.Sprintf("%s/%s.json", rep.GeneratedAt.UTC().Format("2006/01/02"), rep.SessionID)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// isPreconditionFailed reports whether err is the HTTP 412 returned when
// the does-not-exist precondition meets an existing object.
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
