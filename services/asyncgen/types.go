// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asyncgen

import (
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Details carries per-document failures of an analysis, if any.
	Details []string `json:"details,omitempty"`
}

// AnalyzeResponse is returned by POST /v1/asyncgen/analyze.
type AnalyzeResponse struct {
	RunID    string       `json:"run_id"`
	Assembly string       `json:"assembly"`
	Stats    result.Stats `json:"stats"`

	// SnapshotID is set when the result was saved.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// Result is the full result, only included with ?include=result.
	Result *result.Result `json:"result,omitempty"`
}

// ListSnapshotsResponse is returned by GET /v1/asyncgen/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*store.SnapshotMetadata `json:"snapshots"`
}

// SnapshotResponse is returned by GET /v1/asyncgen/snapshots/:id.
type SnapshotResponse struct {
	Metadata *store.SnapshotMetadata `json:"metadata"`
	Result   *result.Result          `json:"result"`
}

// MethodSummary is one method of a stored result.
type MethodSummary struct {
	ID                string          `json:"id"`
	Signature         string          `json:"signature"`
	Conversion        string          `json:"conversion"`
	CancellationToken string          `json:"cancellation_token"`
	IgnoreReason      string          `json:"ignore_reason,omitempty"`
	Document          string          `json:"document"`
	Position          result.Position `json:"position"`
	References        int             `json:"references"`
	ToAsyncReferences int             `json:"to_async_references"`
}

// MethodsResponse is returned by GET /v1/asyncgen/snapshots/:id/methods.
type MethodsResponse struct {
	SnapshotID string          `json:"snapshot_id"`
	Methods    []MethodSummary `json:"methods"`
}

// DiffResponse is returned by GET /v1/asyncgen/snapshots/diff.
type DiffResponse struct {
	Diff *result.Diff `json:"diff"`
}

// HealthResponse is returned by GET /v1/asyncgen/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Snapshots bool   `json:"snapshots"`
}
