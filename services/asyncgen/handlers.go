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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/asyncgen/services/asyncgen/analysis"
	"github.com/AleutianAI/asyncgen/services/asyncgen/config"
	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/csharp"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Handlers serves the asyncgen HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the caller's request ID or a new one, and
// echoes it in the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Header(RequestIDHeader, id)
	return id
}

// HandleAnalyze handles POST /v1/asyncgen/analyze.
//
// Description:
//
//	Analyzes the C# project at project_root and optionally saves the result
//	as a snapshot. The full result is only returned with ?include=result.
//
// Request Body:
//
//	AnalyzeRequest
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Invalid body or configuration
//	422 Unprocessable Entity: No sources, or the analysis failed
//	429 Too Many Requests: Rate limit exceeded (middleware)
//	503 Service Unavailable: save requested without a snapshot store
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	out, err := h.svc.Analyze(c.Request.Context(), req)
	if err != nil {
		logger.Warn("analysis failed", slog.String("project_root", req.ProjectRoot), slog.Any("error", err))
		writeError(c, err)
		return
	}

	resp := AnalyzeResponse{
		RunID:    out.Result.ID,
		Assembly: out.Result.Assembly,
		Stats:    out.Result.Stats,
	}
	if out.Snapshot != nil {
		resp.SnapshotID = out.Snapshot.SnapshotID
	}
	if c.Query("include") == "result" {
		resp.Result = out.Result
	}

	logger.Info("analysis completed",
		slog.String("run_id", resp.RunID),
		slog.Int("methods", resp.Stats.Methods),
		slog.Int("to_async_methods", resp.Stats.ToAsyncMethods),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleListSnapshots handles GET /v1/asyncgen/snapshots.
//
// Query Parameters:
//
//	project_root: Optional filter by project root path
//	limit: Maximum results, default from ServiceConfig.ListLimit
//
// Response:
//
//	200 OK: ListSnapshotsResponse
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snapshots, err := h.svc.ListSnapshots(c.Request.Context(), c.Query("project_root"), limit)
	if err != nil {
		logger.Error("failed to list snapshots", slog.Any("error", err))
		writeError(c, err)
		return
	}

	logger.Info("listing snapshots", slog.Int("count", len(snapshots)))
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snapshots})
}

// HandleGetSnapshot handles GET /v1/asyncgen/snapshots/:id.
//
// Description:
//
//	Returns the metadata and the full result of a snapshot. The id "latest"
//	together with ?project_root= loads the newest snapshot of a project.
//
// Response:
//
//	200 OK: SnapshotResponse
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSnapshot")

	res, meta, ok := h.loadSnapshot(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SnapshotResponse{Metadata: meta, Result: res})
}

// HandleListMethods handles GET /v1/asyncgen/snapshots/:id/methods.
//
// Query Parameters:
//
//	conversion: Optional filter, e.g. "to_async"
//
// Response:
//
//	200 OK: MethodsResponse
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleListMethods(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListMethods")

	res, meta, ok := h.loadSnapshot(c, logger)
	if !ok {
		return
	}

	conversion := c.Query("conversion")
	methods := make([]MethodSummary, 0)
	for _, m := range res.Methods() {
		if conversion != "" && m.Conversion != conversion {
			continue
		}
		methods = append(methods, summarizeMethod(m))
	}

	logger.Info("listing methods",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.Int("count", len(methods)),
	)
	c.JSON(http.StatusOK, MethodsResponse{SnapshotID: meta.SnapshotID, Methods: methods})
}

// HandleDeleteSnapshot handles DELETE /v1/asyncgen/snapshots/:id.
//
// Response:
//
//	200 OK: {"deleted": true}
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	snapshotID := c.Param("id")
	if err := h.svc.DeleteSnapshot(c.Request.Context(), snapshotID); err != nil {
		logger.Warn("snapshot delete failed", slog.String("snapshot_id", snapshotID), slog.Any("error", err))
		writeError(c, err)
		return
	}

	logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleDiffSnapshots handles GET /v1/asyncgen/snapshots/diff.
//
// Query Parameters:
//
//	base: Base snapshot ID (required)
//	target: Target snapshot ID (required)
//
// Response:
//
//	200 OK: DiffResponse
//	400 Bad Request: Missing required parameters
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiffSnapshots")

	baseID := c.Query("base")
	targetID := c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "both 'base' and 'target' parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	diff, err := h.svc.DiffSnapshots(c.Request.Context(), baseID, targetID)
	if err != nil {
		logger.Warn("diff failed", slog.Any("error", err))
		writeError(c, err)
		return
	}

	logger.Info("snapshot diff computed",
		slog.String("base", baseID),
		slog.String("target", targetID),
		slog.Int("total_changes", diff.Summary.TotalChanges),
	)
	c.JSON(http.StatusOK, DiffResponse{Diff: diff})
}

// HandleHealth handles GET /v1/asyncgen/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Snapshots: h.svc.SnapshotsEnabled(),
	})
}

// loadSnapshot loads the snapshot named by the :id parameter. On failure it
// writes the error response and returns false.
func (h *Handlers) loadSnapshot(c *gin.Context, logger *slog.Logger) (*result.Result, *store.SnapshotMetadata, bool) {
	snapshotID := c.Param("id")
	res, meta, err := h.svc.Snapshot(c.Request.Context(), snapshotID, c.Query("project_root"))
	if err != nil {
		logger.Warn("snapshot load failed", slog.String("snapshot_id", snapshotID), slog.Any("error", err))
		writeError(c, err)
		return nil, nil, false
	}
	return res, meta, true
}

func summarizeMethod(m *result.Method) MethodSummary {
	return MethodSummary{
		ID:                m.ID,
		Signature:         m.Signature,
		Conversion:        m.Conversion,
		CancellationToken: m.CancellationToken,
		IgnoreReason:      m.IgnoreReason,
		Document:          m.Document,
		Position:          m.Position,
		References:        len(m.References),
		ToAsyncReferences: len(m.ToAsyncReferences()),
	}
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	var analysisErr *analysis.AnalysisError
	switch {
	case errors.Is(err, ErrSnapshotsNotConfigured):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SNAPSHOTS_NOT_AVAILABLE"})
	case errors.Is(err, store.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_NOT_FOUND"})
	case errors.Is(err, ErrProjectRootRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "MISSING_PARAMETER"})
	case errors.Is(err, config.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CONFIG"})
	case errors.Is(err, csharp.ErrNoSources):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "NO_SOURCES"})
	case errors.As(err, &analysisErr):
		details := make([]string, 0, len(analysisErr.Errors()))
		for _, e := range analysisErr.Errors() {
			details = append(details, e.Error())
		}
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "analysis failed", Code: "ANALYSIS_FAILED", Details: details})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Code: "TIMEOUT"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL_ERROR"})
	}
}
