// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package asyncgen runs async-conversion analyses of C# projects and serves
// the stored results over HTTP.
//
// The Service glues the pieces together: configuration from asyncgen.yaml,
// the tree-sitter C# front-end, the analysis engine and the BadgerDB
// snapshot store. Handlers and RegisterRoutes expose it under /v1/asyncgen.
package asyncgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/asyncgen/services/asyncgen/analysis"
	"github.com/AleutianAI/asyncgen/services/asyncgen/config"
	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/csharp"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

var (
	// ErrSnapshotsNotConfigured indicates the service has no snapshot store.
	ErrSnapshotsNotConfigured = errors.New("snapshot persistence not configured")

	// ErrProjectRootRequired indicates an analysis request without a root.
	ErrProjectRootRequired = errors.New("project root is required")
)

var tracer = otel.Tracer("asyncgen.service")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// AnalyzeRate is the sustained number of analyses per second the HTTP
	// surface accepts. Zero disables rate limiting.
	AnalyzeRate float64

	// AnalyzeBurst is the number of analyses allowed at once above the rate.
	AnalyzeBurst int

	// AnalyzeTimeout bounds a single analysis. Zero means no timeout.
	AnalyzeTimeout time.Duration

	// ListLimit is the default page size for snapshot listings.
	ListLimit int
}

// DefaultServiceConfig returns the default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		AnalyzeRate:    1,
		AnalyzeBurst:   2,
		AnalyzeTimeout: 5 * time.Minute,
		ListLimit:      100,
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSnapshotManager enables snapshot persistence.
func WithSnapshotManager(m *store.SnapshotManager) ServiceOption {
	return func(s *Service) {
		s.snapshots = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoaderOptions adds options to every C# loader the service creates.
func WithLoaderOptions(opts ...csharp.LoaderOption) ServiceOption {
	return func(s *Service) {
		s.loaderOpts = append(s.loaderOpts, opts...)
	}
}

// WithAnalysisOptions adds analysis options applied after the ones derived
// from the project configuration.
func WithAnalysisOptions(opts ...analysis.Option) ServiceOption {
	return func(s *Service) {
		s.analysisOpts = append(s.analysisOpts, opts...)
	}
}

// Service runs analyses and manages their snapshots.
//
// Thread Safety:
//
//	Safe for concurrent use. Every analysis builds its own program and
//	analyzer; the snapshot store handles its own locking.
type Service struct {
	config       ServiceConfig
	snapshots    *store.SnapshotManager
	logger       *slog.Logger
	loaderOpts   []csharp.LoaderOption
	analysisOpts []analysis.Option
}

// NewService creates a service.
func NewService(cfg ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// SnapshotsEnabled reports whether a snapshot store is configured.
func (s *Service) SnapshotsEnabled() bool {
	return s.snapshots != nil
}

// AnalyzeRequest describes one analysis run.
type AnalyzeRequest struct {
	// ProjectRoot is the directory holding asyncgen.yaml and the sources.
	ProjectRoot string `json:"project_root" binding:"required"`

	// Save stores the result as a snapshot.
	Save bool `json:"save"`

	// Label is an optional snapshot label.
	Label string `json:"label" binding:"max=200"`

	// Config overrides asyncgen.yaml when set.
	Config *config.Config `json:"-"`
}

// AnalyzeOutcome is the result of Analyze.
type AnalyzeOutcome struct {
	Result *result.Result

	// Snapshot is set when the result was saved.
	Snapshot *store.SnapshotMetadata
}

// Analyze loads the project's C# sources, analyzes them and optionally
// saves the result.
//
// Description:
//
//	The configuration comes from req.Config or <root>/asyncgen.yaml.
//	Reference type files listed in the configuration are resolved relative
//	to the project root.
//
// Outputs:
//
//	*AnalyzeOutcome - The result and, when saved, its snapshot metadata.
//	error - config.ErrInvalidConfig, csharp.ErrNoSources, *analysis.AnalysisError,
//	        ErrSnapshotsNotConfigured (save without store) or a wrapped failure.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeOutcome, error) {
	if req.ProjectRoot == "" {
		return nil, ErrProjectRootRequired
	}
	if req.Save && s.snapshots == nil {
		return nil, ErrSnapshotsNotConfigured
	}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	ctx, span := tracer.Start(ctx, "service.Analyze",
		trace.WithAttributes(attribute.String("project_root", root)))
	defer span.End()
	if s.config.AnalyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.AnalyzeTimeout)
		defer cancel()
	}

	out, err := s.analyze(ctx, root, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Service) analyze(ctx context.Context, root string, req AnalyzeRequest) (*AnalyzeOutcome, error) {
	cfg := req.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(root); err != nil {
			return nil, err
		}
	}
	assembly := cfg.Assembly
	if assembly == "" {
		assembly = filepath.Base(root)
	}

	refs := make([]string, 0, len(cfg.ReferenceTypes))
	for _, p := range cfg.ReferenceTypes {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		refs = append(refs, p)
	}
	loaderOpts := append([]csharp.LoaderOption{
		csharp.WithLogger(s.logger),
		csharp.WithReferenceFiles(refs...),
		csharp.WithConcurrency(cfg.Concurrency),
	}, s.loaderOpts...)

	prog, err := csharp.NewLoader(loaderOpts...).LoadDir(ctx, assembly, root, cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}

	opts := append(cfg.AnalysisOptions(s.logger), s.analysisOpts...)
	res, err := analysis.NewAnalyzer(prog, opts...).Analyze(ctx)
	if err != nil {
		return nil, err
	}

	out := &AnalyzeOutcome{Result: res}
	if req.Save {
		meta, err := s.snapshots.Save(ctx, root, res, req.Label)
		if err != nil {
			return nil, fmt.Errorf("saving snapshot: %w", err)
		}
		out.Snapshot = meta
	}
	return out, nil
}

// ListSnapshots returns snapshot metadata, newest first. An empty
// projectRoot lists every project; limit <= 0 uses the configured default.
func (s *Service) ListSnapshots(ctx context.Context, projectRoot string, limit int) ([]*store.SnapshotMetadata, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsNotConfigured
	}
	if limit <= 0 {
		limit = s.config.ListLimit
	}
	if projectRoot != "" {
		if abs, err := filepath.Abs(projectRoot); err == nil {
			projectRoot = abs
		}
	}
	return s.snapshots.List(ctx, projectRoot, limit)
}

// Snapshot loads a stored result. The ID "latest" combined with a project
// root loads that project's most recent snapshot.
func (s *Service) Snapshot(ctx context.Context, id, projectRoot string) (*result.Result, *store.SnapshotMetadata, error) {
	if s.snapshots == nil {
		return nil, nil, ErrSnapshotsNotConfigured
	}
	if id == "latest" && projectRoot != "" {
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving project root: %w", err)
		}
		return s.snapshots.LoadLatest(ctx, abs)
	}
	return s.snapshots.Load(ctx, id)
}

// DeleteSnapshot removes a stored result.
func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if s.snapshots == nil {
		return ErrSnapshotsNotConfigured
	}
	return s.snapshots.Delete(ctx, id)
}

// DiffSnapshots compares two stored results.
func (s *Service) DiffSnapshots(ctx context.Context, baseID, targetID string) (*result.Diff, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsNotConfigured
	}
	return s.snapshots.Diff(ctx, baseID, targetID)
}
