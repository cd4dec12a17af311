// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis decides which synchronous methods of a program get an
// asynchronous counterpart.
//
// An Analyzer runs five passes over the documents of a FrontEnd: the
// declaration tree builder, pre-analysis, reference discovery, reference
// classification and post-analysis propagation. The first four fan out per
// document; post-analysis is global and single-threaded. The outcome is a
// detached *result.Result.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	slogctx "github.com/veqryn/slog-context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// Analyzer runs the analysis over one front-end program.
//
// Thread Safety: Each Analyze call owns its records, caches and resolver,
// but it initializes the configured finders in place. Use one Analyzer per
// goroutine.
type Analyzer struct {
	fe   symbols.FrontEnd
	opts Options
}

// NewAnalyzer creates an analyzer for the program exposed by fe.
//
// Inputs:
//
//	fe - The front-end. Must not be nil.
//	opts - Functional options applied over DefaultOptions().
func NewAnalyzer(fe symbols.FrontEnd, opts ...Option) *Analyzer {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	return &Analyzer{fe: fe, opts: options}
}

// Options returns the effective options.
func (a *Analyzer) Options() Options {
	return a.opts
}

// runState is the mutable state of one Analyze call.
type runState struct {
	opts     Options
	logger   *slog.Logger
	fe       symbols.FrontEnd
	graph    *symbols.Graph
	resolver *counterpart.Resolver

	// documents participating in the run, in front-end order.
	documents []*DocumentData
	docByRoot map[*syntax.Node]*DocumentData

	// references holds the single reference record of each name node.
	references Registry[*syntax.Node, *InvocationReference]
}

// Analyze runs every pass and returns the result.
//
// Description:
//
//	Builds the symbol graph and initializes the counterpart finders before
//	any pass starts. Each document pass runs one worker per document,
//	bounded by Options.Concurrency, and joins before the next pass. ctx is
//	checked at every pass boundary. OnAnalyzationCompleted is called once
//	with the result before Analyze returns.
//
// Outputs:
//
//	*result.Result - The detached result. Non-nil on success, even when no
//	                 function is converted.
//	error - Non-nil on cancellation or a fatal failure.
//
// Errors:
//
//	*counterpart.InitializationError - A finder could not be initialized.
//	*AnalysisError - One or more documents failed a pass; wraps
//	                 *UnsupportedSyntaxError and *DocumentError values.
func (a *Analyzer) Analyze(ctx context.Context) (*result.Result, error) {
	logger := a.opts.Logger
	if logger == nil {
		logger = slogctx.FromCtx(ctx)
	}
	logger = logger.With(slog.String("assembly", a.fe.AssemblyName()))
	ctx = slogctx.NewCtx(ctx, logger)

	ctx, span := tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(attribute.String("assembly", a.fe.AssemblyName())))
	defer span.End()

	start := time.Now()
	res, err := a.analyze(ctx, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues("error").Inc()
		logger.Error("analysis failed", slog.String("error", err.Error()))
		return nil, err
	}
	runsTotal.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int("methods", res.Stats.Methods),
		attribute.Int("to_async_methods", res.Stats.ToAsyncMethods),
	)
	logger.Info("analysis completed",
		slog.String("run_id", res.ID),
		slog.Int("documents", res.Stats.Documents),
		slog.Int("methods", res.Stats.Methods),
		slog.Int("to_async_methods", res.Stats.ToAsyncMethods),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, logger *slog.Logger) (*result.Result, error) {
	graph, err := symbols.NewGraph(ctx, a.fe, symbols.WithGraphLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("building symbol graph: %w", err)
	}
	resolver := counterpart.NewResolver(a.opts.Finders, counterpart.WithLogger(logger))
	if err := resolver.Init(graph); err != nil {
		return nil, err
	}

	s := &runState{
		opts:      a.opts,
		logger:    logger,
		fe:        a.fe,
		graph:     graph,
		resolver:  resolver,
		docByRoot: make(map[*syntax.Node]*DocumentData),
	}
	for _, doc := range a.fe.Documents() {
		if !a.opts.DocumentSelector(doc) {
			logger.Debug("document skipped", slog.String("document", doc.Path))
			continue
		}
		d := &DocumentData{Document: doc}
		s.documents = append(s.documents, d)
		s.docByRoot[doc.Root] = d
	}

	passes := []struct {
		name string
		fn   func(context.Context, *DocumentData) error
	}{
		{passTreeBuilder, s.buildDocument},
		{passPreAnalysis, s.preAnalyzeDocument},
		{passDiscovery, s.discoverDocument},
		{passClassification, s.classifyDocument},
	}
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.forEachDocument(ctx, p.name, p.fn); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	postCtx, end := startPass(ctx, passPostAnalysis, len(s.documents))
	err = s.postAnalyze(postCtx)
	end(err)
	if err != nil {
		return nil, err
	}

	res := s.snapshot()
	recordVerdicts(ctx, s.verdictCounts())
	if a.opts.OnAnalyzationCompleted != nil {
		a.opts.OnAnalyzationCompleted(res)
	}
	return res, nil
}

// forEachDocument runs fn for every document on a bounded errgroup and
// waits for all of them. Every failure is kept, not only the first one.
func (s *runState) forEachDocument(ctx context.Context, pass string, fn func(context.Context, *DocumentData) error) error {
	ctx, end := startPass(ctx, pass, len(s.documents))

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for _, doc := range s.documents {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			docCtx, span := tracer.Start(ctx, "analysis."+pass+".document",
				trace.WithAttributes(attribute.String("document", doc.Path())))
			defer span.End()

			if err := fn(docCtx, doc); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				mu.Lock()
				errs = multierror.Append(errs, wrapDocumentError(pass, doc, err))
				mu.Unlock()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	var err error
	switch {
	case errs.ErrorOrNil() != nil:
		err = newAnalysisError(pass, errs)
	case waitErr != nil:
		err = waitErr
	}
	end(err)
	if err == nil {
		s.logger.Debug("pass completed", slog.String("pass", pass), slog.Int("documents", len(s.documents)))
	}
	return err
}

// wrapDocumentError leaves typed analysis errors intact so errors.As finds
// them directly in the aggregate.
func wrapDocumentError(pass string, doc *DocumentData, err error) error {
	if _, ok := err.(*UnsupportedSyntaxError); ok {
		return err
	}
	return &DocumentError{Pass: pass, Document: doc.Path(), Err: err}
}

func (s *runState) verdictCounts() map[MethodConversion]int64 {
	counts := make(map[MethodConversion]int64)
	for _, doc := range s.documents {
		for _, rec := range doc.Functions() {
			counts[rec.Func().Conversion()]++
		}
	}
	return counts
}
