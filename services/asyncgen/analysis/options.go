// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"log/slog"
	"runtime"

	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// PreconditionChecker decides whether a leading statement is a precondition.
type PreconditionChecker interface {
	IsPrecondition(stmt *syntax.Node, fn *symbols.Method) bool
}

// PreconditionFunc adapts a function to PreconditionChecker.
type PreconditionFunc func(stmt *syntax.Node, fn *symbols.Method) bool

// IsPrecondition implements PreconditionChecker.
func (f PreconditionFunc) IsPrecondition(stmt *syntax.Node, fn *symbols.Method) bool {
	return f(stmt, fn)
}

// InvocationAnalyzer inspects a reference after classification. A non-empty
// return value ignores the reference with that reason.
type InvocationAnalyzer interface {
	AnalyzeInvocation(ref *InvocationReference) (ignoreReason string)
}

// InvocationAnalyzerFunc adapts a function to InvocationAnalyzer.
type InvocationAnalyzerFunc func(ref *InvocationReference) string

// AnalyzeInvocation implements InvocationAnalyzer.
func (f InvocationAnalyzerFunc) AnalyzeInvocation(ref *InvocationReference) string {
	return f(ref)
}

// Options configures an analysis run.
type Options struct {
	// Logger receives pass and verdict logs. Default: the logger stored in
	// the context by slogctx, or slog.Default().
	Logger *slog.Logger

	// MethodConversion is the policy for methods. Default: always Unknown.
	MethodConversion func(m *symbols.Method) MethodConversion

	// TypeConversion is the policy for types. Default: always Unknown.
	TypeConversion func(t *symbols.Type) TypeConversion

	// DocumentSelector selects participating documents. Default: all.
	DocumentSelector func(doc *symbols.Document) bool

	// Finders are consulted in order. Default: a single SuffixFinder.
	Finders []counterpart.Finder

	// PreconditionCheckers are consulted in order; any match qualifies.
	// Default: an if without else whose consequence only throws.
	PreconditionCheckers []PreconditionChecker

	// InvocationAnalyzers run after each reference is classified.
	InvocationAnalyzers []InvocationAnalyzer

	// ScanMethodBody scans bodies for all references. When false only
	// references to analyzed functions or to methods with a counterpart are
	// kept. Default: true.
	ScanMethodBody bool

	// UseCancellationTokens enables counterparts with a trailing token and
	// token parameters on converted methods. Default: false.
	UseCancellationTokens bool

	// CancellationTokenGuards adds token checks to methods receiving a token.
	// Default: true.
	CancellationTokenGuards bool

	// AlwaysAwait treats fire-and-forget task calls as awaitable.
	AlwaysAwait bool

	// SearchInheritedTypes widens counterpart search for references.
	SearchInheritedTypes bool

	// Concurrency bounds the per-document workers. Default: GOMAXPROCS.
	Concurrency int

	// OnAnalyzationCompleted is called exactly once with the result, after
	// post-analysis and before Analyze returns.
	OnAnalyzationCompleted func(r *result.Result)
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MethodConversion:        func(*symbols.Method) MethodConversion { return MethodUnknown },
		TypeConversion:          func(*symbols.Type) TypeConversion { return TypeUnknown },
		DocumentSelector:        func(*symbols.Document) bool { return true },
		Finders:                 []counterpart.Finder{counterpart.NewSuffixFinder()},
		PreconditionCheckers:    []PreconditionChecker{PreconditionFunc(IsThrowGuard)},
		ScanMethodBody:          true,
		CancellationTokenGuards: true,
		Concurrency:             runtime.GOMAXPROCS(0),
	}
}

// Option is a functional option for configuring an analysis run.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMethodConversion sets the method policy.
func WithMethodConversion(fn func(m *symbols.Method) MethodConversion) Option {
	return func(o *Options) { o.MethodConversion = fn }
}

// WithTypeConversion sets the type policy.
func WithTypeConversion(fn func(t *symbols.Type) TypeConversion) Option {
	return func(o *Options) { o.TypeConversion = fn }
}

// WithDocumentSelector sets the document predicate.
func WithDocumentSelector(fn func(doc *symbols.Document) bool) Option {
	return func(o *Options) { o.DocumentSelector = fn }
}

// WithFinders replaces the counterpart finders.
func WithFinders(finders ...counterpart.Finder) Option {
	return func(o *Options) { o.Finders = finders }
}

// WithPreconditionCheckers replaces the precondition checkers.
func WithPreconditionCheckers(checkers ...PreconditionChecker) Option {
	return func(o *Options) { o.PreconditionCheckers = checkers }
}

// WithInvocationAnalyzers sets the invocation analyzers.
func WithInvocationAnalyzers(analyzers ...InvocationAnalyzer) Option {
	return func(o *Options) { o.InvocationAnalyzers = analyzers }
}

// WithScanMethodBody enables or disables full body scanning.
func WithScanMethodBody(enabled bool) Option {
	return func(o *Options) { o.ScanMethodBody = enabled }
}

// WithCancellationTokens enables cancellation token support.
func WithCancellationTokens(enabled, guards bool) Option {
	return func(o *Options) {
		o.UseCancellationTokens = enabled
		o.CancellationTokenGuards = guards
	}
}

// WithAlwaysAwait treats fire-and-forget task calls as awaitable.
func WithAlwaysAwait(enabled bool) Option {
	return func(o *Options) { o.AlwaysAwait = enabled }
}

// WithSearchInheritedTypes widens counterpart search for references.
func WithSearchInheritedTypes(enabled bool) Option {
	return func(o *Options) { o.SearchInheritedTypes = enabled }
}

// WithConcurrency bounds the per-document workers.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithOnAnalyzationCompleted sets the completion callback.
func WithOnAnalyzationCompleted(fn func(r *result.Result)) Option {
	return func(o *Options) { o.OnAnalyzationCompleted = fn }
}

// IsThrowGuard matches "if (cond) throw ...;" and "if (cond) { throw ...; }"
// without an else branch.
func IsThrowGuard(stmt *syntax.Node, _ *symbols.Method) bool {
	if stmt.Kind != syntax.KindIf || stmt.Child(syntax.RoleAlternative) != nil {
		return false
	}
	then := stmt.Child(syntax.RoleConsequence)
	if then == nil {
		return false
	}
	if then.Kind == syntax.KindBlock {
		return len(then.Children) == 1 && then.Children[0].Kind == syntax.KindThrow
	}
	return then.Kind == syntax.KindThrow
}
