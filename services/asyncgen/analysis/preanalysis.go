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
	"context"
	"log/slog"

	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// Ignore reasons recorded by pre-analysis.
const (
	reasonTypeIgnored          = "containing type is ignored"
	reasonAlreadyAsync         = "already async"
	reasonExternal             = "declared outside the analyzed program"
	reasonUnsupportedKind      = "not an ordinary method"
	reasonOutParameter         = "has out parameters"
	reasonExternalExplicitImpl = "explicitly implements an external interface member without async counterpart"
	reasonExternalOverride     = "overrides an external member without async counterpart"
	reasonExternalInterface    = "implements an external interface member without async counterpart"
	reasonHasCounterpart       = "async counterpart already exists"
	reasonLambdaNotArgument    = "anonymous function is not passed as an invocation argument"
)

// preAnalyzeDocument assigns the initial verdicts of a document's types and
// functions. Types are processed before functions so that member checks see
// the final type verdicts.
func (s *runState) preAnalyzeDocument(ctx context.Context, doc *DocumentData) error {
	for _, t := range doc.Types() {
		s.preAnalyzeType(t)
	}
	for _, rec := range doc.Functions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch f := rec.(type) {
		case *MethodData:
			if err := s.preAnalyzeMethod(ctx, f); err != nil {
				return err
			}
		case *FunctionData:
			s.preAnalyzeFunction(ctx, f)
		}
	}
	return nil
}

func (s *runState) preAnalyzeType(t *TypeData) {
	policy := s.opts.TypeConversion(t.Symbol)
	pinned := policy != TypeUnknown
	if t.Outer != nil && t.Outer.Conversion() == TypeIgnore {
		policy, pinned = TypeIgnore, true
	}
	t.setConversion(policy, pinned)
}

// preAnalyzeMethod applies the method policy and then the legality checks,
// in order. The first failing check forces Ignore.
func (s *runState) preAnalyzeMethod(ctx context.Context, m *MethodData) error {
	sym := m.Symbol
	policy := s.opts.MethodConversion(sym)
	if policy == MethodUnclassified {
		policy = MethodUnknown
	}
	m.mu.Lock()
	m.explicitToAsync = policy == MethodToAsync
	m.mu.Unlock()

	reason, err := s.legalityViolation(m)
	if err != nil {
		return err
	}
	if reason == "" {
		m.setConversion(policy, "")
		return nil
	}
	m.setConversion(MethodIgnore, reason)
	s.logIgnored(ctx, &m.Function, reason)
	return nil
}

// legalityViolation runs the legality checks and returns the reason of the
// first failure, or "" when the method may be converted.
func (s *runState) legalityViolation(m *MethodData) (string, error) {
	sym := m.Symbol

	if m.Type.Conversion() == TypeIgnore {
		return reasonTypeIgnored, nil
	}

	// 1. Already async.
	if sym.IsAsync || sym.HasAsyncName() {
		m.mu.Lock()
		m.alreadyAsync = true
		m.mu.Unlock()
		return reasonAlreadyAsync, nil
	}

	// 2. External.
	if !s.graph.IsInProgram(sym) {
		return reasonExternal, nil
	}

	// 3. Method kind.
	if sym.Kind != symbols.MethodOrdinary && sym.Kind != symbols.MethodExplicitInterfaceImplementation {
		return reasonUnsupportedKind, nil
	}

	// 4. Out parameters.
	if sym.HasOutParameter() {
		return reasonOutParameter, nil
	}

	// 5. Explicit interface implementations.
	for _, im := range sym.ExplicitInterfaceImplementations {
		ok, err := s.relateTo(m, im)
		if err != nil {
			return "", err
		}
		if !ok {
			return reasonExternalExplicitImpl, nil
		}
	}

	// 6. Override chain, up to its root.
	for _, o := range s.graph.OverrideChain(sym) {
		ok, err := s.relateTo(m, o)
		if err != nil {
			return "", err
		}
		if !ok {
			return reasonExternalOverride, nil
		}
	}

	// 7. Implicit interface implementations.
	explicit := make(map[*symbols.Method]bool, len(sym.ExplicitInterfaceImplementations))
	for _, im := range sym.ExplicitInterfaceImplementations {
		explicit[im] = true
	}
	for _, im := range s.graph.ImplementedInterfaceMembers(sym) {
		if explicit[im] {
			continue
		}
		ok, err := s.relateTo(m, im)
		if err != nil {
			return "", err
		}
		if !ok {
			return reasonExternalInterface, nil
		}
	}

	// 8. Existing counterpart.
	if existing := s.resolver.Find(sym, nil, s.declarationSearchOptions()); len(existing) > 0 {
		m.setExistingCounterparts(existing)
		return reasonHasCounterpart, nil
	}
	return "", nil
}

// relateTo records the relation between m and an overridden or implemented
// member. Internal members get a related-method edge. External members are
// recorded with their counterparts; false is returned when they have none.
func (s *runState) relateTo(m *MethodData, member *symbols.Method) (bool, error) {
	if s.graph.IsInProgram(member) {
		other, err := s.methodFor(member)
		if err != nil {
			return false, err
		}
		m.relate(other)
		return true, nil
	}
	found := s.resolver.Find(member, nil, s.relationSearchOptions())
	m.addExternalRelation(ExternalRelation{Member: member, Counterparts: found})
	return len(found) > 0, nil
}

// preAnalyzeFunction handles lambdas and local functions: they inherit
// Ignore from an ignored type and otherwise run the abbreviated checks.
func (s *runState) preAnalyzeFunction(ctx context.Context, f *FunctionData) {
	reason := ""
	switch {
	case f.Type.Conversion() == TypeIgnore:
		reason = reasonTypeIgnored
	case f.Symbol.IsAsync || f.Symbol.HasAsyncName():
		f.mu.Lock()
		f.alreadyAsync = true
		f.mu.Unlock()
		reason = reasonAlreadyAsync
	case f.Symbol.HasOutParameter():
		reason = reasonOutParameter
	case f.IsLambda() && !isDirectArgument(f.Node):
		reason = reasonLambdaNotArgument
	}
	if reason == "" {
		f.setConversion(MethodUnknown, "")
		return
	}
	f.setConversion(MethodIgnore, reason)
	s.logIgnored(ctx, &f.Function, reason)
}

// isDirectArgument reports whether node is the value of an invocation
// argument, allowing parentheses and casts in between.
func isDirectArgument(node *syntax.Node) bool {
	cur := node
	for cur.Parent != nil && (cur.Parent.Kind == syntax.KindParenthesized || cur.Parent.Kind == syntax.KindCast) {
		cur = cur.Parent
	}
	arg := cur.Parent
	if arg == nil || arg.Kind != syntax.KindArgument {
		return false
	}
	list := arg.Parent
	return list != nil && list.Parent != nil && list.Parent.Kind == syntax.KindInvocation
}

// logIgnored logs a forced Ignore: Warn when the policy explicitly asked
// for ToAsync, Debug otherwise.
func (s *runState) logIgnored(ctx context.Context, f *Function, reason string) {
	level := slog.LevelDebug
	msg := "function ignored"
	if f.ExplicitToAsync() {
		level = slog.LevelWarn
		msg = "function configured as ToAsync cannot be converted"
	}
	s.logger.Log(ctx, level, msg,
		slog.String("function", f.Symbol.Signature()),
		slog.String("document", f.Document.Path()),
		slog.String("reason", reason),
	)
}

func (s *runState) declarationSearchOptions() counterpart.SearchOptions {
	opts := counterpart.EqualParameters | counterpart.IgnoreReturnType
	if s.opts.UseCancellationTokens {
		opts |= counterpart.HasCancellationToken
	}
	return opts
}

func (s *runState) relationSearchOptions() counterpart.SearchOptions {
	opts := counterpart.EqualParameters
	if s.opts.UseCancellationTokens {
		opts |= counterpart.HasCancellationToken
	}
	return opts
}

func (s *runState) referenceSearchOptions() counterpart.SearchOptions {
	opts := counterpart.Default
	if s.opts.UseCancellationTokens {
		opts |= counterpart.HasCancellationToken
	}
	if s.opts.SearchInheritedTypes {
		opts |= counterpart.SearchInheritedTypes
	}
	return opts
}
