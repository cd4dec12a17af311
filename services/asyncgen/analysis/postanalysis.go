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

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

const reasonNoAsyncReference = "no invocation can be converted"

// propagation holds the state of the post-analysis worklist.
//
// Description:
//
//	remaining is V: every function still waiting for a verdict, plus the
//	seeds that have not been traversed yet. A function leaves V the moment
//	it is dequeued, so cycles in the call graph are traversed once.
type propagation struct {
	s         *runState
	ctx       context.Context
	order     []*Function
	remaining map[*Function]bool
	queue     []*Function
	queued    map[*Function]bool
}

// postAnalyze runs the single-threaded propagation over the whole program.
//
// Description:
//
//	Step 1 traverses from every ToAsync function, Step 2 infers ToAsync
//	from converted references, Step 3 ignores the rest, Step 4 rolls the
//	verdicts up to types, and Step 5 extracts preconditions and derives
//	the flags of converted functions.
//
// Thread Safety: Not safe for concurrent use; runs after every document
// pass has joined.
func (s *runState) postAnalyze(ctx context.Context) error {
	p := &propagation{
		s:         s,
		ctx:       ctx,
		remaining: make(map[*Function]bool),
		queued:    make(map[*Function]bool),
	}
	for _, doc := range s.documents {
		for _, rec := range doc.Functions() {
			f := rec.Func()
			switch f.Conversion() {
			case MethodToAsync, MethodUnknown, MethodSmart:
				p.order = append(p.order, f)
				p.remaining[f] = true
			}
		}
	}

	// Step 1.
	for _, f := range p.order {
		if f.Conversion() == MethodToAsync {
			p.enqueue(f)
		}
	}
	p.drain()
	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 2.
	for _, f := range p.order {
		if !p.remaining[f] || f.Conversion() == MethodToAsync {
			continue
		}
		if hasConvertedReference(f) && f.resolve(MethodToAsync, "") {
			p.enqueue(f)
			p.drain()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 3.
	for _, f := range p.order {
		if !p.remaining[f] {
			continue
		}
		delete(p.remaining, f)
		switch {
		case f.Conversion() == MethodSmart && f.Type.Conversion() == TypeNewType:
			f.resolve(MethodCopy, "")
		case f.Conversion() == MethodUnknown || f.Conversion() == MethodSmart:
			f.resolve(MethodIgnore, reasonNoAsyncReference)
		}
	}

	// Step 4.
	for _, doc := range s.documents {
		for _, t := range doc.Types() {
			rollupType(t)
		}
	}

	// Step 5.
	for _, doc := range s.documents {
		for _, rec := range doc.Functions() {
			f := rec.Func()
			if f.Conversion() != MethodToAsync {
				continue
			}
			s.extractPreconditions(f)
			s.deriveFlags(rec)
		}
	}
	return ctx.Err()
}

func (p *propagation) enqueue(f *Function) {
	if p.queued[f] {
		return
	}
	p.queued[f] = true
	p.queue = append(p.queue, f)
}

// drain traverses the dependency edges breadth-first.
func (p *propagation) drain() {
	for len(p.queue) > 0 {
		seed := p.queue[0]
		p.queue = p.queue[1:]
		p.queued[seed] = false
		delete(p.remaining, seed)

		token := seed.CancellationTokenRequired()
		for _, ref := range seed.InvokedBy.Items() {
			if ref.Ignored() {
				continue
			}
			p.visit(seed, ref.Owner.Func(), ref, token)
		}
		if m, ok := seed.record().(*MethodData); ok {
			for _, rel := range m.Related.Items() {
				p.visit(seed, &rel.Function, nil, token)
			}
		}
	}
}

// visit applies one dependency edge from seed to dep.
func (p *propagation) visit(seed, dep *Function, ref *InvocationReference, token bool) {
	switch dep.Conversion() {
	case MethodIgnore:
		p.s.logger.Log(p.ctx, slog.LevelDebug, "dependency of converted function stays synchronous",
			slog.String("function", seed.Symbol.Signature()),
			slog.String("dependency", dep.Symbol.Signature()),
			slog.String("reason", dep.IgnoreReason()),
		)
		return
	case MethodCopy:
		return
	}

	resolved := false
	if p.remaining[dep] && dep.Conversion() != MethodToAsync {
		resolved = dep.resolve(MethodToAsync, "")
	}

	tokenAdded := false
	if token {
		tokenAdded = dep.setTokenRequired()
		if ref != nil {
			ref.setTokenRequired()
		}
	}

	switch {
	case resolved:
		p.enqueue(dep)
	case tokenAdded && dep.Conversion() == MethodToAsync:
		// Already traversed; walk again so the token reaches its own
		// dependencies.
		p.enqueue(dep)
	}
}

func hasConvertedReference(f *Function) bool {
	for _, ref := range f.References.Items() {
		if ref.Conversion() == MethodToAsync {
			return true
		}
	}
	return false
}

// rollupType derives the verdict of a type left Unknown by policy.
func rollupType(t *TypeData) {
	if t.IsPinned() || t.Conversion() != TypeUnknown {
		return
	}
	for _, m := range t.Methods.Values() {
		if m.Conversion() == MethodToAsync {
			t.setConversion(TypePartial, false)
			return
		}
	}
	t.setConversion(TypeIgnore, false)
}

// extractPreconditions collects the leading statements accepted by a
// precondition checker that precede the statement holding the first
// converted reference.
func (s *runState) extractPreconditions(f *Function) {
	body := f.Node.Body()
	if body == nil || body.Kind != syntax.KindBlock {
		return
	}
	first := firstConvertedReference(f)
	if first == nil {
		return
	}
	var out []*syntax.Node
	for _, stmt := range body.Children {
		if stmt.Contains(first.NameNode) {
			break
		}
		if !s.isPrecondition(stmt, f.Symbol) {
			break
		}
		out = append(out, stmt)
	}
	f.mu.Lock()
	f.preconditions = out
	f.mu.Unlock()
}

func (s *runState) isPrecondition(stmt *syntax.Node, m *symbols.Method) bool {
	for _, c := range s.opts.PreconditionCheckers {
		if c.IsPrecondition(stmt, m) {
			return true
		}
	}
	return false
}

func firstConvertedReference(f *Function) *InvocationReference {
	var first *InvocationReference
	for _, ref := range f.References.Items() {
		if ref.Conversion() != MethodToAsync {
			continue
		}
		if first == nil || ref.NameNode.Pos.Before(first.NameNode.Pos) {
			first = ref
		}
	}
	return first
}

// deriveFlags computes the structural flags of a converted function.
func (s *runState) deriveFlags(rec FunctionRecord) {
	f := rec.Func()
	body := f.Node.Body()

	var converted []*InvocationReference
	for _, ref := range f.References.Items() {
		if ref.Conversion() == MethodToAsync {
			converted = append(converted, ref)
		}
	}
	yields := containsKind(body, syntax.KindYield)
	preconditions := f.Preconditions()

	flags := Flags{
		PreserveReturnType:  f.Symbol.ReturnType.IsTaskShaped(),
		RewriteYields:       yields,
		Faulted:             onlyThrows(body),
		MustRunSynchronized: f.Symbol.IsSynchronized,
	}
	flags.OmitAsync = !yields && len(converted) > 0 && s.canOmitAsync(f, converted)
	if flags.OmitAsync && body != nil && body.Kind == syntax.KindBlock {
		flags.WrapInTryCatch = len(body.Children)-len(preconditions) > 1
	}
	flags.SplitTail = len(preconditions) > 0 && !flags.OmitAsync
	flags.CancellationToken = s.tokenMode(rec)
	flags.AddCancellationTokenGuards = flags.CancellationToken.HasParameter() && s.opts.CancellationTokenGuards

	f.mu.Lock()
	f.flags = flags
	f.mu.Unlock()
}

// canOmitAsync reports whether every converted reference hands its task
// straight back to the caller.
func (s *runState) canOmitAsync(f *Function, converted []*InvocationReference) bool {
	void := f.Symbol.ReturnType.IsVoid()
	for _, ref := range converted {
		if !ref.UsedAsReturnValue() && !(void && ref.LastInvocation()) {
			return false
		}
		for _, k := range []syntax.Kind{syntax.KindTry, syntax.KindUsing, syntax.KindLock} {
			if ref.NameNode.FindAncestor(k, f.Node) != nil {
				return false
			}
		}
	}
	return true
}

// tokenMode decides how a converted function takes a cancellation token.
func (s *runState) tokenMode(rec FunctionRecord) CancellationTokenMode {
	f := rec.Func()
	if !s.opts.UseCancellationTokens || !f.CancellationTokenRequired() {
		return TokenNone
	}
	if fd, ok := rec.(*FunctionData); ok {
		if fd.IsLambda() {
			return TokenForwardNone
		}
		return TokenRequired
	}
	m := rec.(*MethodData)
	sym := m.Symbol
	switch {
	case sym.Kind == symbols.MethodExplicitInterfaceImplementation:
		return TokenForwardNone
	case sym.IsOverride && sym.IsSealed:
		return TokenSealedForwardNone
	case sym.IsOverride || sym.IsVirtual || sym.IsAbstract || sym.IsInterfaceMember(),
		m.Related.Len() > 0, len(m.ExternalRelations()) > 0:
		return TokenRequired
	default:
		return TokenOptional
	}
}

// containsKind reports whether n contains a node of kind k outside nested
// functions.
func containsKind(n *syntax.Node, k syntax.Kind) bool {
	found := false
	n.Walk(func(c *syntax.Node) bool {
		if found || (c != n && c.Kind.IsNestedFunction()) {
			return false
		}
		if c.Kind == k {
			found = true
		}
		return !found
	})
	return found
}

// onlyThrows reports whether a block body consists of throw statements only.
func onlyThrows(body *syntax.Node) bool {
	if body == nil || body.Kind != syntax.KindBlock || len(body.Children) == 0 {
		return false
	}
	for _, stmt := range body.Children {
		if stmt.Kind != syntax.KindThrow {
			return false
		}
	}
	return true
}
