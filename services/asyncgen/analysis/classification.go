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

// Ignore reasons recorded by classification.
const (
	reasonInsideQuery           = "invoked inside a query expression"
	reasonAssigned              = "method reference assigned to a variable or event"
	reasonUnsupportedContext    = "reference used in an unsupported context"
	reasonNoAsyncDelegate       = "no async overload accepts the delegate argument"
	reasonExternalNoCounterpart = "external method without async counterpart"
	reasonArgumentIgnored       = "passed to an invocation that will not be converted"
)

// classifyDocument classifies the references owned by the document's
// functions.
func (s *runState) classifyDocument(ctx context.Context, doc *DocumentData) error {
	for _, rec := range doc.Functions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Func().Conversion() == MethodIgnore {
			continue
		}
		for _, ref := range rec.Func().References.Items() {
			if err := s.classifyReference(ctx, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// classifyReference ascends from the reference's name node through the
// syntax tree until the usage context is determined.
//
// Description:
//
//	Every syntax kind has an explicit rule. Wrapper expressions continue the
//	ascent, invocations and arguments end it with a classification, and
//	contexts that store the method reference disable conversion. A kind
//	without a rule is a fatal *UnsupportedSyntaxError.
func (s *runState) classifyReference(ctx context.Context, ref *InvocationReference) error {
	ref.mu.Lock()
	if ref.classified {
		ref.mu.Unlock()
		return nil
	}
	ref.classified = true
	ref.mu.Unlock()

	owner := ref.Owner.Func()
	node := ref.NameNode
	for {
		parent := node.Parent
		if parent == nil || parent == owner.Node {
			s.ignoreReference(ctx, ref, UsageUnsupported, reasonUnsupportedContext, slog.LevelDebug)
			return s.runInvocationAnalyzers(ref)
		}

		switch parent.Kind {
		// Wrappers: keep ascending.
		case syntax.KindParenthesized, syntax.KindCast, syntax.KindConditional:
			node = parent
			continue

		case syntax.KindMemberAccess:
			if node.Role == syntax.RoleMember {
				node = parent
				continue
			}
			s.ignoreReference(ctx, ref, UsageUnsupported, reasonUnsupportedContext, slog.LevelDebug)

		case syntax.KindInvocation:
			if node.Role != syntax.RoleCallee {
				s.ignoreReference(ctx, ref, UsageUnsupported, reasonUnsupportedContext, slog.LevelDebug)
				break
			}
			s.classifyInvocation(ctx, ref, parent)

		case syntax.KindArgument:
			s.classifyDelegateArgument(ctx, ref, parent)

		case syntax.KindAssignment, syntax.KindVariableDeclarator, syntax.KindEventSubscription:
			s.ignoreReference(ctx, ref, UsageAssigned, reasonAssigned, slog.LevelWarn)

		case syntax.KindQuery:
			s.ignoreReference(ctx, ref, UsageQuery, reasonInsideQuery, slog.LevelDebug)

		// Contexts a method group cannot be converted in.
		case syntax.KindCompilationUnit, syntax.KindNamespace, syntax.KindClass, syntax.KindInterface,
			syntax.KindStruct, syntax.KindMethod, syntax.KindConstructor, syntax.KindOperator,
			syntax.KindProperty, syntax.KindField, syntax.KindLocalFunction, syntax.KindLambda,
			syntax.KindBlock, syntax.KindExpressionStatement, syntax.KindReturn, syntax.KindIf,
			syntax.KindThrow, syntax.KindLocalDeclaration, syntax.KindLock, syntax.KindYield,
			syntax.KindTry, syntax.KindUsing, syntax.KindLoop, syntax.KindOtherStatement,
			syntax.KindArgumentList, syntax.KindAwait, syntax.KindBinary, syntax.KindObjectCreation,
			syntax.KindOtherExpression:
			s.ignoreReference(ctx, ref, UsageUnsupported, reasonUnsupportedContext, slog.LevelDebug)

		// Leaves cannot be parents of a name.
		case syntax.KindIdentifier, syntax.KindLiteral, syntax.KindThis:
			return s.unsupportedSyntax(ref, parent)

		default:
			return s.unsupportedSyntax(ref, parent)
		}
		return s.runInvocationAnalyzers(ref)
	}
}

func (s *runState) unsupportedSyntax(ref *InvocationReference, node *syntax.Node) error {
	owner := ref.Owner.Func()
	return &UnsupportedSyntaxError{
		Kind:     node.Kind,
		Position: node.Pos,
		Document: owner.Document.Path(),
		Function: owner.Symbol.Signature(),
		Symbol:   ref.Symbol.Signature(),
	}
}

// classifyInvocation handles a reference that is the callee of inv.
func (s *runState) classifyInvocation(ctx context.Context, ref *InvocationReference, inv *syntax.Node) {
	owner := ref.Owner.Func()
	ref.update(func(r *InvocationReference) {
		r.invocation = inv
		r.usage = UsageInvoked
	})

	if inv.FindAncestor(syntax.KindQuery, owner.Node) != nil {
		s.ignoreReference(ctx, ref, UsageQuery, reasonInsideQuery, slog.LevelDebug)
		s.ignoreDelegateArguments(ctx, ref, inv, nil)
		return
	}
	if lock := inv.FindAncestor(syntax.KindLock, owner.Node); lock != nil {
		ref.update(func(r *InvocationReference) { r.insideLock = true })
		owner.Locks.Add(lock)
	}

	sym := ref.Symbol
	counterparts := s.resolver.Find(sym, s.invokedFromType(inv), s.referenceSearchOptions())

	canBeAwaited := true
	if len(counterparts) > 0 {
		awaitable := false
		for _, c := range counterparts {
			if c.ReturnsAwaitable() {
				awaitable = true
				break
			}
		}
		canBeAwaited = awaitable
	}

	syncAwaited := false
	if sym.ReturnsAwaitable() {
		syncAwaited = isSynchronouslyAwaited(inv)
		if syncAwaited {
			// Awaiting the call itself replaces the blocking unwrap.
			counterparts = appendUnique(counterparts, sym)
		} else if !s.opts.AlwaysAwait {
			canBeAwaited = false
		}
	}

	tokenRequired := false
	if s.opts.UseCancellationTokens {
		for _, c := range counterparts {
			if c != sym && counterpart.HasTrailingCancellationToken(sym, c) {
				tokenRequired = true
				break
			}
		}
	}

	stmt := inv.EnclosingStatement()
	usedAsReturn := false
	if stmt != nil {
		usedAsReturn = stmt.Kind == syntax.KindReturn && unwrap(stmt.Child(syntax.RoleExpression)) == inv
	} else if body := owner.Node.Body(); body != nil && body.Kind != syntax.KindBlock {
		usedAsReturn = unwrap(body) == inv
	}
	last := isLastInvocation(owner.Node, stmt, inv)

	ref.update(func(r *InvocationReference) {
		r.counterparts = counterparts
		r.canBeAwaited = canBeAwaited
		r.synchronouslyAwaited = syncAwaited
		r.usedAsReturnValue = usedAsReturn
		r.lastInvocation = last
		r.awaitRequired = canBeAwaited && !usedAsReturn
		if tokenRequired {
			r.tokenRequired = true
		}
	})
	if tokenRequired {
		owner.setTokenRequired()
	}

	if len(counterparts) == 0 && !s.graph.IsInProgram(sym) {
		ref.ignore(reasonExternalNoCounterpart)
	}
	s.ignoreDelegateArguments(ctx, ref, inv, counterparts)
}

// ignoreDelegateArguments forces Ignore on lambdas passed to inv when the
// reference is ignored or no counterpart accepts an async delegate at the
// lambda's position.
func (s *runState) ignoreDelegateArguments(ctx context.Context, ref *InvocationReference, inv *syntax.Node, counterparts []*symbols.Method) {
	args := inv.Child(syntax.RoleArguments)
	if args == nil {
		return
	}
	for i, arg := range args.Children {
		value := unwrap(arg.Child(syntax.RoleValue))
		if value == nil || value.Kind != syntax.KindLambda {
			continue
		}
		rec, err := s.lookupFunction(value)
		if err != nil || rec == nil {
			continue
		}
		fn := rec.Func()
		if fn.Conversion() == MethodIgnore {
			continue
		}
		reason := ""
		if ref.Ignored() {
			reason = reasonArgumentIgnored
		} else if !acceptsAsyncDelegate(ref.Symbol, counterparts, i) {
			reason = reasonNoAsyncDelegate
		}
		if reason != "" && fn.setConversion(MethodIgnore, reason) {
			s.logIgnored(ctx, fn, reason)
		}
	}
}

// classifyDelegateArgument handles a method group passed as an argument.
func (s *runState) classifyDelegateArgument(ctx context.Context, ref *InvocationReference, arg *syntax.Node) {
	list := arg.Parent
	if list == nil || list.Parent == nil || list.Parent.Kind != syntax.KindInvocation {
		s.ignoreReference(ctx, ref, UsageUnsupported, reasonUnsupportedContext, slog.LevelDebug)
		return
	}
	outer := list.Parent
	position := -1
	for i, c := range list.Children {
		if c == arg {
			position = i
			break
		}
	}
	outerSym := s.fe.ReferencedMethod(calleeName(outer))
	if outerSym == nil || position < 0 || position >= len(outerSym.Parameters) ||
		!outerSym.Parameters[position].Type.IsDelegate() {
		s.ignoreReference(ctx, ref, UsageDelegateArgument, reasonUnsupportedContext, slog.LevelDebug)
		return
	}
	outerCounterparts := s.resolver.Find(outerSym.Definition(), s.invokedFromType(outer), s.referenceSearchOptions())
	if !acceptsAsyncDelegate(outerSym, outerCounterparts, position) {
		s.ignoreReference(ctx, ref, UsageDelegateArgument, reasonNoAsyncDelegate, slog.LevelDebug)
		return
	}
	counterparts := s.resolver.Find(ref.Symbol, nil, s.referenceSearchOptions())
	ref.update(func(r *InvocationReference) {
		r.usage = UsageDelegateArgument
		r.counterparts = counterparts
		r.canBeAwaited = false
	})
	if len(counterparts) == 0 && !s.graph.IsInProgram(ref.Symbol) {
		ref.ignore(reasonExternalNoCounterpart)
	}
}

func (s *runState) ignoreReference(ctx context.Context, ref *InvocationReference, usage ReferenceUsage, reason string, level slog.Level) {
	ref.update(func(r *InvocationReference) {
		if r.usage == UsageUnclassified || r.usage == UsageInvoked {
			r.usage = usage
		}
	})
	ref.ignore(reason)
	owner := ref.Owner.Func()
	s.logger.Log(ctx, level, "reference cannot be converted",
		slog.String("reference", ref.Symbol.Signature()),
		slog.String("function", owner.Symbol.Signature()),
		slog.String("document", owner.Document.Path()),
		slog.String("position", ref.NameNode.Pos.String()),
		slog.String("reason", reason),
	)
}

func (s *runState) runInvocationAnalyzers(ref *InvocationReference) error {
	for _, a := range s.opts.InvocationAnalyzers {
		if reason := a.AnalyzeInvocation(ref); reason != "" {
			ref.ignore(reason)
		}
	}
	return nil
}

// invokedFromType returns the static type of the receiver of inv.
func (s *runState) invokedFromType(inv *syntax.Node) *symbols.Type {
	callee := inv.Child(syntax.RoleCallee)
	if callee == nil || callee.Kind != syntax.KindMemberAccess {
		return nil
	}
	t, ok := s.fe.TypeOf(callee.Child(syntax.RoleExpression))
	if !ok {
		return nil
	}
	return s.graph.FindType(t.Name)
}

// isSynchronouslyAwaited reports whether the task returned by inv is
// unwrapped with .Result, .Wait() or .GetAwaiter().GetResult(), optionally
// after .ConfigureAwait(...).
func isSynchronouslyAwaited(inv *syntax.Node) bool {
	cur := inv
	for {
		access := cur.Parent
		if access == nil || access.Kind != syntax.KindMemberAccess || cur.Role != syntax.RoleExpression {
			return false
		}
		switch access.Name {
		case "Result":
			return true
		case "Wait":
			return access.Parent != nil && access.Parent.Kind == syntax.KindInvocation
		case "ConfigureAwait", "GetAwaiter":
			call := access.Parent
			if call == nil || call.Kind != syntax.KindInvocation {
				return false
			}
			cur = call
		case "GetResult":
			return access.Parent != nil && access.Parent.Kind == syntax.KindInvocation
		default:
			return false
		}
	}
}

// isLastInvocation reports whether inv is the whole expression of the
// final statement of the function body, ignoring a trailing bare return.
func isLastInvocation(fn, stmt, inv *syntax.Node) bool {
	body := fn.Body()
	if body == nil || stmt == nil || body.Kind != syntax.KindBlock {
		return false
	}
	if stmt.Kind != syntax.KindExpressionStatement || unwrap(stmt.Child(syntax.RoleExpression)) != inv {
		return false
	}
	stmts := body.Children
	n := len(stmts)
	if n > 0 && stmts[n-1].Kind == syntax.KindReturn && stmts[n-1].Child(syntax.RoleExpression) == nil {
		n--
	}
	return n > 0 && stmts[n-1] == stmt
}

// acceptsAsyncDelegate reports whether a counterpart takes the async shape
// of the delegate parameter of sync at position.
func acceptsAsyncDelegate(sync *symbols.Method, counterparts []*symbols.Method, position int) bool {
	if position < 0 || position >= len(sync.Parameters) {
		return false
	}
	param := sync.Parameters[position].Type
	if !param.IsDelegate() {
		return false
	}
	want := param.AsyncDelegate()
	for _, c := range counterparts {
		offset := 0
		if c.IsExtension && !sync.IsExtension {
			offset = 1
		}
		idx := position + offset
		if idx < len(c.Parameters) && c.Parameters[idx].Type.Equal(want) {
			return true
		}
	}
	return false
}

// calleeName returns the name node of an invocation's callee.
func calleeName(inv *syntax.Node) *syntax.Node {
	callee := inv.Child(syntax.RoleCallee)
	if callee != nil && callee.Kind == syntax.KindMemberAccess {
		return callee.Child(syntax.RoleMember)
	}
	return callee
}

// unwrap strips parentheses and casts.
func unwrap(n *syntax.Node) *syntax.Node {
	for n != nil && (n.Kind == syntax.KindParenthesized || n.Kind == syntax.KindCast) {
		n = n.Child(syntax.RoleExpression)
	}
	return n
}

func appendUnique(list []*symbols.Method, m *symbols.Method) []*symbols.Method {
	for _, c := range list {
		if c == m {
			return list
		}
	}
	out := make([]*symbols.Method, 0, len(list)+1)
	out = append(out, list...)
	return append(out, m)
}
