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
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// snapshot copies the records into a detached result. Every collection is
// copied into a fixed, ordered slice.
func (s *runState) snapshot() *result.Result {
	r := &result.Result{
		ID:        uuid.NewString(),
		Assembly:  s.fe.AssemblyName(),
		CreatedAt: time.Now().UTC(),
		Documents: make([]result.Document, 0, len(s.documents)),
	}
	for _, doc := range s.documents {
		rd := result.Document{Path: doc.Path()}
		for _, ns := range doc.Namespaces.Values() {
			rn := result.Namespace{Name: ns.Name}
			for _, t := range ns.Types.Values() {
				rn.Types = append(rn.Types, snapshotType(t, &r.Stats))
			}
			if len(rn.Types) > 0 {
				rd.Namespaces = append(rd.Namespaces, rn)
			}
		}
		r.Documents = append(r.Documents, rd)
	}
	r.Stats.Documents = len(r.Documents)
	return r
}

func snapshotType(t *TypeData, stats *result.Stats) result.Type {
	rt := result.Type{
		Name:       t.Symbol.Name,
		FullName:   t.Symbol.FullName(),
		Kind:       t.Symbol.Kind.String(),
		Conversion: t.Conversion().String(),
		Methods:    []result.Method{},
	}
	stats.Types++
	if t.Conversion() == TypePartial {
		stats.PartialTypes++
	}
	for _, m := range t.Methods.Values() {
		fn := snapshotFunction(&m.Function, stats)
		fn.Details = snapshotMethodExtra(m)
		rt.Methods = append(rt.Methods, fn)
		stats.Methods++
		switch m.Conversion() {
		case MethodToAsync:
			stats.ToAsyncMethods++
		case MethodIgnore:
			stats.IgnoredMethods++
		case MethodCopy:
			stats.CopiedMethods++
		}
	}
	for _, p := range t.Properties.Items() {
		rt.Properties = append(rt.Properties, result.Member{Name: p.Name, Type: p.Text})
	}
	for _, f := range t.Fields.Items() {
		rt.Fields = append(rt.Fields, result.Member{Name: f.Name, Type: f.Text})
	}
	for _, nested := range t.NestedTypes.Values() {
		rt.NestedTypes = append(rt.NestedTypes, snapshotType(nested, stats))
	}
	return rt
}

func snapshotFunction(f *Function, stats *result.Stats) result.Function {
	flags := f.Flags()
	rf := result.Function{
		ID:                         string(f.Symbol.ID),
		Name:                       f.Symbol.Name,
		Kind:                       f.Symbol.Kind.String(),
		Signature:                  f.Symbol.Signature(),
		Conversion:                 f.Conversion().String(),
		IgnoreReason:               f.IgnoreReason(),
		IsAlreadyAsync:             f.IsAlreadyAsync(),
		OmitAsync:                  flags.OmitAsync,
		WrapInTryCatch:             flags.WrapInTryCatch,
		SplitTail:                  flags.SplitTail,
		PreserveReturnType:         flags.PreserveReturnType,
		Faulted:                    flags.Faulted,
		RewriteYields:              flags.RewriteYields,
		MustRunSynchronized:        flags.MustRunSynchronized,
		AddCancellationTokenGuards: flags.AddCancellationTokenGuards,
		CancellationToken:          flags.CancellationToken.String(),
		Position:                   position(f.Node.Pos),
		Document:                   f.Document.Path(),
	}
	for _, c := range f.ConversionHistory() {
		rf.History = append(rf.History, c.String())
	}
	for _, stmt := range f.Preconditions() {
		rf.Preconditions = append(rf.Preconditions, result.Statement{
			Kind:     stmt.Kind.String(),
			Text:     stmt.Text,
			Position: position(stmt.Pos),
		})
	}

	refs := f.References.Items()
	sortReferences(refs)
	for _, ref := range refs {
		rf.References = append(rf.References, snapshotReference(ref))
		stats.References++
		if ref.Conversion() == MethodToAsync {
			stats.ToAsyncReference++
		}
	}

	invokers := f.InvokedBy.Items()
	sortReferences(invokers)
	for _, ref := range invokers {
		rf.InvokedBy = append(rf.InvokedBy, ref.Owner.Func().Symbol.Signature())
	}

	for _, lock := range f.Locks.Items() {
		rf.Locks = append(rf.Locks, position(lock.Pos))
	}
	for _, nested := range f.Functions.Values() {
		rf.Functions = append(rf.Functions, snapshotFunction(&nested.Function, stats))
		stats.Functions++
	}
	return rf
}

func snapshotMethodExtra(m *MethodData) *result.MethodExtra {
	extra := &result.MethodExtra{}
	for _, rel := range m.Related.Items() {
		extra.RelatedMethods = append(extra.RelatedMethods, rel.Symbol.Signature())
	}
	sort.Strings(extra.RelatedMethods)
	for _, rel := range m.ExternalRelations() {
		extra.ExternalRelations = append(extra.ExternalRelations, result.ExternalRelation{
			Member:       rel.Member.Signature(),
			Counterparts: signatures(rel.Counterparts),
		})
	}
	extra.ExistingCounterparts = signatures(m.ExistingCounterparts())
	if len(extra.RelatedMethods) == 0 && len(extra.ExternalRelations) == 0 && len(extra.ExistingCounterparts) == 0 {
		return nil
	}
	return extra
}

func snapshotReference(ref *InvocationReference) result.Reference {
	rr := result.Reference{
		Symbol:                    ref.Symbol.Signature(),
		Owner:                     ref.Owner.Func().Symbol.Signature(),
		Conversion:                ref.Conversion().String(),
		Counterparts:              signatures(ref.Counterparts()),
		Position:                  position(ref.NameNode.Pos),
		UsedAsReturnValue:         ref.UsedAsReturnValue(),
		LastInvocation:            ref.LastInvocation(),
		PassedAsArgument:          ref.Usage() == UsageDelegateArgument,
		AwaitRequired:             ref.AwaitRequired(),
		CanBeAwaited:              ref.CanBeAwaited(),
		SynchronouslyAwaited:      ref.SynchronouslyAwaited(),
		CancellationTokenRequired: ref.CancellationTokenRequired(),
		InsideLock:                ref.InsideLock(),
		Ignored:                   ref.Ignored(),
		IgnoreReason:              ref.IgnoreReason(),
	}
	if ref.Target != nil {
		rr.Target = string(ref.Target.Func().Symbol.ID)
	}
	return rr
}

func sortReferences(refs []*InvocationReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Owner.Func().Document != b.Owner.Func().Document {
			return a.Owner.Func().Document.Path() < b.Owner.Func().Document.Path()
		}
		return a.NameNode.Pos.Before(b.NameNode.Pos)
	})
}

func signatures(ms []*symbols.Method) []string {
	if len(ms) == 0 {
		return nil
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Signature()
	}
	return out
}

func position(p syntax.Position) result.Position {
	return result.Position{Line: p.Line, Column: p.Column}
}
