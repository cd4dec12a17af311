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
	"fmt"

	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// discoverDocument finds the references of every surviving function of the
// document: body references and reverse references from other functions.
func (s *runState) discoverDocument(ctx context.Context, doc *DocumentData) error {
	for _, rec := range doc.Functions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := rec.Func()
		if f.Conversion() == MethodIgnore {
			continue
		}
		if err := s.scanBody(rec); err != nil {
			return fmt.Errorf("scanning %s: %w", f.Symbol.Signature(), err)
		}
		if err := s.findInvokers(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// scanBody records a reference for every method name in the body of rec.
// Nested function bodies belong to their own records and are skipped.
func (s *runState) scanBody(rec FunctionRecord) error {
	f := rec.Func()
	body := f.Node.Body()
	if body == nil {
		return nil
	}
	var scanErr error
	body.Walk(func(n *syntax.Node) bool {
		if scanErr != nil {
			return false
		}
		if n.Kind.IsNestedFunction() {
			return false
		}
		if n.Kind != syntax.KindIdentifier {
			return true
		}
		sym := s.fe.ReferencedMethod(n)
		if sym == nil {
			return true
		}
		sym = sym.Definition()
		target, err := s.targetFor(sym)
		if err != nil {
			scanErr = err
			return false
		}
		if !s.opts.ScanMethodBody && target == nil &&
			len(s.resolver.Find(sym, nil, s.referenceSearchOptions())) == 0 {
			return true
		}
		s.addReference(rec, n, target)
		return true
	})
	return scanErr
}

// findInvokers records the references to rec from other functions.
func (s *runState) findInvokers(ctx context.Context, rec FunctionRecord) error {
	f := rec.Func()
	nodes, err := s.graph.FindReferences(ctx, f.Symbol)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		ownerNode := n.EnclosingFunction()
		if ownerNode == nil {
			continue
		}
		owner, err := s.lookupFunction(ownerNode)
		if err != nil {
			return err
		}
		if owner == nil || owner.Func().Conversion() == MethodIgnore {
			continue
		}
		s.addReference(owner, n, rec)
	}
	return nil
}

// addReference returns the single reference record for a name node,
// creating it and linking it to its owner and target on first use.
func (s *runState) addReference(owner FunctionRecord, name *syntax.Node, target FunctionRecord) *InvocationReference {
	sym := s.fe.ReferencedMethod(name).Definition()
	ref, created := s.references.GetOrCreate(name, func() *InvocationReference {
		return newReference(owner, name, sym, target)
	})
	if created {
		owner.Func().References.Add(ref)
		if target != nil {
			target.Func().InvokedBy.Add(ref)
		}
	}
	return ref
}
