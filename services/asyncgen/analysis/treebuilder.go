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

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// buildDocument creates a record for every declaration of the document.
//
// Description:
//
//	Walks the document once. Records are created through the get-or-create
//	helpers, so the walk may race with lookups from other documents
//	(reverse references) without producing duplicate records.
//
// Thread Safety: Safe to run concurrently for different documents.
func (s *runState) buildDocument(ctx context.Context, doc *DocumentData) error {
	var walkErr error
	doc.Document.Root.Walk(func(n *syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		if err := ctx.Err(); err != nil {
			walkErr = err
			return false
		}
		switch {
		case n.Kind == syntax.KindNamespace:
			s.namespaceFor(doc, n)
		case n.Kind.IsTypeDeclaration():
			_, walkErr = s.typeFor(doc, n)
		case n.Kind.IsFunction():
			_, walkErr = s.functionFor(doc, n)
		case n.Kind == syntax.KindProperty || n.Kind == syntax.KindField:
			var t *TypeData
			if t, walkErr = s.enclosingType(doc, n); walkErr == nil && t != nil {
				if n.Kind == syntax.KindProperty {
					t.Properties.Add(n)
				} else {
					t.Fields.Add(n)
				}
			}
		}
		return true
	})
	return walkErr
}

// documentOf returns the record of the document containing node, or nil
// when the document does not participate.
func (s *runState) documentOf(node *syntax.Node) *DocumentData {
	root := node
	for root.Parent != nil {
		root = root.Parent
	}
	return s.docByRoot[root]
}

// namespaceFor returns the namespace record enclosing or equal to node. The
// compilation unit is the global namespace.
func (s *runState) namespaceFor(doc *DocumentData, node *syntax.Node) *NamespaceData {
	nsNode := node
	if nsNode.Kind != syntax.KindNamespace {
		nsNode = node.FindAncestor(syntax.KindNamespace, nil)
		if nsNode == nil {
			nsNode = doc.Document.Root
		}
	}
	ns, _ := doc.Namespaces.GetOrCreate(nsNode, func() *NamespaceData {
		name := ""
		if nsNode.Kind == syntax.KindNamespace {
			name = nsNode.Name
		}
		return &NamespaceData{Name: name, Node: nsNode, Document: doc}
	})
	return ns
}

// enclosingType returns the record of the nearest type declaration above
// node, or nil when there is none.
func (s *runState) enclosingType(doc *DocumentData, node *syntax.Node) (*TypeData, error) {
	for cur := node.Parent; cur != nil; cur = cur.Parent {
		if cur.Kind.IsTypeDeclaration() {
			return s.typeFor(doc, cur)
		}
	}
	return nil, nil
}

// typeFor returns the record of a type declaration node, creating it and
// its outer records on first use.
func (s *runState) typeFor(doc *DocumentData, node *syntax.Node) (*TypeData, error) {
	if t, ok := doc.types.Get(node); ok {
		return t, nil
	}
	sym, ok := s.fe.DeclaredSymbol(node).(*symbols.Type)
	if !ok || sym == nil {
		return nil, fmt.Errorf("no type symbol declared by %s", node)
	}
	outer, err := s.enclosingType(doc, node)
	if err != nil {
		return nil, err
	}
	ns := s.namespaceFor(doc, node)

	t, created := doc.types.GetOrCreate(node, func() *TypeData {
		return &TypeData{Symbol: sym, Node: node, Namespace: ns, Outer: outer}
	})
	if created {
		if outer != nil {
			outer.NestedTypes.GetOrCreate(node, func() *TypeData { return t })
		} else {
			ns.Types.GetOrCreate(node, func() *TypeData { return t })
		}
	}
	return t, nil
}

// functionFor returns the record of a function declaration node (method,
// constructor, operator, local function or lambda).
func (s *runState) functionFor(doc *DocumentData, node *syntax.Node) (FunctionRecord, error) {
	if f, ok := doc.functions.Get(node); ok {
		return f, nil
	}
	sym, ok := s.fe.DeclaredSymbol(node).(*symbols.Method)
	if !ok || sym == nil {
		return nil, fmt.Errorf("no method symbol declared by %s", node)
	}
	typ, err := s.enclosingType(doc, node)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, fmt.Errorf("function %s is not declared inside a type", node)
	}

	if node.Kind.IsMemberFunction() {
		rec, created := doc.functions.GetOrCreate(node, func() FunctionRecord {
			m := &MethodData{Function: Function{Symbol: sym, Node: node, Document: doc, Type: typ}}
			m.rec = m
			return m
		})
		if created {
			m := rec.(*MethodData)
			typ.Methods.GetOrCreate(node, func() *MethodData { return m })
		}
		return rec, nil
	}

	parentNode := node.EnclosingFunction()
	if parentNode == nil {
		return nil, fmt.Errorf("nested function %s has no enclosing function", node)
	}
	parent, err := s.functionFor(doc, parentNode)
	if err != nil {
		return nil, err
	}
	rec, created := doc.functions.GetOrCreate(node, func() FunctionRecord {
		fd := &FunctionData{Function: Function{Symbol: sym, Node: node, Document: doc, Type: typ, Parent: parent}}
		fd.rec = fd
		return fd
	})
	if created {
		fd := rec.(*FunctionData)
		parent.Func().Functions.GetOrCreate(node, func() *FunctionData { return fd })
	}
	return rec, nil
}

// lookupFunction returns the record declared by node in any participating
// document.
func (s *runState) lookupFunction(node *syntax.Node) (FunctionRecord, error) {
	doc := s.documentOf(node)
	if doc == nil {
		return nil, nil
	}
	return s.functionFor(doc, node)
}

// targetFor returns the record of an internal method, or nil when the
// method is external or declared in a non-participating document.
func (s *runState) targetFor(m *symbols.Method) (FunctionRecord, error) {
	if !s.graph.IsInProgram(m) {
		return nil, nil
	}
	node := s.graph.DeclaringSyntax(m)
	if node == nil {
		return nil, nil
	}
	return s.lookupFunction(node)
}

// methodFor is targetFor restricted to type members.
func (s *runState) methodFor(m *symbols.Method) (*MethodData, error) {
	rec, err := s.targetFor(m)
	if err != nil || rec == nil {
		return nil, err
	}
	md, _ := rec.(*MethodData)
	return md, nil
}
