// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements symbols.FrontEnd over syntax trees and symbol
// tables held in memory.
//
// The C# front-end fills a Program from tree-sitter output; tests build one
// with the Builder DSL.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// ErrFrozen is returned when a Program is modified after Freeze.
var ErrFrozen = errors.New("program is frozen")

// Program is an in-memory symbols.FrontEnd.
//
// Thread Safety:
//
//	Mutating methods are not safe for concurrent use. After Freeze every query
//	is read-only and safe for concurrent use.
type Program struct {
	assembly string
	docs     []*symbols.Document

	types     map[string]*symbols.Type
	declared  map[*syntax.Node]symbols.Symbol
	declaring map[symbols.SymbolID]*syntax.Node
	bindings  map[*syntax.Node]*symbols.Method
	exprTypes map[*syntax.Node]symbols.TypeRef

	references map[*symbols.Method][]*syntax.Node
	ids        map[symbols.SymbolID]int
	frozen     bool
}

// NewProgram creates an empty program for the named assembly.
func NewProgram(assembly string) *Program {
	return &Program{
		assembly:   assembly,
		types:      make(map[string]*symbols.Type),
		declared:   make(map[*syntax.Node]symbols.Symbol),
		declaring:  make(map[symbols.SymbolID]*syntax.Node),
		bindings:   make(map[*syntax.Node]*symbols.Method),
		exprTypes:  make(map[*syntax.Node]symbols.TypeRef),
		references: make(map[*symbols.Method][]*syntax.Node),
		ids:        make(map[symbols.SymbolID]int),
	}
}

// uniqueID returns base, suffixed with a counter when base is already taken.
func (p *Program) uniqueID(base string) symbols.SymbolID {
	id := symbols.SymbolID(base)
	n := p.ids[id]
	p.ids[id] = n + 1
	if n == 0 {
		return id
	}
	return symbols.SymbolID(fmt.Sprintf("%s#%d", base, n))
}

// AddType registers a type. Types without an assembly belong to the program.
func (p *Program) AddType(t *symbols.Type) *symbols.Type {
	if t.Assembly == "" {
		t.Assembly = p.assembly
	}
	if t.ID == "" {
		t.ID = p.uniqueID("T:" + t.FullName())
	}
	p.types[t.FullName()] = t
	return t
}

// AddMethod attaches m to t and assigns it an ID.
func (p *Program) AddMethod(t *symbols.Type, m *symbols.Method) *symbols.Method {
	if t != nil {
		t.AddMethod(m)
	} else if m.Assembly == "" {
		m.Assembly = p.assembly
	}
	if m.ID == "" {
		m.ID = p.uniqueID("M:" + m.Signature())
	}
	return m
}

// AddFunction assigns an ID to a local or anonymous function symbol owned by
// the program.
func (p *Program) AddFunction(m *symbols.Method) *symbols.Method {
	if m.Assembly == "" {
		m.Assembly = p.assembly
	}
	if m.ID == "" {
		m.ID = p.uniqueID("F:" + m.FullName())
	}
	return m
}

// AddDocument appends a document.
func (p *Program) AddDocument(path string, root *syntax.Node) *symbols.Document {
	doc := &symbols.Document{Path: path, Root: root}
	p.docs = append(p.docs, doc)
	return doc
}

// Declare records that node declares s.
func (p *Program) Declare(node *syntax.Node, s symbols.Symbol) {
	p.declared[node] = s
	p.declaring[s.SymbolID()] = node
}

// Bind records that the name node refers to m.
func (p *Program) Bind(node *syntax.Node, m *symbols.Method) {
	p.bindings[node] = m
}

// SetType records the static type of an expression.
func (p *Program) SetType(expr *syntax.Node, t symbols.TypeRef) {
	p.exprTypes[expr] = t
}

// Type returns a registered type by full name.
func (p *Program) Type(fullName string) *symbols.Type {
	return p.types[fullName]
}

// Freeze assigns source positions where missing and builds the reference
// table. The program must not be modified afterwards.
func (p *Program) Freeze() error {
	if p.frozen {
		return ErrFrozen
	}
	for _, doc := range p.docs {
		line := 0
		doc.Root.Walk(func(n *syntax.Node) bool {
			line++
			if n.Pos.Line == 0 {
				n.Pos = syntax.Position{Line: line, Column: 1}
			}
			if m, ok := p.bindings[n]; ok {
				def := m.Definition()
				p.references[def] = append(p.references[def], n)
			}
			return true
		})
	}
	p.frozen = true
	return nil
}

// AssemblyName implements symbols.FrontEnd.
func (p *Program) AssemblyName() string {
	return p.assembly
}

// Documents implements symbols.FrontEnd.
func (p *Program) Documents() []*symbols.Document {
	out := make([]*symbols.Document, len(p.docs))
	copy(out, p.docs)
	return out
}

// DeclaredSymbol implements symbols.FrontEnd.
func (p *Program) DeclaredSymbol(node *syntax.Node) symbols.Symbol {
	return p.declared[node]
}

// ReferencedMethod implements symbols.FrontEnd.
func (p *Program) ReferencedMethod(node *syntax.Node) *symbols.Method {
	return p.bindings[node]
}

// TypeOf implements symbols.FrontEnd. Invocations and bound member accesses
// fall back to the return type of the invoked method.
func (p *Program) TypeOf(expr *syntax.Node) (symbols.TypeRef, bool) {
	if expr == nil {
		return symbols.TypeRef{}, false
	}
	if t, ok := p.exprTypes[expr]; ok {
		return t, true
	}
	switch expr.Kind {
	case syntax.KindInvocation:
		callee := expr.Child(syntax.RoleCallee)
		if callee != nil && callee.Kind == syntax.KindMemberAccess {
			callee = callee.Child(syntax.RoleMember)
		}
		if m := p.bindings[callee]; m != nil {
			return m.ReturnType, true
		}
	case syntax.KindParenthesized:
		return p.TypeOf(expr.Child(syntax.RoleExpression))
	case syntax.KindAwait:
		if t, ok := p.TypeOf(expr.Child(syntax.RoleExpression)); ok {
			return t.Unwrapped(), true
		}
	}
	return symbols.TypeRef{}, false
}

// FindReferences implements symbols.FrontEnd.
func (p *Program) FindReferences(ctx context.Context, m *symbols.Method) ([]*syntax.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.frozen {
		return nil, fmt.Errorf("find references to %s: program not frozen", m.Signature())
	}
	src := p.references[m.Definition()]
	out := make([]*syntax.Node, len(src))
	copy(out, src)
	return out, nil
}

// OverriddenMember implements symbols.FrontEnd.
func (p *Program) OverriddenMember(m *symbols.Method) *symbols.Method {
	return m.Overridden
}

// FindImplementationForInterfaceMember implements symbols.FrontEnd. Explicit
// implementations win over implicit ones; the search walks base types.
func (p *Program) FindImplementationForInterfaceMember(t *symbols.Type, member *symbols.Method) *symbols.Method {
	for cur := t; cur != nil; cur = cur.BaseType {
		for _, m := range cur.Methods {
			for _, e := range m.ExplicitInterfaceImplementations {
				if e == member {
					return m
				}
			}
		}
	}
	for cur := t; cur != nil; cur = cur.BaseType {
		for _, m := range cur.Methods {
			if m.Kind == symbols.MethodOrdinary && !m.IsStatic && m.Name == member.Name && sameParameters(m, member) {
				return m
			}
		}
	}
	return nil
}

// DeclaringSyntax implements symbols.FrontEnd.
func (p *Program) DeclaringSyntax(s symbols.Symbol) *syntax.Node {
	if s == nil {
		return nil
	}
	return p.declaring[s.SymbolID()]
}

// FindType implements symbols.FrontEnd.
func (p *Program) FindType(fullName string) *symbols.Type {
	return p.types[fullName]
}

func sameParameters(a, b *symbols.Method) bool {
	if len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for i := range a.Parameters {
		if a.Parameters[i].RefKind != b.Parameters[i].RefKind || !a.Parameters[i].Type.Equal(b.Parameters[i].Type) {
			return false
		}
	}
	return true
}

var _ symbols.FrontEnd = (*Program)(nil)
