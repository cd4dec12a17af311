// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package symbols

import (
	"context"

	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// Document is one source file of the analyzed program.
type Document struct {
	// Path identifies the document. Unique within a program.
	Path string

	// Root is the compilation unit node.
	Root *syntax.Node
}

// FrontEnd is the external parser and binder the analysis runs against.
//
// Description:
//
//	A FrontEnd owns the syntax trees and answers symbol resolution queries
//	about them. The analysis never parses or binds on its own.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent queries once the program is
//	built. FindReferences may block and must honor ctx.
type FrontEnd interface {
	// AssemblyName is the name of the analyzed assembly. Symbols whose
	// AssemblyName differs are external.
	AssemblyName() string

	// Documents returns every document of the program in a stable order.
	Documents() []*Document

	// DeclaredSymbol returns the symbol declared by a type or function node,
	// or nil when the node declares nothing.
	DeclaredSymbol(node *syntax.Node) Symbol

	// ReferencedMethod returns the method a name node refers to (the callee
	// identifier of an invocation or a method group), or nil.
	ReferencedMethod(node *syntax.Node) *Method

	// TypeOf returns the static type of an expression node.
	TypeOf(expr *syntax.Node) (TypeRef, bool)

	// FindReferences returns the name nodes referring to m inside the program.
	FindReferences(ctx context.Context, m *Method) ([]*syntax.Node, error)

	// OverriddenMember returns the member m overrides, or nil.
	OverriddenMember(m *Method) *Method

	// FindImplementationForInterfaceMember returns the member of t that
	// implements the interface member, or nil.
	FindImplementationForInterfaceMember(t *Type, member *Method) *Method

	// DeclaringSyntax returns the declaration node of an internal symbol, or nil.
	DeclaringSyntax(s Symbol) *syntax.Node

	// FindType looks a type up by its full name, internal or external.
	FindType(fullName string) *Type
}
