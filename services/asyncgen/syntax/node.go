// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax defines the front-end neutral syntax tree consumed by the
// async analysis passes.
//
// Front-ends (tree-sitter C#, the in-memory builder used by tests) translate
// their own trees into Nodes. Node identity is pointer identity: analysis
// records are keyed by *Node and two distinct Nodes are never the same
// declaration.
package syntax

import (
	"fmt"
	"strings"
)

// Role describes the position a child occupies inside its parent.
type Role int

const (
	RoleNone Role = iota
	RoleCallee
	RoleArguments
	RoleExpression
	RoleMember
	RoleCondition
	RoleConsequence
	RoleAlternative
	RoleBody
	RoleLeft
	RoleRight
	RoleValue
)

// Position is a 1-based source location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String returns "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Before reports whether p precedes o in source order.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// Node is a single syntax tree node.
//
// Thread Safety: Nodes are built by a single front-end goroutine and are
// read-only afterwards; concurrent reads are safe.
type Node struct {
	// Kind is the grammatical category.
	Kind Kind

	// Role is the position of this node inside Parent.
	Role Role

	// Name is the declared or referenced identifier, when the node has one.
	Name string

	// Operator is the operator token for binary and assignment nodes.
	Operator string

	// Text is the source excerpt covered by the node.
	Text string

	// Pos is the start position.
	Pos Position

	// Parent is nil for compilation units.
	Parent *Node

	// Children in source order.
	Children []*Node
}

// New creates a detached node.
func New(kind Kind, name string) *Node {
	return &Node{Kind: kind, Name: name}
}

// Add appends child with the given role and returns n for chaining.
func (n *Node) Add(role Role, child *Node) *Node {
	if child == nil {
		return n
	}
	child.Parent = n
	child.Role = role
	n.Children = append(n.Children, child)
	return n
}

// Child returns the first child with the given role, or nil.
func (n *Node) Child(role Role) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Role == role {
			return c
		}
	}
	return nil
}

// ChildrenWith returns every child with the given role.
func (n *Node) ChildrenWith(role Role) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// Body returns the body of a function node: a block or an expression.
func (n *Node) Body() *Node {
	return n.Child(RoleBody)
}

// Statements returns the statements of a block, or the single statement of a
// non-block node.
func (n *Node) Statements() []*Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindBlock {
		return n.Children
	}
	return []*Node{n}
}

// Walk visits n and its descendants depth-first in source order. Returning
// false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Contains reports whether o is n or one of its descendants.
func (n *Node) Contains(o *Node) bool {
	for cur := o; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// EnclosingFunction returns the innermost function node strictly containing n.
func (n *Node) EnclosingFunction() *Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Kind.IsFunction() {
			return cur
		}
	}
	return nil
}

// EnclosingStatement returns the innermost statement containing n (n
// itself when n is a statement).
func (n *Node) EnclosingStatement() *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Kind.IsStatement() && cur.Kind != KindLocalFunction {
			return cur
		}
		if cur.Kind.IsFunction() {
			return nil
		}
	}
	return nil
}

// FindAncestor returns the innermost ancestor of the given kind, stopping at
// the boundary function node. A nil boundary searches to the root.
func (n *Node) FindAncestor(kind Kind, boundary *Node) *Node {
	for cur := n.Parent; cur != nil && cur != boundary; cur = cur.Parent {
		if cur.Kind == kind {
			return cur
		}
	}
	return nil
}

// String returns a short description for logs.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(n.Kind.String())
	if n.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(n.Name)
	}
	sb.WriteString(" @")
	sb.WriteString(n.Pos.String())
	return sb.String()
}
