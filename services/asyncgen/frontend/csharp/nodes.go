// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package csharp

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// Helpers over tree-sitter nodes. Grammar versions differ in field names
// (e.g. "type" vs "returns" for method return types), so lookups accept
// several candidates.

var modifierKeywords = map[string]bool{
	"public": true, "private": true, "protected": true, "internal": true,
	"static": true, "sealed": true, "abstract": true, "virtual": true,
	"override": true, "async": true, "extern": true, "partial": true,
	"readonly": true, "unsafe": true, "new": true, "const": true,
	"volatile": true, "required": true, "file": true,
}

var typeDeclarations = map[string]syntax.Kind{
	"class_declaration":         syntax.KindClass,
	"record_declaration":        syntax.KindClass,
	"interface_declaration":     syntax.KindInterface,
	"struct_declaration":        syntax.KindStruct,
	"record_struct_declaration": syntax.KindStruct,
}

// isTypeSyntax reports whether a node type only ever names a type.
func isTypeSyntax(t string) bool {
	switch t {
	case "predefined_type", "array_type", "nullable_type", "pointer_type",
		"tuple_type", "ref_type", "function_pointer_type", "implicit_type",
		"type_argument_list", "type_parameter_list",
		"type_parameter_constraints_clause", "attribute_list":
		return true
	}
	return false
}

func content(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func position(n *sitter.Node) syntax.Position {
	p := n.StartPoint()
	return syntax.Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1}
}

// field returns the first child found under any of the field names.
func field(n *sitter.Node, names ...string) *sitter.Node {
	if n == nil {
		return nil
	}
	for _, name := range names {
		if c := n.ChildByFieldName(name); c != nil {
			return c
		}
	}
	return nil
}

// named returns the named children, without comments and preprocessor lines.
func named(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		if t := c.Type(); t == "comment" || strings.HasPrefix(t, "preproc") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// firstNamed returns the first named child of one of the types, or the
// first named child at all when no type is given.
func firstNamed(n *sitter.Node, types ...string) *sitter.Node {
	for _, c := range named(n) {
		if len(types) == 0 {
			return c
		}
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// lastNamed returns the last named child not of one of the excluded types.
func lastNamed(n *sitter.Node, exclude ...string) *sitter.Node {
	children := named(n)
	for i := len(children) - 1; i >= 0; i-- {
		skip := false
		for _, t := range exclude {
			if children[i].Type() == t {
				skip = true
				break
			}
		}
		if !skip {
			return children[i]
		}
	}
	return nil
}

// modifiers returns the modifier keywords of a declaration.
func modifiers(n *sitter.Node, src []byte) map[string]bool {
	out := make(map[string]bool)
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch {
		case c.Type() == "modifier":
			out[strings.TrimSpace(content(c, src))] = true
		case !c.IsNamed() && modifierKeywords[c.Type()]:
			out[c.Type()] = true
		}
	}
	return out
}

// hasToken reports whether n has a direct child with the given type or text.
func hasToken(n *sitter.Node, src []byte, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && (c.Type() == token || (c.ChildCount() == 0 && content(c, src) == token)) {
			return true
		}
	}
	return false
}

// nameOf returns the identifier of a simple or generic name.
func nameOf(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	if n.Type() == "generic_name" {
		if id := firstNamed(n, "identifier"); id != nil {
			return content(id, src)
		}
	}
	return strings.TrimSpace(content(n, src))
}

func isStatementSyntax(t string) bool {
	switch t {
	case "block", "switch_body", "switch_section", "catch_clause", "finally_clause":
		return true
	}
	return strings.HasSuffix(t, "_statement")
}
