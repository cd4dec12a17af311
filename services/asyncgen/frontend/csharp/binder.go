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
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/memory"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

var predefinedTypes = map[string]string{
	"void":    symbols.VoidName,
	"string":  "System.String",
	"object":  "System.Object",
	"dynamic": "System.Object",
	"bool":    "System.Boolean",
	"byte":    "System.Byte",
	"sbyte":   "System.SByte",
	"char":    "System.Char",
	"short":   "System.Int16",
	"ushort":  "System.UInt16",
	"int":     "System.Int32",
	"uint":    "System.UInt32",
	"long":    "System.Int64",
	"ulong":   "System.UInt64",
	"float":   "System.Single",
	"double":  "System.Double",
	"decimal": "System.Decimal",
}

// wellKnownTypes resolve even without the matching using directive.
var wellKnownTypes = map[string]string{
	"Task":              symbols.TaskName,
	"ValueTask":         symbols.ValueTaskName,
	"CancellationToken": symbols.CancellationTokenName,
	"Func":              symbols.FuncName,
	"Action":            symbols.ActionName,
}

// typeContext is the lexical position a type name is resolved from.
type typeContext struct {
	namespace string
	outer     *symbols.Type
	usings    []string
}

// typeDecl is a type declaration awaiting member declaration.
type typeDecl struct {
	file *parsedFile
	sym  *symbols.Type
	ts   *sitter.Node
	node *syntax.Node
	ctx  typeContext
}

// functionDecl is a member function awaiting body translation.
type functionDecl struct {
	decl     *typeDecl
	sym      *symbols.Method
	node     *syntax.Node
	body     *sitter.Node
	explicit *sitter.Node
}

// binder declares symbols and binds bodies of one program.
//
// Thread Safety: Not safe for concurrent use.
type binder struct {
	prog   *memory.Program
	logger *slog.Logger

	external map[string]*symbols.Type
	internal map[string]*symbols.Type
	bySimple map[string][]*symbols.Type

	// members maps a type to the declared types of its fields and properties.
	members map[*symbols.Type]map[string]symbols.TypeRef

	// byName indexes program methods for calls through untyped receivers.
	byName     map[string][]*symbols.Method
	extensions []*symbols.Method

	types     []*typeDecl
	functions []*functionDecl
	lambdas   int
	methods   int
}

func newBinder(prog *memory.Program, external map[string]*symbols.Type, logger *slog.Logger) *binder {
	b := &binder{
		prog:     prog,
		logger:   logger,
		external: external,
		internal: make(map[string]*symbols.Type),
		bySimple: make(map[string][]*symbols.Type),
		members:  make(map[*symbols.Type]map[string]symbols.TypeRef),
		byName:   make(map[string][]*symbols.Method),
	}
	for _, t := range external {
		b.bySimple[t.Name] = append(b.bySimple[t.Name], t)
		for _, m := range t.Methods {
			if m.IsExtension {
				b.extensions = append(b.extensions, m)
			}
		}
	}
	return b
}

// declare creates documents, types and members of every file. Types of all
// files are declared before any member so signatures can name them.
func (b *binder) declare(files []*parsedFile) {
	for _, f := range files {
		root := syntax.New(syntax.KindCompilationUnit, f.path)
		root.Pos = syntax.Position{Line: 1, Column: 1}
		b.prog.AddDocument(f.path, root)
		b.declareContainer(f, usingsOf(f), f.tree.RootNode(), root, "")
	}
	for _, td := range b.types {
		b.resolveBases(td)
	}
	for _, td := range b.types {
		b.declareMembers(td)
	}
	b.linkImplementations()
}

func usingsOf(f *parsedFile) []string {
	var out []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		for _, c := range named(n) {
			switch c.Type() {
			case "using_directive":
				if hasToken(c, f.src, "static") || firstNamed(c, "name_equals") != nil {
					continue
				}
				if name := lastNamed(c); name != nil {
					out = append(out, strings.TrimSpace(content(name, f.src)))
				}
			case "namespace_declaration", "file_scoped_namespace_declaration", "declaration_list":
				visit(c)
			}
		}
	}
	visit(f.tree.RootNode())
	return out
}

func (b *binder) declareContainer(f *parsedFile, usings []string, ts *sitter.Node, parent *syntax.Node, ns string) {
	current, currentNs := parent, ns
	for _, c := range named(ts) {
		switch t := c.Type(); {
		case t == "namespace_declaration":
			name := joinName(currentNs, content(field(c, "name"), f.src))
			node := syntax.New(syntax.KindNamespace, name)
			node.Pos = position(c)
			current.Add(syntax.RoleMember, node)
			body := field(c, "body")
			if body == nil {
				body = firstNamed(c, "declaration_list")
			}
			b.declareContainer(f, usings, body, node, name)
		case t == "file_scoped_namespace_declaration":
			name := joinName(ns, content(field(c, "name"), f.src))
			node := syntax.New(syntax.KindNamespace, name)
			node.Pos = position(c)
			parent.Add(syntax.RoleMember, node)
			current, currentNs = node, name
			b.declareContainer(f, usings, c, node, name)
		case t == "declaration_list":
			b.declareContainer(f, usings, c, current, currentNs)
		default:
			if _, ok := typeDeclarations[t]; ok {
				b.declareType(f, c, current, typeContext{namespace: currentNs, usings: usings})
			}
		}
	}
}

func (b *binder) declareType(f *parsedFile, ts *sitter.Node, parent *syntax.Node, ctx typeContext) {
	kind := typeDeclarations[ts.Type()]
	mods := modifiers(ts, f.src)
	t := &symbols.Type{
		Name:           nameOf(field(ts, "name"), f.src),
		Namespace:      ctx.namespace,
		ContainingType: ctx.outer,
		IsStatic:       mods["static"],
		IsSealed:       mods["sealed"],
	}
	switch kind {
	case syntax.KindInterface:
		t.Kind = symbols.TypeInterface
	case syntax.KindStruct:
		t.Kind = symbols.TypeStruct
	default:
		t.Kind = symbols.TypeClass
	}
	b.prog.AddType(t)
	b.internal[t.FullName()] = t
	b.bySimple[t.Name] = append(b.bySimple[t.Name], t)

	node := syntax.New(kind, t.Name)
	node.Pos = position(ts)
	parent.Add(syntax.RoleMember, node)
	b.prog.Declare(node, t)

	td := &typeDecl{file: f, sym: t, ts: ts, node: node, ctx: typeContext{namespace: ctx.namespace, outer: t, usings: ctx.usings}}
	b.types = append(b.types, td)

	for _, c := range named(typeBody(ts)) {
		if _, ok := typeDeclarations[c.Type()]; ok {
			b.declareType(f, c, node, td.ctx)
		}
	}
}

func typeBody(ts *sitter.Node) *sitter.Node {
	if body := field(ts, "body"); body != nil {
		return body
	}
	return firstNamed(ts, "declaration_list")
}

func (b *binder) resolveBases(td *typeDecl) {
	bases := field(td.ts, "bases")
	if bases == nil {
		bases = firstNamed(td.ts, "base_list")
	}
	for _, c := range named(bases) {
		typeNode := c
		if c.Type() == "primary_constructor_base_type" {
			typeNode = firstNamed(c)
		}
		ref := b.resolveType(td.ctx, typeNode, td.file.src)
		base := b.findType(ref.Name)
		if base == nil || base == td.sym {
			continue
		}
		if base.Kind == symbols.TypeInterface || td.sym.Kind != symbols.TypeClass || td.sym.BaseType != nil {
			td.sym.Interfaces = append(td.sym.Interfaces, base)
			continue
		}
		td.sym.BaseType = base
	}
}

func (b *binder) declareMembers(td *typeDecl) {
	src := td.file.src
	for _, c := range named(typeBody(td.ts)) {
		switch c.Type() {
		case "method_declaration":
			b.declareFunction(td, c, syntax.KindMethod)
		case "constructor_declaration":
			b.declareFunction(td, c, syntax.KindConstructor)
		case "operator_declaration", "conversion_operator_declaration":
			b.declareFunction(td, c, syntax.KindOperator)
		case "property_declaration":
			typ := b.resolveType(td.ctx, field(c, "type"), src)
			name := nameOf(field(c, "name"), src)
			b.addMember(td, syntax.KindProperty, name, typ, c)
		case "field_declaration":
			decl := firstNamed(c, "variable_declaration")
			typ := b.resolveType(td.ctx, field(decl, "type"), src)
			for _, v := range named(decl) {
				if v.Type() != "variable_declarator" {
					continue
				}
				b.addMember(td, syntax.KindField, declaratorName(v, src), typ, v)
			}
		}
	}
}

func (b *binder) addMember(td *typeDecl, kind syntax.Kind, name string, typ symbols.TypeRef, ts *sitter.Node) {
	if name == "" {
		return
	}
	node := syntax.New(kind, name)
	node.Text = typ.String()
	node.Pos = position(ts)
	td.node.Add(syntax.RoleMember, node)
	if b.members[td.sym] == nil {
		b.members[td.sym] = make(map[string]symbols.TypeRef)
	}
	b.members[td.sym][name] = typ
}

func declaratorName(v *sitter.Node, src []byte) string {
	if name := field(v, "name"); name != nil {
		return content(name, src)
	}
	return content(firstNamed(v, "identifier"), src)
}

func (b *binder) declareFunction(td *typeDecl, ts *sitter.Node, kind syntax.Kind) {
	src := td.file.src
	mods := modifiers(ts, src)
	m := &symbols.Method{
		Name:           nameOf(field(ts, "name"), src),
		Kind:           symbols.MethodOrdinary,
		ReturnType:     symbols.Void,
		IsAsync:        mods["async"],
		IsStatic:       mods["static"],
		IsAbstract:     mods["abstract"],
		IsVirtual:      mods["virtual"],
		IsOverride:     mods["override"],
		IsSealed:       mods["sealed"],
		IsSynchronized: synchronized(ts, src),
	}
	switch kind {
	case syntax.KindConstructor:
		m.Kind = symbols.MethodConstructor
		m.Name = ".ctor"
		if m.IsStatic {
			m.Name = ".cctor"
		}
	case syntax.KindOperator:
		m.Kind = symbols.MethodOperator
		if ts.Type() == "conversion_operator_declaration" {
			m.Kind = symbols.MethodConversion
		}
		m.Name = "op_" + strings.TrimSpace(content(field(ts, "operator"), src))
		if m.Name == "op_" {
			m.Name = "op_Implicit"
		}
	}
	if ret := field(ts, "returns", "type"); ret != nil {
		m.ReturnType = b.resolveType(td.ctx, ret, src)
	}
	m.Parameters = b.parameters(td.ctx, field(ts, "parameters"), src)
	if len(m.Parameters) > 0 && m.Parameters[0].IsThis {
		m.IsExtension = true
	}

	b.prog.AddMethod(td.sym, m)
	b.methods++
	b.byName[m.Name] = append(b.byName[m.Name], m)
	if m.IsExtension {
		b.extensions = append(b.extensions, m)
	}

	node := syntax.New(kind, m.Name)
	node.Pos = position(ts)
	td.node.Add(syntax.RoleMember, node)
	b.prog.Declare(node, m)

	b.functions = append(b.functions, &functionDecl{
		decl:     td,
		sym:      m,
		node:     node,
		body:     functionBody(ts),
		explicit: firstNamed(ts, "explicit_interface_specifier"),
	})
}

// synchronized reports a [MethodImpl(MethodImplOptions.Synchronized)] attribute.
func synchronized(ts *sitter.Node, src []byte) bool {
	for _, c := range named(ts) {
		if c.Type() == "attribute_list" && strings.Contains(content(c, src), "Synchronized") {
			return true
		}
	}
	return false
}

func functionBody(ts *sitter.Node) *sitter.Node {
	if body := field(ts, "body"); body != nil && (body.Type() == "block" || body.Type() == "arrow_expression_clause") {
		return body
	}
	return firstNamed(ts, "block", "arrow_expression_clause")
}

func (b *binder) parameters(ctx typeContext, list *sitter.Node, src []byte) []symbols.Parameter {
	var out []symbols.Parameter
	for _, p := range named(list) {
		if p.Type() != "parameter" {
			continue
		}
		param := symbols.Parameter{Name: content(field(p, "name"), src)}
		if typ := field(p, "type"); typ != nil {
			param.Type = b.resolveType(ctx, typ, src)
		}
		for i := 0; i < int(p.ChildCount()); i++ {
			c := p.Child(i)
			if c == nil {
				continue
			}
			switch c.Type() {
			case "equals_value_clause", "=":
				param.HasDefault = true
				continue
			}
			if c.Type() != "parameter_modifier" && c.Type() != "modifier" && c.IsNamed() {
				continue
			}
			switch strings.TrimSpace(content(c, src)) {
			case "this":
				param.IsThis = true
			case "out":
				param.RefKind = symbols.RefOut
			case "ref":
				param.RefKind = symbols.RefRef
			case "in":
				param.RefKind = symbols.RefIn
			}
		}
		out = append(out, param)
	}
	return out
}

// linkImplementations records overridden members and explicit interface
// implementations once every member of the program is declared.
func (b *binder) linkImplementations() {
	for _, fd := range b.functions {
		m := fd.sym
		if m.IsOverride {
			for _, base := range fd.decl.sym.BaseTypes() {
				if cand := findSameSignature(base.MethodsNamed(m.Name), m); cand != nil {
					m.Overridden = cand
					break
				}
			}
		}
		if fd.explicit == nil {
			continue
		}
		specifier := strings.TrimSuffix(strings.TrimSpace(content(fd.explicit, fd.decl.file.src)), ".")
		iface := b.findType(b.resolveRef(fd.decl.ctx, ParseTypeName(specifier)).Name)
		if iface == nil {
			continue
		}
		if cand := findSameSignature(iface.MethodsNamed(m.Name), m); cand != nil {
			m.Kind = symbols.MethodExplicitInterfaceImplementation
			m.ExplicitInterfaceImplementations = append(m.ExplicitInterfaceImplementations, cand)
		}
	}
}

func findSameSignature(cands []*symbols.Method, m *symbols.Method) *symbols.Method {
	for _, c := range cands {
		if len(c.Parameters) != len(m.Parameters) {
			continue
		}
		same := true
		for i := range c.Parameters {
			if c.Parameters[i].RefKind != m.Parameters[i].RefKind || !c.Parameters[i].Type.Equal(m.Parameters[i].Type) {
				same = false
				break
			}
		}
		if same {
			return c
		}
	}
	return nil
}

// bind translates every member body and binds its invocations.
func (b *binder) bind() {
	for _, fd := range b.functions {
		if fd.body == nil {
			continue
		}
		s := newScope(b, fd.decl)
		s.push()
		for _, p := range fd.sym.Parameters {
			s.declareVar(p.Name, p.Type)
		}
		fd.node.Add(syntax.RoleBody, s.functionBody(fd.body))
		s.pop()
	}
}

// findType looks a type up by full name, program types first.
func (b *binder) findType(fullName string) *symbols.Type {
	if t := b.internal[fullName]; t != nil {
		return t
	}
	return b.external[fullName]
}

// resolveType turns type syntax into a TypeRef. "var" yields the zero TypeRef.
func (b *binder) resolveType(ctx typeContext, n *sitter.Node, src []byte) symbols.TypeRef {
	if n == nil {
		return symbols.TypeRef{}
	}
	text := strings.TrimSpace(content(n, src))
	if n.Type() == "implicit_type" || text == "var" {
		return symbols.TypeRef{}
	}
	return b.resolveRef(ctx, ParseTypeName(text))
}

// resolveRef qualifies every name of a parsed type reference.
func (b *binder) resolveRef(ctx typeContext, ref symbols.TypeRef) symbols.TypeRef {
	out := symbols.TypeRef{Name: b.qualify(ctx, ref.Name)}
	for _, a := range ref.Args {
		out.Args = append(out.Args, b.resolveRef(ctx, a))
	}
	return out
}

// qualify returns the full name a type name refers to from ctx, or the name
// itself when nothing matches.
func (b *binder) qualify(ctx typeContext, name string) string {
	name = strings.TrimSuffix(name, "?")
	if base, ok := strings.CutSuffix(name, "[]"); ok {
		return b.qualify(ctx, base) + "[]"
	}
	if full, ok := predefinedTypes[name]; ok {
		return full
	}
	if t := b.lookupType(ctx, name); t != nil {
		return t.FullName()
	}
	if full, ok := wellKnownTypes[name]; ok {
		return full
	}
	return name
}

// lookupType finds the type a name refers to from ctx: nested types of the
// enclosing types, the namespace chain, using directives and finally a
// unique simple name.
func (b *binder) lookupType(ctx typeContext, name string) *symbols.Type {
	if name == "" {
		return nil
	}
	if t := b.findType(name); t != nil && strings.Contains(name, ".") {
		return t
	}
	for outer := ctx.outer; outer != nil; outer = outer.ContainingType {
		if t := b.internal[outer.FullName()+"."+name]; t != nil {
			return t
		}
	}
	for ns := ctx.namespace; ; {
		if t := b.findType(joinName(ns, name)); t != nil {
			return t
		}
		if ns == "" {
			break
		}
		if i := strings.LastIndex(ns, "."); i >= 0 {
			ns = ns[:i]
		} else {
			ns = ""
		}
	}
	for _, u := range ctx.usings {
		if t := b.findType(u + "." + name); t != nil {
			return t
		}
	}
	if full, ok := wellKnownTypes[name]; ok {
		if t := b.findType(full); t != nil {
			return t
		}
	}
	if cands := b.bySimple[name]; len(cands) == 1 {
		return cands[0]
	}
	return nil
}

// memberType returns the declared type of a field or property of t or its
// base types.
func (b *binder) memberType(t *symbols.Type, name string) (symbols.TypeRef, bool) {
	for cur := t; cur != nil; cur = cur.BaseType {
		if typ, ok := b.members[cur][name]; ok {
			return typ, true
		}
	}
	return symbols.TypeRef{}, false
}

// methodsOf returns the methods named name visible on t: its own first,
// then base types and interfaces.
func (b *binder) methodsOf(t *symbols.Type, name string) []*symbols.Method {
	out := append([]*symbols.Method(nil), t.MethodsNamed(name)...)
	for _, base := range t.BaseTypes() {
		out = append(out, base.MethodsNamed(name)...)
	}
	for _, i := range t.AllInterfaces() {
		out = append(out, i.MethodsNamed(name)...)
	}
	return out
}

// extension finds an extension method applicable to a receiver of type t.
func (b *binder) extension(t *symbols.Type, name string, argc int) *symbols.Method {
	receivers := map[string]bool{t.FullName(): true}
	for _, base := range t.BaseTypes() {
		receivers[base.FullName()] = true
	}
	for _, i := range t.AllInterfaces() {
		receivers[i.FullName()] = true
	}
	for _, m := range b.extensions {
		if m.Name != name || len(m.Parameters) == 0 {
			continue
		}
		if receivers[m.Parameters[0].Type.Name] && arityMatches(m, argc, 1) {
			return m
		}
	}
	return nil
}

// pick returns the first candidate accepting argc arguments.
func pick(cands []*symbols.Method, argc int) *symbols.Method {
	for _, c := range cands {
		if arityMatches(c, argc, 0) {
			return c
		}
	}
	return nil
}

func arityMatches(m *symbols.Method, argc, offset int) bool {
	if len(m.Parameters) < offset {
		return false
	}
	required := 0
	for _, p := range m.Parameters[offset:] {
		if !p.HasDefault {
			required++
		}
	}
	return argc >= required && argc <= len(m.Parameters)-offset
}

func joinName(ns, name string) string {
	name = strings.TrimSpace(name)
	if ns == "" {
		return name
	}
	return ns + "." + name
}
