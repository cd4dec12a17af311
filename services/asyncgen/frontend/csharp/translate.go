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
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/memory"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// scope translates one member body. It tracks the declared types of locals
// and the local functions visible at each block.
type scope struct {
	b    *binder
	decl *typeDecl
	src  []byte

	vars  []map[string]symbols.TypeRef
	funcs []map[string]*localFunction

	// predeclared local functions by start byte.
	locals map[uint32]*localFunction
}

type localFunction struct {
	sym  *symbols.Method
	node *syntax.Node
}

func newScope(b *binder, decl *typeDecl) *scope {
	return &scope{b: b, decl: decl, src: decl.file.src, locals: make(map[uint32]*localFunction)}
}

func (s *scope) push() {
	s.vars = append(s.vars, make(map[string]symbols.TypeRef))
	s.funcs = append(s.funcs, make(map[string]*localFunction))
}

func (s *scope) pop() {
	s.vars = s.vars[:len(s.vars)-1]
	s.funcs = s.funcs[:len(s.funcs)-1]
}

func (s *scope) declareVar(name string, t symbols.TypeRef) {
	if name != "" && len(s.vars) > 0 {
		s.vars[len(s.vars)-1][name] = t
	}
}

// lookupVar reports whether name is a local or parameter, and its type
// when known.
func (s *scope) lookupVar(name string) (symbols.TypeRef, bool) {
	for i := len(s.vars) - 1; i >= 0; i-- {
		if t, ok := s.vars[i][name]; ok {
			return t, true
		}
	}
	return symbols.TypeRef{}, false
}

func (s *scope) lookupFunc(name string) *symbols.Method {
	for i := len(s.funcs) - 1; i >= 0; i-- {
		if f, ok := s.funcs[i][name]; ok {
			return f.sym
		}
	}
	return nil
}

func (s *scope) text(n *sitter.Node) string {
	return strings.TrimSpace(content(n, s.src))
}

func (s *scope) ctx() typeContext {
	return s.decl.ctx
}

// functionBody translates a block or an arrow expression clause.
func (s *scope) functionBody(n *sitter.Node) *syntax.Node {
	if n.Type() == "arrow_expression_clause" {
		return s.expr(firstNamed(n))
	}
	if n.Type() == "block" {
		return s.block(n)
	}
	return s.expr(n)
}

func (s *scope) block(n *sitter.Node) *syntax.Node {
	s.push()
	defer s.pop()

	out := syntax.New(syntax.KindBlock, "")
	out.Pos = position(n)
	children := named(n)
	// Local functions are visible in the whole block.
	for _, c := range children {
		if c.Type() == "local_function_statement" {
			s.predeclareLocal(c)
		}
	}
	for _, c := range children {
		out.Add(syntax.RoleNone, s.statement(c))
	}
	return out
}

func (s *scope) predeclareLocal(n *sitter.Node) *localFunction {
	if lf, ok := s.locals[n.StartByte()]; ok {
		return lf
	}
	mods := modifiers(n, s.src)
	m := &symbols.Method{
		Name:       nameOf(field(n, "name"), s.src),
		Kind:       symbols.MethodLocalFunction,
		ReturnType: symbols.Void,
		IsAsync:    mods["async"],
		IsStatic:   mods["static"],
	}
	if ret := field(n, "returns", "type"); ret != nil {
		m.ReturnType = s.b.resolveType(s.ctx(), ret, s.src)
	}
	m.Parameters = s.b.parameters(s.ctx(), field(n, "parameters"), s.src)
	s.b.prog.AddFunction(m)

	node := syntax.New(syntax.KindLocalFunction, m.Name)
	node.Pos = position(n)
	s.b.prog.Declare(node, m)

	lf := &localFunction{sym: m, node: node}
	s.locals[n.StartByte()] = lf
	if len(s.funcs) > 0 {
		s.funcs[len(s.funcs)-1][m.Name] = lf
	}
	return lf
}

func (s *scope) statement(n *sitter.Node) *syntax.Node {
	if n == nil {
		return nil
	}
	var out *syntax.Node
	switch n.Type() {
	case "block":
		return s.block(n)
	case "expression_statement":
		out = syntax.New(syntax.KindExpressionStatement, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case "return_statement":
		out = syntax.New(syntax.KindReturn, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case "throw_statement":
		out = syntax.New(syntax.KindThrow, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case "yield_statement":
		out = syntax.New(syntax.KindYield, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case "if_statement":
		out = syntax.New(syntax.KindIf, "")
		out.Add(syntax.RoleCondition, s.expr(field(n, "condition")))
		out.Add(syntax.RoleConsequence, s.statement(field(n, "consequence")))
		if alt := field(n, "alternative"); alt != nil {
			out.Add(syntax.RoleAlternative, s.statement(alt))
		}
	case "local_declaration_statement":
		decl := s.declaration(firstNamed(n, "variable_declaration"))
		if !hasToken(n, s.src, "using") {
			decl.Pos = position(n)
			decl.Text = s.text(n)
			return decl
		}
		out = syntax.New(syntax.KindUsing, "")
		out.Add(syntax.RoleExpression, decl)
	case "lock_statement":
		children := named(n)
		out = syntax.New(syntax.KindLock, "")
		if len(children) > 0 {
			out.Add(syntax.RoleExpression, s.expr(children[0]))
		}
		if len(children) > 1 {
			out.Add(syntax.RoleBody, s.statement(children[len(children)-1]))
		}
	case "try_statement":
		out = syntax.New(syntax.KindTry, "")
		for _, c := range named(n) {
			switch c.Type() {
			case "block":
				out.Add(syntax.RoleBody, s.block(c))
			default:
				out.Add(syntax.RoleNone, s.clause(c))
			}
		}
	case "using_statement":
		out = syntax.New(syntax.KindUsing, "")
		s.push()
		body := field(n, "body")
		for _, c := range named(n) {
			switch {
			case body != nil && c.StartByte() == body.StartByte():
			case c.Type() == "variable_declaration":
				out.Add(syntax.RoleExpression, s.declaration(c))
			case isStatementSyntax(c.Type()):
				body = c
			default:
				out.Add(syntax.RoleExpression, s.expr(c))
			}
		}
		if body != nil {
			out.Add(syntax.RoleBody, s.statement(body))
		}
		s.pop()
	case "for_statement", "for_each_statement", "foreach_statement", "while_statement", "do_statement":
		out = s.loop(n)
	case "local_function_statement":
		out = s.localFunction(n)
	default:
		out = s.opaque(syntax.KindOtherStatement, n)
	}
	out.Pos = position(n)
	out.Text = s.text(n)
	return out
}

// clause translates catch and finally clauses and other statement-like
// containers into opaque statements.
func (s *scope) clause(n *sitter.Node) *syntax.Node {
	s.push()
	defer s.pop()
	if decl := firstNamed(n, "catch_declaration"); decl != nil {
		s.declareVar(content(field(decl, "name"), s.src), s.b.resolveType(s.ctx(), field(decl, "type"), s.src))
	}
	out := s.opaque(syntax.KindOtherStatement, n)
	out.Pos = position(n)
	return out
}

func (s *scope) loop(n *sitter.Node) *syntax.Node {
	s.push()
	defer s.pop()
	out := syntax.New(syntax.KindLoop, "")
	if n.Type() == "for_each_statement" || n.Type() == "foreach_statement" {
		name := field(n, "left", "name")
		s.declareVar(s.text(name), s.b.resolveType(s.ctx(), field(n, "type"), s.src))
	}
	body := field(n, "body")
	for _, c := range named(n) {
		switch {
		case body != nil && c.StartByte() == body.StartByte() && c.Type() == body.Type():
			out.Add(syntax.RoleBody, s.statement(c))
		case c.Type() == "variable_declaration":
			out.Add(syntax.RoleExpression, s.declaration(c))
		case isStatementSyntax(c.Type()):
			out.Add(syntax.RoleBody, s.statement(c))
		case isTypeSyntax(c.Type()):
		default:
			out.Add(syntax.RoleExpression, s.expr(c))
		}
	}
	return out
}

func (s *scope) localFunction(n *sitter.Node) *syntax.Node {
	lf := s.predeclareLocal(n)
	body := functionBody(n)
	if body == nil {
		return lf.node
	}
	s.push()
	for _, p := range lf.sym.Parameters {
		s.declareVar(p.Name, p.Type)
	}
	lf.node.Add(syntax.RoleBody, s.functionBody(body))
	s.pop()
	return lf.node
}

// declaration translates a variable_declaration into a local declaration
// holding one declarator per variable.
func (s *scope) declaration(n *sitter.Node) *syntax.Node {
	out := syntax.New(syntax.KindLocalDeclaration, "")
	if n == nil {
		return out
	}
	out.Pos = position(n)
	declared := s.b.resolveType(s.ctx(), field(n, "type"), s.src)
	for _, v := range named(n) {
		if v.Type() != "variable_declarator" {
			continue
		}
		name := declaratorName(v, s.src)
		d := syntax.New(syntax.KindVariableDeclarator, name)
		d.Pos = position(v)
		typ := declared
		if value := declaratorValue(v); value != nil {
			val := s.value(value)
			d.Add(syntax.RoleValue, val)
			if typ.IsZero() {
				typ, _ = s.b.prog.TypeOf(val)
			}
		}
		s.declareVar(name, typ)
		out.Add(syntax.RoleNone, d)
	}
	return out
}

func declaratorValue(v *sitter.Node) *sitter.Node {
	if eq := firstNamed(v, "equals_value_clause"); eq != nil {
		return firstNamed(eq)
	}
	afterEquals := false
	for i := 0; i < int(v.ChildCount()); i++ {
		c := v.Child(i)
		switch {
		case c == nil:
		case !c.IsNamed() && c.Type() == "=":
			afterEquals = true
		case afterEquals && c.IsNamed() && c.Type() != "comment":
			return c
		}
	}
	return nil
}

// opaque translates a construct without a dedicated kind. Its statements
// and expressions are still translated so invocations inside are bound.
func (s *scope) opaque(kind syntax.Kind, n *sitter.Node) *syntax.Node {
	out := syntax.New(kind, "")
	out.Pos = position(n)
	for _, c := range named(n) {
		switch t := c.Type(); {
		case isTypeSyntax(t):
		case t == "local_function_statement":
			out.Add(syntax.RoleNone, s.statement(c))
		case isStatementSyntax(t):
			out.Add(syntax.RoleNone, s.statement(c))
		case t == "variable_declaration":
			out.Add(syntax.RoleExpression, s.declaration(c))
		default:
			out.Add(syntax.RoleExpression, s.expr(c))
		}
	}
	return out
}

func (s *scope) expr(n *sitter.Node) *syntax.Node {
	if n == nil {
		return nil
	}
	var out *syntax.Node
	switch t := n.Type(); {
	case t == "identifier":
		out = s.identifier(s.text(n))
	case t == "generic_name":
		out = s.identifier(nameOf(n, s.src))
	case t == "predefined_type" || t == "qualified_name":
		out = s.typeName(n)
	case t == "invocation_expression":
		out = s.invocation(n)
	case t == "member_access_expression":
		out = s.memberAccess(n)
	case t == "argument_list":
		out = s.arguments(n)
	case t == "await_expression":
		out = syntax.New(syntax.KindAwait, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case t == "parenthesized_expression":
		out = syntax.New(syntax.KindParenthesized, "")
		out.Add(syntax.RoleExpression, s.expr(firstNamed(n)))
	case t == "assignment_expression":
		out = s.assignment(n)
	case t == "cast_expression":
		out = syntax.New(syntax.KindCast, s.text(field(n, "type")))
		out.Add(syntax.RoleExpression, s.expr(field(n, "value")))
		if typ := s.b.resolveType(s.ctx(), field(n, "type"), s.src); !typ.IsZero() {
			s.b.prog.SetType(out, typ)
		}
	case t == "conditional_expression":
		out = syntax.New(syntax.KindConditional, "")
		out.Add(syntax.RoleCondition, s.expr(field(n, "condition")))
		out.Add(syntax.RoleConsequence, s.expr(field(n, "consequence")))
		out.Add(syntax.RoleAlternative, s.expr(field(n, "alternative")))
	case t == "binary_expression":
		out = syntax.New(syntax.KindBinary, "")
		out.Operator = s.text(field(n, "operator"))
		out.Add(syntax.RoleLeft, s.expr(field(n, "left")))
		out.Add(syntax.RoleRight, s.expr(field(n, "right")))
	case t == "query_expression":
		out = s.opaque(syntax.KindQuery, n)
	case t == "object_creation_expression":
		out = s.objectCreation(n)
	case t == "this_expression" || t == "this":
		out = memory.This()
		s.b.prog.SetType(out, s.decl.sym.Ref())
	case t == "base_expression" || t == "base":
		out = syntax.New(syntax.KindThis, "base")
		if base := s.decl.sym.BaseType; base != nil {
			s.b.prog.SetType(out, base.Ref())
		}
	case t == "lambda_expression" || t == "anonymous_method_expression":
		out = s.lambda(n)
	case strings.HasSuffix(t, "_literal"):
		out = memory.Literal(s.text(n))
		switch t {
		case "string_literal", "verbatim_string_literal", "raw_string_literal":
			s.b.prog.SetType(out, memory.String)
		case "integer_literal":
			s.b.prog.SetType(out, memory.Int)
		}
	default:
		out = s.opaque(syntax.KindOtherExpression, n)
	}
	out.Pos = position(n)
	return out
}

// identifier translates a simple name. Locals, parameters, fields and
// properties get their declared type; type names get the type itself so
// static calls through them resolve.
func (s *scope) identifier(name string) *syntax.Node {
	out := memory.Ident(name)
	if t, ok := s.lookupVar(name); ok {
		if !t.IsZero() {
			s.b.prog.SetType(out, t)
		}
		return out
	}
	for outer := s.decl.sym; outer != nil; outer = outer.ContainingType {
		if t, ok := s.b.memberType(outer, name); ok {
			if !t.IsZero() {
				s.b.prog.SetType(out, t)
			}
			return out
		}
	}
	if typ := s.b.lookupType(s.ctx(), name); typ != nil {
		s.b.prog.SetType(out, typ.Ref())
	}
	return out
}

func (s *scope) typeName(n *sitter.Node) *syntax.Node {
	out := memory.Ident(s.text(n))
	if ref := s.b.resolveType(s.ctx(), n, s.src); s.b.findType(ref.Name) != nil {
		s.b.prog.SetType(out, ref)
	}
	return out
}

func (s *scope) memberAccess(n *sitter.Node) *syntax.Node {
	receiver := s.expr(field(n, "expression"))
	nameNode := field(n, "name")
	name := nameOf(nameNode, s.src)

	out := syntax.New(syntax.KindMemberAccess, name)
	out.Add(syntax.RoleExpression, receiver)
	id := memory.Ident(name)
	if nameNode != nil {
		id.Pos = position(nameNode)
	}
	out.Add(syntax.RoleMember, id)

	rt, ok := s.b.prog.TypeOf(receiver)
	switch {
	case ok && rt.IsTaskShaped() && name == "Result":
		s.b.prog.SetType(out, rt.Unwrapped())
	case ok:
		if typ := s.b.findType(rt.Name); typ != nil {
			if mt, found := s.b.memberType(typ, name); found && !mt.IsZero() {
				s.b.prog.SetType(out, mt)
			} else if nested := s.b.internal[typ.FullName()+"."+name]; nested != nil {
				s.b.prog.SetType(out, nested.Ref())
			}
		}
	default:
		// A qualified type name such as System.IO.File.
		if typ := s.b.findType(s.text(n)); typ != nil {
			s.b.prog.SetType(out, typ.Ref())
		}
	}
	return out
}

func (s *scope) invocation(n *sitter.Node) *syntax.Node {
	callee := s.expr(field(n, "function"))
	args := s.arguments(field(n, "arguments"))

	out := syntax.New(syntax.KindInvocation, "")
	out.Add(syntax.RoleCallee, callee)
	out.Add(syntax.RoleArguments, args)
	if callee == nil {
		return out
	}
	out.Name = callee.Name

	name := callee
	if callee.Kind == syntax.KindMemberAccess {
		name = callee.Child(syntax.RoleMember)
	}
	if m := s.resolveCall(callee, len(args.Children)); m != nil && name != nil {
		s.b.prog.Bind(name, m)
	}
	return out
}

// resolveCall finds the method an invocation callee refers to.
func (s *scope) resolveCall(callee *syntax.Node, argc int) *symbols.Method {
	switch callee.Kind {
	case syntax.KindIdentifier:
		if _, isVar := s.lookupVar(callee.Name); isVar {
			return nil
		}
		if f := s.lookupFunc(callee.Name); f != nil {
			return f
		}
		for outer := s.decl.sym; outer != nil; outer = outer.ContainingType {
			if m := pick(s.b.methodsOf(outer, callee.Name), argc); m != nil {
				return m
			}
		}
		return nil
	case syntax.KindMemberAccess:
		receiver := callee.Child(syntax.RoleExpression)
		if rt, ok := s.b.prog.TypeOf(receiver); ok {
			typ := s.b.findType(rt.Name)
			if typ == nil {
				return nil
			}
			if m := pick(s.b.methodsOf(typ, callee.Name), argc); m != nil {
				return m
			}
			return s.b.extension(typ, callee.Name, argc)
		}
		return s.uniqueMethod(callee.Name, argc)
	}
	return nil
}

// uniqueMethod binds calls through receivers of unknown type when exactly
// one program method fits.
func (s *scope) uniqueMethod(name string, argc int) *symbols.Method {
	var found *symbols.Method
	for _, m := range s.b.byName[name] {
		if m.IsStatic || !arityMatches(m, argc, 0) {
			continue
		}
		if found != nil {
			return nil
		}
		found = m
	}
	return found
}

// methodGroup resolves a name used as a value, e.g. a method passed as a
// delegate.
func (s *scope) methodGroup(name string) *symbols.Method {
	if _, isVar := s.lookupVar(name); isVar {
		return nil
	}
	if f := s.lookupFunc(name); f != nil {
		return f
	}
	for outer := s.decl.sym; outer != nil; outer = outer.ContainingType {
		if _, isMember := s.b.memberType(outer, name); isMember {
			return nil
		}
		if ms := s.b.methodsOf(outer, name); len(ms) > 0 {
			return ms[0]
		}
	}
	return nil
}

// value translates an expression in value position, binding method groups.
func (s *scope) value(n *sitter.Node) *syntax.Node {
	out := s.expr(n)
	if out == nil {
		return nil
	}
	switch out.Kind {
	case syntax.KindIdentifier:
		if s.b.prog.ReferencedMethod(out) == nil {
			if m := s.methodGroup(out.Name); m != nil {
				s.b.prog.Bind(out, m)
			}
		}
	case syntax.KindMemberAccess:
		if _, typed := s.b.prog.TypeOf(out); typed {
			break
		}
		if rt, ok := s.b.prog.TypeOf(out.Child(syntax.RoleExpression)); ok {
			if typ := s.b.findType(rt.Name); typ != nil {
				if ms := s.b.methodsOf(typ, out.Name); len(ms) > 0 {
					s.b.prog.Bind(out.Child(syntax.RoleMember), ms[0])
				}
			}
		}
	}
	return out
}

func (s *scope) arguments(n *sitter.Node) *syntax.Node {
	out := syntax.New(syntax.KindArgumentList, "")
	if n == nil {
		return out
	}
	out.Pos = position(n)
	for _, a := range named(n) {
		if a.Type() != "argument" {
			continue
		}
		arg := syntax.New(syntax.KindArgument, "")
		arg.Pos = position(a)
		arg.Add(syntax.RoleValue, s.value(lastNamed(a, "name_colon")))
		out.Add(syntax.RoleNone, arg)
	}
	return out
}

func (s *scope) assignment(n *sitter.Node) *syntax.Node {
	left := s.expr(field(n, "left"))
	right := s.value(field(n, "right"))

	op := s.text(field(n, "operator"))
	if op == "" {
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil && !c.IsNamed() && strings.HasSuffix(c.Type(), "=") {
				op = c.Type()
				break
			}
		}
	}
	kind := syntax.KindAssignment
	if (op == "+=" || op == "-=") && right != nil &&
		(right.Kind == syntax.KindLambda || s.b.prog.ReferencedMethod(right) != nil ||
			(right.Kind == syntax.KindMemberAccess && s.b.prog.ReferencedMethod(right.Child(syntax.RoleMember)) != nil)) {
		kind = syntax.KindEventSubscription
	}
	out := syntax.New(kind, "")
	out.Operator = op
	out.Add(syntax.RoleLeft, left)
	out.Add(syntax.RoleRight, right)
	return out
}

func (s *scope) objectCreation(n *sitter.Node) *syntax.Node {
	typeNode := field(n, "type")
	out := syntax.New(syntax.KindObjectCreation, s.text(typeNode))
	out.Add(syntax.RoleArguments, s.arguments(field(n, "arguments")))
	if init := field(n, "initializer"); init != nil {
		out.Add(syntax.RoleExpression, s.opaque(syntax.KindOtherExpression, init))
	}
	if typ := s.b.resolveType(s.ctx(), typeNode, s.src); !typ.IsZero() {
		s.b.prog.SetType(out, typ)
	}
	return out
}

func (s *scope) lambda(n *sitter.Node) *syntax.Node {
	s.b.lambdas++
	m := &symbols.Method{
		Name:       fmt.Sprintf("<lambda>%d", s.b.lambdas),
		Kind:       symbols.MethodAnonymousFunction,
		ReturnType: symbols.Void,
		IsAsync:    hasToken(n, s.src, "async") || modifiers(n, s.src)["async"],
	}
	s.b.prog.AddFunction(m)

	out := syntax.New(syntax.KindLambda, "")
	s.b.prog.Declare(out, m)

	s.push()
	defer s.pop()
	params := field(n, "parameters")
	if params == nil {
		params = firstNamed(n, "parameter_list")
	}
	switch {
	case params == nil:
	case params.Type() == "identifier":
		m.Parameters = append(m.Parameters, symbols.Parameter{Name: s.text(params)})
	default:
		m.Parameters = s.b.parameters(s.ctx(), params, s.src)
	}
	for _, p := range m.Parameters {
		s.declareVar(p.Name, p.Type)
	}

	body := field(n, "body")
	if body == nil {
		body = lastNamed(n)
	}
	if body != nil {
		if body.Type() == "block" {
			out.Add(syntax.RoleBody, s.block(body))
		} else {
			out.Add(syntax.RoleBody, s.expr(body))
		}
	}
	return out
}
