// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"fmt"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// Builder assembles a Program from declarations and bound expressions.
//
// Description:
//
//	Declarations (documents, namespaces, types, members) create both the
//	syntax node and the symbol in one call, so bodies can reference any
//	method declared before the body is attached. Expressions that refer to
//	methods are created through Builder methods, which record the binding.
//
// Example:
//
//	b := memory.NewBuilder("App")
//	file := b.ExternalType("System.IO.File", "mscorlib", memory.StaticType())
//	read := b.ExternalMethod(file, "ReadAllText", memory.Param("path", memory.String), memory.Returns(memory.String), memory.Static())
//	cls := b.Document("Reader.cs").Namespace("App").Class("Reader")
//	cls.Method("ReadFile", memory.Returns(memory.String)).
//		Body(memory.Return(b.CallOn(memory.Ident("File"), read, memory.Literal(`"a"`))))
//	prog := b.Build()
//
// Thread Safety: Not safe for concurrent use.
type Builder struct {
	prog    *Program
	lambdas int
}

// String is the System.String type reference.
var String = symbols.Named("System.String")

// Int is the System.Int32 type reference.
var Int = symbols.Named("System.Int32")

// NewBuilder creates a builder for the named assembly.
func NewBuilder(assembly string) *Builder {
	return &Builder{prog: NewProgram(assembly)}
}

// Program returns the program under construction.
func (b *Builder) Program() *Program {
	return b.prog
}

// Build freezes and returns the program. It panics when called twice, which
// is a test bug.
func (b *Builder) Build() *Program {
	if err := b.prog.Freeze(); err != nil {
		panic(err)
	}
	return b.prog
}

// TypeOption configures a type symbol.
type TypeOption func(*symbols.Type)

// StaticType marks the type static.
func StaticType() TypeOption {
	return func(t *symbols.Type) { t.IsStatic = true }
}

// SealedType marks the type sealed.
func SealedType() TypeOption {
	return func(t *symbols.Type) { t.IsSealed = true }
}

// Inherits sets the base type.
func Inherits(base *symbols.Type) TypeOption {
	return func(t *symbols.Type) { t.BaseType = base }
}

// Implements adds implemented interfaces.
func Implements(ifaces ...*symbols.Type) TypeOption {
	return func(t *symbols.Type) { t.Interfaces = append(t.Interfaces, ifaces...) }
}

// MethodOption configures a method symbol.
type MethodOption func(*symbols.Method)

// Returns sets the return type. Methods return void by default.
func Returns(t symbols.TypeRef) MethodOption {
	return func(m *symbols.Method) { m.ReturnType = t }
}

// Param appends a by-value parameter.
func Param(name string, t symbols.TypeRef) MethodOption {
	return func(m *symbols.Method) {
		m.Parameters = append(m.Parameters, symbols.Parameter{Name: name, Type: t})
	}
}

// OutParam appends an out parameter.
func OutParam(name string, t symbols.TypeRef) MethodOption {
	return func(m *symbols.Method) {
		m.Parameters = append(m.Parameters, symbols.Parameter{Name: name, Type: t, RefKind: symbols.RefOut})
	}
}

// ThisParam appends the receiver parameter of an extension method.
func ThisParam(name string, t symbols.TypeRef) MethodOption {
	return func(m *symbols.Method) {
		m.IsExtension = true
		m.IsStatic = true
		m.Parameters = append(m.Parameters, symbols.Parameter{Name: name, Type: t, IsThis: true})
	}
}

// Async marks the method with the async modifier.
func Async() MethodOption {
	return func(m *symbols.Method) { m.IsAsync = true }
}

// Static marks the method static.
func Static() MethodOption {
	return func(m *symbols.Method) { m.IsStatic = true }
}

// Virtual marks the method virtual.
func Virtual() MethodOption {
	return func(m *symbols.Method) { m.IsVirtual = true }
}

// Abstract marks the method abstract.
func Abstract() MethodOption {
	return func(m *symbols.Method) { m.IsAbstract = true }
}

// Overrides marks the method as an override of base.
func Overrides(base *symbols.Method) MethodOption {
	return func(m *symbols.Method) {
		m.IsOverride = true
		m.Overridden = base
	}
}

// SealedMethod marks an override sealed.
func SealedMethod() MethodOption {
	return func(m *symbols.Method) { m.IsSealed = true }
}

// Synchronized marks the method as requiring synchronized execution.
func Synchronized() MethodOption {
	return func(m *symbols.Method) { m.IsSynchronized = true }
}

// ExplicitlyImplements makes the method an explicit interface implementation.
func ExplicitlyImplements(members ...*symbols.Method) MethodOption {
	return func(m *symbols.Method) {
		m.Kind = symbols.MethodExplicitInterfaceImplementation
		m.ExplicitInterfaceImplementations = append(m.ExplicitInterfaceImplementations, members...)
	}
}

// WithKind overrides the method kind.
func WithKind(kind symbols.MethodKind) MethodOption {
	return func(m *symbols.Method) { m.Kind = kind }
}

func newMethod(name string, opts []MethodOption) *symbols.Method {
	m := &symbols.Method{Name: name, Kind: symbols.MethodOrdinary, ReturnType: symbols.Void}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExternalType registers a type declared in another assembly.
func (b *Builder) ExternalType(fullName, assembly string, opts ...TypeOption) *symbols.Type {
	ns, name := splitName(fullName)
	t := &symbols.Type{Name: name, Namespace: ns, Kind: symbols.TypeClass, Assembly: assembly}
	for _, opt := range opts {
		opt(t)
	}
	return b.prog.AddType(t)
}

// ExternalInterface registers an interface declared in another assembly.
func (b *Builder) ExternalInterface(fullName, assembly string, opts ...TypeOption) *symbols.Type {
	t := b.ExternalType(fullName, assembly, opts...)
	t.Kind = symbols.TypeInterface
	return t
}

// ExternalMethod adds a method to an external type.
func (b *Builder) ExternalMethod(t *symbols.Type, name string, opts ...MethodOption) *symbols.Method {
	return b.prog.AddMethod(t, newMethod(name, opts))
}

// DocumentBuilder builds one compilation unit.
type DocumentBuilder struct {
	b    *Builder
	Node *syntax.Node
}

// Document starts a new document.
func (b *Builder) Document(path string) *DocumentBuilder {
	root := syntax.New(syntax.KindCompilationUnit, path)
	b.prog.AddDocument(path, root)
	return &DocumentBuilder{b: b, Node: root}
}

// NamespaceBuilder builds a namespace declaration.
type NamespaceBuilder struct {
	b    *Builder
	name string
	Node *syntax.Node
}

// Namespace adds a namespace declaration to the document.
func (d *DocumentBuilder) Namespace(name string) *NamespaceBuilder {
	n := syntax.New(syntax.KindNamespace, name)
	d.Node.Add(syntax.RoleMember, n)
	return &NamespaceBuilder{b: d.b, name: name, Node: n}
}

// TypeBuilder builds a type declaration.
type TypeBuilder struct {
	b      *Builder
	Symbol *symbols.Type
	Node   *syntax.Node
}

func (b *Builder) declareType(parent *syntax.Node, ns string, outer *symbols.Type, kind symbols.TypeKind, name string, opts []TypeOption) *TypeBuilder {
	t := &symbols.Type{Name: name, Namespace: ns, Kind: kind, ContainingType: outer}
	for _, opt := range opts {
		opt(t)
	}
	b.prog.AddType(t)

	nodeKind := syntax.KindClass
	switch kind {
	case symbols.TypeInterface:
		nodeKind = syntax.KindInterface
	case symbols.TypeStruct:
		nodeKind = syntax.KindStruct
	}
	n := syntax.New(nodeKind, name)
	parent.Add(syntax.RoleMember, n)
	b.prog.Declare(n, t)
	return &TypeBuilder{b: b, Symbol: t, Node: n}
}

// Class declares a class in the namespace.
func (ns *NamespaceBuilder) Class(name string, opts ...TypeOption) *TypeBuilder {
	return ns.b.declareType(ns.Node, ns.name, nil, symbols.TypeClass, name, opts)
}

// Interface declares an interface in the namespace.
func (ns *NamespaceBuilder) Interface(name string, opts ...TypeOption) *TypeBuilder {
	return ns.b.declareType(ns.Node, ns.name, nil, symbols.TypeInterface, name, opts)
}

// Struct declares a struct in the namespace.
func (ns *NamespaceBuilder) Struct(name string, opts ...TypeOption) *TypeBuilder {
	return ns.b.declareType(ns.Node, ns.name, nil, symbols.TypeStruct, name, opts)
}

// Class declares a nested class.
func (tb *TypeBuilder) Class(name string, opts ...TypeOption) *TypeBuilder {
	return tb.b.declareType(tb.Node, tb.Symbol.Namespace, tb.Symbol, symbols.TypeClass, name, opts)
}

// FunctionBuilder builds a method, constructor, local function or lambda.
type FunctionBuilder struct {
	b      *Builder
	Symbol *symbols.Method
	Node   *syntax.Node
}

func (tb *TypeBuilder) member(kind syntax.Kind, name string, opts []MethodOption) *FunctionBuilder {
	m := newMethod(name, opts)
	switch kind {
	case syntax.KindConstructor:
		m.Kind = symbols.MethodConstructor
	case syntax.KindOperator:
		m.Kind = symbols.MethodOperator
	}
	tb.b.prog.AddMethod(tb.Symbol, m)
	n := syntax.New(kind, name)
	tb.Node.Add(syntax.RoleMember, n)
	tb.b.prog.Declare(n, m)
	return &FunctionBuilder{b: tb.b, Symbol: m, Node: n}
}

// Method declares a method.
func (tb *TypeBuilder) Method(name string, opts ...MethodOption) *FunctionBuilder {
	return tb.member(syntax.KindMethod, name, opts)
}

// Constructor declares a constructor.
func (tb *TypeBuilder) Constructor(opts ...MethodOption) *FunctionBuilder {
	return tb.member(syntax.KindConstructor, ".ctor", opts)
}

// Operator declares an operator.
func (tb *TypeBuilder) Operator(name string, opts ...MethodOption) *FunctionBuilder {
	return tb.member(syntax.KindOperator, name, opts)
}

// Property declares a property without accessor bodies.
func (tb *TypeBuilder) Property(name string, t symbols.TypeRef) *syntax.Node {
	n := syntax.New(syntax.KindProperty, name)
	n.Text = t.String()
	tb.Node.Add(syntax.RoleMember, n)
	return n
}

// Field declares a field.
func (tb *TypeBuilder) Field(name string, t symbols.TypeRef) *syntax.Node {
	n := syntax.New(syntax.KindField, name)
	n.Text = t.String()
	tb.Node.Add(syntax.RoleMember, n)
	return n
}

// Body attaches a block body with the given statements.
func (fb *FunctionBuilder) Body(stmts ...*syntax.Node) *FunctionBuilder {
	fb.Node.Add(syntax.RoleBody, Block(stmts...))
	return fb
}

// ExpressionBody attaches an expression body.
func (fb *FunctionBuilder) ExpressionBody(expr *syntax.Node) *FunctionBuilder {
	fb.Node.Add(syntax.RoleBody, expr)
	return fb
}

// LocalFunction creates a local function declaration statement. Place
// fb.Node inside a body block.
func (b *Builder) LocalFunction(name string, opts ...MethodOption) *FunctionBuilder {
	m := newMethod(name, opts)
	m.Kind = symbols.MethodLocalFunction
	b.prog.AddFunction(m)
	n := syntax.New(syntax.KindLocalFunction, name)
	b.prog.Declare(n, m)
	return &FunctionBuilder{b: b, Symbol: m, Node: n}
}

// Lambda creates an anonymous function with the given body. A block body is
// created when body is a statement.
func (b *Builder) Lambda(body *syntax.Node, opts ...MethodOption) *syntax.Node {
	return b.LambdaFunc(body, opts...).Node
}

// LambdaFunc is Lambda returning the builder, for tests that need the symbol.
func (b *Builder) LambdaFunc(body *syntax.Node, opts ...MethodOption) *FunctionBuilder {
	b.lambdas++
	m := newMethod(fmt.Sprintf("<lambda>%d", b.lambdas), opts)
	m.Kind = symbols.MethodAnonymousFunction
	b.prog.AddFunction(m)
	n := syntax.New(syntax.KindLambda, "")
	if body != nil && body.Kind.IsStatement() && body.Kind != syntax.KindBlock {
		body = Block(body)
	}
	n.Add(syntax.RoleBody, body)
	b.prog.Declare(n, m)
	return &FunctionBuilder{b: b, Symbol: m, Node: n}
}

// Call invokes m by simple name.
func (b *Builder) Call(m *symbols.Method, args ...*syntax.Node) *syntax.Node {
	name := Ident(m.Name)
	b.prog.Bind(name, m)
	inv := syntax.New(syntax.KindInvocation, m.Name)
	inv.Add(syntax.RoleCallee, name)
	inv.Add(syntax.RoleArguments, Arguments(args...))
	return inv
}

// CallOn invokes m on a receiver expression.
func (b *Builder) CallOn(receiver *syntax.Node, m *symbols.Method, args ...*syntax.Node) *syntax.Node {
	name := Ident(m.Name)
	b.prog.Bind(name, m)
	callee := syntax.New(syntax.KindMemberAccess, m.Name)
	callee.Add(syntax.RoleExpression, receiver)
	callee.Add(syntax.RoleMember, name)
	inv := syntax.New(syntax.KindInvocation, m.Name)
	inv.Add(syntax.RoleCallee, callee)
	inv.Add(syntax.RoleArguments, Arguments(args...))
	return inv
}

// MethodGroup refers to m without invoking it.
func (b *Builder) MethodGroup(m *symbols.Method) *syntax.Node {
	name := Ident(m.Name)
	b.prog.Bind(name, m)
	return name
}

// Typed records the static type of expr and returns it.
func (b *Builder) Typed(expr *syntax.Node, t symbols.TypeRef) *syntax.Node {
	b.prog.SetType(expr, t)
	return expr
}

// Arguments wraps expressions into an argument list.
func Arguments(args ...*syntax.Node) *syntax.Node {
	list := syntax.New(syntax.KindArgumentList, "")
	for _, a := range args {
		arg := syntax.New(syntax.KindArgument, "")
		arg.Add(syntax.RoleValue, a)
		list.Add(syntax.RoleNone, arg)
	}
	return list
}

// Block creates a statement block.
func Block(stmts ...*syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindBlock, "")
	for _, s := range stmts {
		n.Add(syntax.RoleNone, s)
	}
	return n
}

func unary(kind syntax.Kind, role syntax.Role, child *syntax.Node) *syntax.Node {
	n := syntax.New(kind, "")
	n.Add(role, child)
	return n
}

// Return creates a return statement. A nil expression returns nothing.
func Return(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindReturn, syntax.RoleExpression, expr)
}

// Stmt wraps an expression into an expression statement.
func Stmt(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindExpressionStatement, syntax.RoleExpression, expr)
}

// Throw creates a throw statement.
func Throw(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindThrow, syntax.RoleExpression, expr)
}

// If creates an if statement. The alternative may be nil.
func If(cond, then, otherwise *syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindIf, "")
	n.Add(syntax.RoleCondition, cond)
	n.Add(syntax.RoleConsequence, then)
	n.Add(syntax.RoleAlternative, otherwise)
	return n
}

// Var declares a local variable initialized with value.
func Var(name string, value *syntax.Node) *syntax.Node {
	decl := syntax.New(syntax.KindVariableDeclarator, name)
	decl.Add(syntax.RoleValue, value)
	return unary(syntax.KindLocalDeclaration, syntax.RoleNone, decl)
}

// Assign creates an assignment expression.
func Assign(left, right *syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindAssignment, "")
	n.Operator = "="
	n.Add(syntax.RoleLeft, left)
	n.Add(syntax.RoleRight, right)
	return n
}

// Subscribe creates an event subscription (+=).
func Subscribe(event, handler *syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindEventSubscription, "")
	n.Operator = "+="
	n.Add(syntax.RoleLeft, event)
	n.Add(syntax.RoleRight, handler)
	return n
}

// Await creates an await expression.
func Await(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindAwait, syntax.RoleExpression, expr)
}

// Member creates a member access on expr, e.g. Member(call, "Result").
func Member(expr *syntax.Node, name string) *syntax.Node {
	n := syntax.New(syntax.KindMemberAccess, name)
	n.Add(syntax.RoleExpression, expr)
	n.Add(syntax.RoleMember, Ident(name))
	return n
}

// Invoke calls an unbound callee expression, e.g. Invoke(Member(t, "Wait")).
func Invoke(callee *syntax.Node, args ...*syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindInvocation, callee.Name)
	n.Add(syntax.RoleCallee, callee)
	n.Add(syntax.RoleArguments, Arguments(args...))
	return n
}

// Lock creates a lock statement.
func Lock(expr *syntax.Node, body ...*syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindLock, "")
	n.Add(syntax.RoleExpression, expr)
	n.Add(syntax.RoleBody, Block(body...))
	return n
}

// Try creates a try statement with the given body.
func Try(body ...*syntax.Node) *syntax.Node {
	return unary(syntax.KindTry, syntax.RoleBody, Block(body...))
}

// Using creates a using statement.
func Using(expr *syntax.Node, body ...*syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindUsing, "")
	n.Add(syntax.RoleExpression, expr)
	n.Add(syntax.RoleBody, Block(body...))
	return n
}

// Query creates a query expression whose clauses contain expr.
func Query(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindQuery, syntax.RoleExpression, expr)
}

// Yield creates a yield return statement.
func Yield(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindYield, syntax.RoleExpression, expr)
}

// Paren wraps expr in parentheses.
func Paren(expr *syntax.Node) *syntax.Node {
	return unary(syntax.KindParenthesized, syntax.RoleExpression, expr)
}

// Cast creates a cast expression.
func Cast(typeName string, expr *syntax.Node) *syntax.Node {
	n := unary(syntax.KindCast, syntax.RoleExpression, expr)
	n.Name = typeName
	return n
}

// Conditional creates cond ? a : b.
func Conditional(cond, a, b *syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindConditional, "")
	n.Add(syntax.RoleCondition, cond)
	n.Add(syntax.RoleConsequence, a)
	n.Add(syntax.RoleAlternative, b)
	return n
}

// Binary creates a binary expression.
func Binary(op string, left, right *syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindBinary, "")
	n.Operator = op
	n.Add(syntax.RoleLeft, left)
	n.Add(syntax.RoleRight, right)
	return n
}

// New creates an object creation expression.
func New(typeName string, args ...*syntax.Node) *syntax.Node {
	n := syntax.New(syntax.KindObjectCreation, typeName)
	n.Add(syntax.RoleArguments, Arguments(args...))
	return n
}

// Ident creates an identifier.
func Ident(name string) *syntax.Node {
	n := syntax.New(syntax.KindIdentifier, name)
	n.Text = name
	return n
}

// Literal creates a literal.
func Literal(text string) *syntax.Node {
	n := syntax.New(syntax.KindLiteral, "")
	n.Text = text
	return n
}

// This creates a this expression.
func This() *syntax.Node {
	return syntax.New(syntax.KindThis, "this")
}

// Raw creates a node of an arbitrary kind with the given children, for
// constructs the helpers above do not cover.
func Raw(kind syntax.Kind, children ...*syntax.Node) *syntax.Node {
	n := syntax.New(kind, "")
	for _, c := range children {
		n.Add(syntax.RoleExpression, c)
	}
	return n
}

func splitName(fullName string) (ns, name string) {
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", fullName
}
