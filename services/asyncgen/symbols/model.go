// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package symbols holds the semantic model shared by every front-end and the
// analysis passes: types, methods, the FrontEnd contract and the Graph that
// answers cross-document questions over it.
package symbols

import (
	"errors"
	"fmt"
	"strings"
)

// AsyncSuffix is the naming convention for asynchronous counterparts.
const AsyncSuffix = "Async"

// SymbolID uniquely identifies a symbol across a program and its references.
type SymbolID string

// Symbol is implemented by *Type and *Method.
type Symbol interface {
	// SymbolID returns the unique identifier.
	SymbolID() SymbolID

	// DisplayName returns a human readable qualified name.
	DisplayName() string

	// AssemblyName returns the assembly (compilation unit set) that declares the symbol.
	AssemblyName() string
}

// TypeKind is the kind of a type declaration.
type TypeKind int

const (
	TypeClass TypeKind = iota
	TypeInterface
	TypeStruct
)

// String returns the string representation of the TypeKind.
func (k TypeKind) String() string {
	switch k {
	case TypeClass:
		return "class"
	case TypeInterface:
		return "interface"
	case TypeStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// MethodKind mirrors the categories a compiler assigns to method symbols.
type MethodKind int

const (
	MethodOrdinary MethodKind = iota
	MethodExplicitInterfaceImplementation
	MethodConstructor
	MethodOperator
	MethodConversion
	MethodPropertyGet
	MethodPropertySet
	MethodDestructor
	MethodAnonymousFunction
	MethodLocalFunction
)

// String returns the string representation of the MethodKind.
func (k MethodKind) String() string {
	switch k {
	case MethodOrdinary:
		return "ordinary"
	case MethodExplicitInterfaceImplementation:
		return "explicit_interface_implementation"
	case MethodConstructor:
		return "constructor"
	case MethodOperator:
		return "operator"
	case MethodConversion:
		return "conversion"
	case MethodPropertyGet:
		return "property_get"
	case MethodPropertySet:
		return "property_set"
	case MethodDestructor:
		return "destructor"
	case MethodAnonymousFunction:
		return "anonymous_function"
	case MethodLocalFunction:
		return "local_function"
	default:
		return "unknown"
	}
}

// RefKind is the passing mode of a parameter.
type RefKind int

const (
	RefNone RefKind = iota
	RefRef
	RefOut
	RefIn
)

// Parameter is a method parameter.
type Parameter struct {
	Name       string  `json:"name"`
	Type       TypeRef `json:"type"`
	RefKind    RefKind `json:"ref_kind,omitempty"`
	IsThis     bool    `json:"is_this,omitempty"`
	HasDefault bool    `json:"has_default,omitempty"`
}

// Type is a class, interface or struct symbol.
//
// Thread Safety: Built by a single front-end goroutine; read-only afterwards.
type Type struct {
	ID             SymbolID
	Name           string
	Namespace      string
	Kind           TypeKind
	Assembly       string
	BaseType       *Type
	Interfaces     []*Type
	Methods        []*Method
	ContainingType *Type
	IsStatic       bool
	IsSealed       bool
}

// SymbolID implements Symbol.
func (t *Type) SymbolID() SymbolID { return t.ID }

// DisplayName implements Symbol.
func (t *Type) DisplayName() string { return t.FullName() }

// AssemblyName implements Symbol.
func (t *Type) AssemblyName() string { return t.Assembly }

// FullName returns Namespace.Outer.Name.
func (t *Type) FullName() string {
	if t.ContainingType != nil {
		return t.ContainingType.FullName() + "." + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Ref returns a TypeRef naming t.
func (t *Type) Ref() TypeRef {
	return TypeRef{Name: t.FullName()}
}

// BaseTypes returns the base type chain, nearest first.
func (t *Type) BaseTypes() []*Type {
	var out []*Type
	seen := map[*Type]bool{t: true}
	for b := t.BaseType; b != nil && !seen[b]; b = b.BaseType {
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// AllInterfaces returns every interface t implements, including interfaces
// inherited from base types and base interfaces, deduplicated in discovery order.
func (t *Type) AllInterfaces() []*Type {
	var out []*Type
	seen := make(map[*Type]bool)
	var visit func(*Type)
	visit = func(i *Type) {
		if i == nil || seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
		for _, b := range i.Interfaces {
			visit(b)
		}
	}
	for _, cur := range append([]*Type{t}, t.BaseTypes()...) {
		for _, i := range cur.Interfaces {
			visit(i)
		}
	}
	return out
}

// MethodsNamed returns the methods of t with the given name.
func (t *Type) MethodsNamed(name string) []*Method {
	var out []*Method
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// AddMethod attaches m to t.
func (t *Type) AddMethod(m *Method) *Method {
	m.ContainingType = t
	if m.Assembly == "" {
		m.Assembly = t.Assembly
	}
	t.Methods = append(t.Methods, m)
	return m
}

// Method is a method, local function or anonymous function symbol.
//
// Thread Safety: Built by a single front-end goroutine; read-only afterwards.
type Method struct {
	ID             SymbolID
	Name           string
	Kind           MethodKind
	ContainingType *Type
	Parameters     []Parameter
	ReturnType     TypeRef
	Assembly       string

	IsAsync        bool
	IsStatic       bool
	IsAbstract     bool
	IsVirtual      bool
	IsOverride     bool
	IsSealed       bool
	IsExtension    bool
	IsSynchronized bool

	// Overridden is the member this method overrides, if any.
	Overridden *Method

	// ExplicitInterfaceImplementations lists interface members implemented
	// explicitly by this method.
	ExplicitInterfaceImplementations []*Method

	// OriginalDefinition is the unspecialized definition of a constructed
	// generic method. Nil means the method is its own definition.
	OriginalDefinition *Method
}

// SymbolID implements Symbol.
func (m *Method) SymbolID() SymbolID { return m.ID }

// DisplayName implements Symbol.
func (m *Method) DisplayName() string { return m.Signature() }

// AssemblyName implements Symbol.
func (m *Method) AssemblyName() string { return m.Assembly }

// Definition returns the unspecialized definition of m.
func (m *Method) Definition() *Method {
	if m.OriginalDefinition != nil {
		return m.OriginalDefinition
	}
	return m
}

// FullName returns the containing type's full name and the method name.
func (m *Method) FullName() string {
	if m.ContainingType == nil {
		return m.Name
	}
	return m.ContainingType.FullName() + "." + m.Name
}

// Signature renders "Ns.Type.Name(T1, T2)".
func (m *Method) Signature() string {
	parts := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		parts[i] = p.Type.String()
	}
	return m.FullName() + "(" + strings.Join(parts, ", ") + ")"
}

// HasOutParameter reports whether any parameter is passed by out reference.
func (m *Method) HasOutParameter() bool {
	for _, p := range m.Parameters {
		if p.RefKind == RefOut {
			return true
		}
	}
	return false
}

// HasAsyncName reports whether the method name already ends with the async suffix.
func (m *Method) HasAsyncName() bool {
	return strings.HasSuffix(m.Name, AsyncSuffix) && len(m.Name) > len(AsyncSuffix)
}

// ReturnsAwaitable reports whether the return type is Task shaped.
func (m *Method) ReturnsAwaitable() bool {
	return m.ReturnType.IsTaskShaped()
}

// LastParameterIsCancellationToken reports whether the trailing parameter is a
// cancellation token.
func (m *Method) LastParameterIsCancellationToken() bool {
	n := len(m.Parameters)
	return n > 0 && m.Parameters[n-1].Type.IsCancellationToken()
}

// IsInterfaceMember reports whether m is declared by an interface.
func (m *Method) IsInterfaceMember() bool {
	return m.ContainingType != nil && m.ContainingType.Kind == TypeInterface
}

// ErrInvalidSymbol indicates a symbol failed validation.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Validate checks the minimum fields a symbol needs before indexing.
func Validate(s Symbol) error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSymbol)
	}
	if s.SymbolID() == "" {
		return fmt.Errorf("%w: empty id for %q", ErrInvalidSymbol, s.DisplayName())
	}
	switch v := s.(type) {
	case *Type:
		if v.Name == "" {
			return fmt.Errorf("%w: type %s has no name", ErrInvalidSymbol, v.ID)
		}
	case *Method:
		if v.Name == "" {
			return fmt.Errorf("%w: method %s has no name", ErrInvalidSymbol, v.ID)
		}
		if v.Kind != MethodAnonymousFunction && v.Kind != MethodLocalFunction && v.ContainingType == nil {
			return fmt.Errorf("%w: method %s has no containing type", ErrInvalidSymbol, v.ID)
		}
	}
	return nil
}
