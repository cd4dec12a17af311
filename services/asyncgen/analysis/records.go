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
	"sync"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// DocumentData is the root of one document's declaration tree.
type DocumentData struct {
	Document *symbols.Document

	// Namespaces in creation order.
	Namespaces Registry[*syntax.Node, *NamespaceData]

	// types and functions index every record of the document by node.
	types     Registry[*syntax.Node, *TypeData]
	functions Registry[*syntax.Node, FunctionRecord]
}

// Path returns the document path.
func (d *DocumentData) Path() string {
	return d.Document.Path
}

// Types returns every type record of the document, outer types first.
func (d *DocumentData) Types() []*TypeData {
	return d.types.Values()
}

// Functions returns every method and nested function record of the document.
func (d *DocumentData) Functions() []FunctionRecord {
	return d.functions.Values()
}

// Methods returns the type member records of the document.
func (d *DocumentData) Methods() []*MethodData {
	var out []*MethodData
	for _, f := range d.functions.Values() {
		if m, ok := f.(*MethodData); ok {
			out = append(out, m)
		}
	}
	return out
}

// NamespaceData is a namespace block. The compilation unit itself acts as
// the global namespace.
type NamespaceData struct {
	Name     string
	Node     *syntax.Node
	Document *DocumentData
	Types    Registry[*syntax.Node, *TypeData]
}

// TypeData is the analysis record of a type declaration.
type TypeData struct {
	Symbol    *symbols.Type
	Node      *syntax.Node
	Namespace *NamespaceData
	Outer     *TypeData

	Methods     Registry[*syntax.Node, *MethodData]
	NestedTypes Registry[*syntax.Node, *TypeData]
	Properties  Set[*syntax.Node]
	Fields      Set[*syntax.Node]

	mu         sync.Mutex
	conversion TypeConversion
	pinned     bool
}

// Conversion returns the current type verdict.
func (t *TypeData) Conversion() TypeConversion {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversion
}

// IsPinned reports whether the verdict was set explicitly by policy.
func (t *TypeData) IsPinned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinned
}

func (t *TypeData) setConversion(c TypeConversion, pinned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversion = c
	t.pinned = pinned
}

// FunctionRecord is implemented by *MethodData and *FunctionData.
type FunctionRecord interface {
	// Func returns the shared function state.
	Func() *Function
}

// Function is the state shared by methods and nested functions.
//
// Thread Safety:
//
//	Scalar state is guarded by an internal mutex; the collections are
//	concurrent sets. Records are mutated only by the analysis passes.
type Function struct {
	Symbol   *symbols.Method
	Node     *syntax.Node
	Document *DocumentData

	// Type is the type declaring the method, or the type enclosing a nested
	// function.
	Type *TypeData

	// Parent is the enclosing function of a nested function, nil for methods.
	Parent FunctionRecord

	// References are outgoing references found in the body.
	References Set[*InvocationReference]

	// InvokedBy are incoming references from other functions.
	InvokedBy Set[*InvocationReference]

	// Functions are the nested lambdas and local functions.
	Functions Registry[*syntax.Node, *FunctionData]

	// Locks are lock statements enclosing an analyzed reference.
	Locks Set[*syntax.Node]

	// rec is the record embedding this state.
	rec FunctionRecord

	mu              sync.Mutex
	conversion      MethodConversion
	changes         []MethodConversion
	ignoreReason    string
	explicitToAsync bool
	alreadyAsync    bool
	tokenRequired   bool
	preconditions   []*syntax.Node
	flags           Flags
}

// Flags are the structural properties derived for a converted function.
type Flags struct {
	OmitAsync                  bool
	WrapInTryCatch             bool
	SplitTail                  bool
	PreserveReturnType         bool
	Faulted                    bool
	RewriteYields              bool
	MustRunSynchronized        bool
	AddCancellationTokenGuards bool
	CancellationToken          CancellationTokenMode
}

// Func implements FunctionRecord.
func (f *Function) Func() *Function { return f }

func (f *Function) record() FunctionRecord { return f.rec }

// Name returns the symbol name.
func (f *Function) Name() string {
	return f.Symbol.Name
}

// Conversion returns the current verdict.
func (f *Function) Conversion() MethodConversion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversion
}

// IgnoreReason returns why the function was ignored.
func (f *Function) IgnoreReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ignoreReason
}

// ConversionHistory returns every verdict assigned, in order.
func (f *Function) ConversionHistory() []MethodConversion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MethodConversion, len(f.changes))
	copy(out, f.changes)
	return out
}

// ExplicitToAsync reports whether policy requested ToAsync.
func (f *Function) ExplicitToAsync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.explicitToAsync
}

// IsAlreadyAsync reports whether the function was ignored for being async.
func (f *Function) IsAlreadyAsync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alreadyAsync
}

// CancellationTokenRequired reports whether the function needs a token.
func (f *Function) CancellationTokenRequired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequired
}

// Preconditions returns the extracted precondition statements.
func (f *Function) Preconditions() []*syntax.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*syntax.Node, len(f.preconditions))
	copy(out, f.preconditions)
	return out
}

// Flags returns the derived flags.
func (f *Function) Flags() Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

// setConversion records a verdict. It returns false when the verdict is
// already c.
func (f *Function) setConversion(c MethodConversion, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conversion == c {
		return false
	}
	f.conversion = c
	f.changes = append(f.changes, c)
	if c == MethodIgnore {
		f.ignoreReason = reason
	}
	return true
}

// resolve moves an undecided (Unknown or Smart) verdict to c. Any other
// current verdict is left untouched and false is returned, which keeps the
// post-analysis transition single.
func (f *Function) resolve(c MethodConversion, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conversion != MethodUnknown && f.conversion != MethodSmart {
		return false
	}
	f.conversion = c
	f.changes = append(f.changes, c)
	if c == MethodIgnore {
		f.ignoreReason = reason
	}
	return true
}

func (f *Function) setTokenRequired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenRequired {
		return false
	}
	f.tokenRequired = true
	return true
}

// ContainingType returns the type a function belongs to.
func (f *Function) ContainingType() *TypeData {
	return f.Type
}

// MethodData is the record of a type member function.
type MethodData struct {
	Function

	// Related are internal override and interface relatives (bidirectional).
	Related Set[*MethodData]

	relMu                sync.Mutex
	externalRelations    []ExternalRelation
	existingCounterparts []*symbols.Method
}

// ExternalRelation is an external member overridden or implemented by a
// method, with the async counterparts resolved for it.
type ExternalRelation struct {
	Member       *symbols.Method
	Counterparts []*symbols.Method
}

// ExternalRelations returns a copy of the external relations.
func (m *MethodData) ExternalRelations() []ExternalRelation {
	m.relMu.Lock()
	defer m.relMu.Unlock()
	out := make([]ExternalRelation, len(m.externalRelations))
	copy(out, m.externalRelations)
	return out
}

// ExistingCounterparts returns async counterparts found for the method itself.
func (m *MethodData) ExistingCounterparts() []*symbols.Method {
	m.relMu.Lock()
	defer m.relMu.Unlock()
	out := make([]*symbols.Method, len(m.existingCounterparts))
	copy(out, m.existingCounterparts)
	return out
}

func (m *MethodData) addExternalRelation(rel ExternalRelation) {
	m.relMu.Lock()
	defer m.relMu.Unlock()
	m.externalRelations = append(m.externalRelations, rel)
}

func (m *MethodData) setExistingCounterparts(cs []*symbols.Method) {
	m.relMu.Lock()
	defer m.relMu.Unlock()
	m.existingCounterparts = cs
}

// relate records a bidirectional related-method edge.
func (m *MethodData) relate(other *MethodData) {
	if other == nil || other == m {
		return
	}
	m.Related.Add(other)
	other.Related.Add(m)
}

// FunctionData is the record of a lambda or local function.
type FunctionData struct {
	Function
}

// IsLambda reports whether the function is anonymous.
func (f *FunctionData) IsLambda() bool {
	return f.Node.Kind == syntax.KindLambda
}

// ReferenceUsage is the syntactic context a reference was found in.
type ReferenceUsage int

const (
	UsageUnclassified ReferenceUsage = iota
	// UsageInvoked is a direct call.
	UsageInvoked
	// UsageDelegateArgument is a method group passed as an argument.
	UsageDelegateArgument
	// UsageAssigned is a method group stored in a variable, field or event.
	UsageAssigned
	// UsageQuery is a reference inside a query expression.
	UsageQuery
	// UsageUnsupported is any other context.
	UsageUnsupported
)

// String returns the string representation of the ReferenceUsage.
func (u ReferenceUsage) String() string {
	switch u {
	case UsageInvoked:
		return "invoked"
	case UsageDelegateArgument:
		return "delegate_argument"
	case UsageAssigned:
		return "assigned"
	case UsageQuery:
		return "query"
	case UsageUnsupported:
		return "unsupported"
	default:
		return "unclassified"
	}
}

// InvocationReference is one reference from a function body to a method.
//
// Thread Safety: Mutable fields are guarded by an internal mutex.
type InvocationReference struct {
	// Owner is the function whose body contains the reference.
	Owner FunctionRecord

	// NameNode is the identifier naming the method.
	NameNode *syntax.Node

	// Symbol is the original definition of the referenced method.
	Symbol *symbols.Method

	// Target is the record of the referenced function when it is analyzed.
	Target FunctionRecord

	mu                   sync.Mutex
	invocation           *syntax.Node
	usage                ReferenceUsage
	counterparts         []*symbols.Method
	usedAsReturnValue    bool
	lastInvocation       bool
	canBeAwaited         bool
	awaitRequired        bool
	synchronouslyAwaited bool
	tokenRequired        bool
	insideLock           bool
	ignored              bool
	ignoreReason         string
	classified           bool
}

func newReference(owner FunctionRecord, name *syntax.Node, sym *symbols.Method, target FunctionRecord) *InvocationReference {
	return &InvocationReference{
		Owner:        owner,
		NameNode:     name,
		Symbol:       sym,
		Target:       target,
		canBeAwaited: true,
	}
}

// Conversion returns the reference verdict: ToAsync when not ignored and
// either an async counterpart exists or the target itself is ToAsync.
func (r *InvocationReference) Conversion() MethodConversion {
	r.mu.Lock()
	ignored, n := r.ignored, len(r.counterparts)
	r.mu.Unlock()
	if ignored {
		return MethodIgnore
	}
	if n > 0 {
		return MethodToAsync
	}
	if r.Target != nil && r.Target.Func().Conversion() == MethodToAsync {
		return MethodToAsync
	}
	return MethodIgnore
}

// Invocation returns the invocation node, nil for method groups.
func (r *InvocationReference) Invocation() *syntax.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invocation
}

// Usage returns the classified usage.
func (r *InvocationReference) Usage() ReferenceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// Counterparts returns the resolved async counterparts.
func (r *InvocationReference) Counterparts() []*symbols.Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*symbols.Method, len(r.counterparts))
	copy(out, r.counterparts)
	return out
}

// Ignored reports whether conversion is disabled for the reference.
func (r *InvocationReference) Ignored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignored
}

// IgnoreReason returns why the reference is ignored.
func (r *InvocationReference) IgnoreReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignoreReason
}

// UsedAsReturnValue reports whether the reference is returned directly.
func (r *InvocationReference) UsedAsReturnValue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedAsReturnValue
}

// LastInvocation reports whether the reference is the final statement.
func (r *InvocationReference) LastInvocation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInvocation
}

// CanBeAwaited reports whether an await can be placed on the converted call.
func (r *InvocationReference) CanBeAwaited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canBeAwaited
}

// AwaitRequired reports whether the converted call must be awaited.
func (r *InvocationReference) AwaitRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awaitRequired
}

// SynchronouslyAwaited reports whether a returned task is unwrapped with
// .Result, .Wait() or .GetAwaiter().GetResult().
func (r *InvocationReference) SynchronouslyAwaited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synchronouslyAwaited
}

// CancellationTokenRequired reports whether a counterpart takes a token.
func (r *InvocationReference) CancellationTokenRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokenRequired
}

// InsideLock reports whether the reference is inside a lock statement.
func (r *InvocationReference) InsideLock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insideLock
}

// ignore disables conversion of the reference. The first reason is kept.
func (r *InvocationReference) ignore(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ignored {
		r.ignored = true
		r.ignoreReason = reason
	}
}

func (r *InvocationReference) setTokenRequired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenRequired = true
}

func (r *InvocationReference) update(fn func(r *InvocationReference)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}
