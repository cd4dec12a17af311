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

import "strings"

// Well-known fully qualified type names.
const (
	VoidName              = "void"
	TaskName              = "System.Threading.Tasks.Task"
	ValueTaskName         = "System.Threading.Tasks.ValueTask"
	CancellationTokenName = "System.Threading.CancellationToken"
	FuncName              = "System.Func"
	ActionName            = "System.Action"
)

// TypeRef is a reference to a (possibly generic) type as it appears in a
// signature or expression.
//
// Thread Safety: Immutable value type.
type TypeRef struct {
	// Name is the fully qualified type name without type arguments.
	Name string `json:"name" yaml:"name"`

	// Args are the generic type arguments in declaration order.
	Args []TypeRef `json:"args,omitempty" yaml:"args,omitempty"`
}

// Void is the void type.
var Void = TypeRef{Name: VoidName}

// CancellationToken is the cancellation token type.
var CancellationToken = TypeRef{Name: CancellationTokenName}

// Named creates a TypeRef.
func Named(name string, args ...TypeRef) TypeRef {
	return TypeRef{Name: name, Args: args}
}

// TaskOf returns Task for void and Task<t> otherwise.
func TaskOf(t TypeRef) TypeRef {
	if t.IsVoid() {
		return TypeRef{Name: TaskName}
	}
	return TypeRef{Name: TaskName, Args: []TypeRef{t}}
}

// Func builds System.Func<params..., result>.
func Func(result TypeRef, params ...TypeRef) TypeRef {
	args := append(append([]TypeRef{}, params...), result)
	return TypeRef{Name: FuncName, Args: args}
}

// Action builds System.Action<params...>.
func Action(params ...TypeRef) TypeRef {
	return TypeRef{Name: ActionName, Args: params}
}

// IsZero reports whether the reference is unset.
func (t TypeRef) IsZero() bool {
	return t.Name == ""
}

// IsVoid reports whether the type is void.
func (t TypeRef) IsVoid() bool {
	return t.Name == VoidName
}

// IsTaskShaped reports whether the type is awaitable (Task/ValueTask, generic or not).
func (t TypeRef) IsTaskShaped() bool {
	return t.Name == TaskName || t.Name == ValueTaskName
}

// IsCancellationToken reports whether the type is the cancellation token.
func (t TypeRef) IsCancellationToken() bool {
	return t.Name == CancellationTokenName
}

// IsDelegate reports whether the type is a Func or Action delegate.
func (t TypeRef) IsDelegate() bool {
	return t.Name == FuncName || t.Name == ActionName
}

// DelegateReturn returns the return type of a delegate type.
func (t TypeRef) DelegateReturn() TypeRef {
	if t.Name == FuncName && len(t.Args) > 0 {
		return t.Args[len(t.Args)-1]
	}
	return Void
}

// DelegateParameters returns the parameter types of a delegate type.
func (t TypeRef) DelegateParameters() []TypeRef {
	if t.Name == FuncName && len(t.Args) > 0 {
		return t.Args[:len(t.Args)-1]
	}
	if t.Name == ActionName {
		return t.Args
	}
	return nil
}

// AsyncDelegate returns the asynchronous shape of a delegate type:
// Action<A> becomes Func<A, Task> and Func<A, R> becomes Func<A, Task<R>>.
func (t TypeRef) AsyncDelegate() TypeRef {
	return Func(TaskOf(t.DelegateReturn()), t.DelegateParameters()...)
}

// Unwrapped returns T for Task<T>/ValueTask<T>, void for Task/ValueTask and t
// itself otherwise.
func (t TypeRef) Unwrapped() TypeRef {
	if !t.IsTaskShaped() {
		return t
	}
	if len(t.Args) == 0 {
		return Void
	}
	return t.Args[0]
}

// Equal reports structural equality.
func (t TypeRef) Equal(o TypeRef) bool {
	if t.Name != o.Name || len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// SimpleName returns the name without its namespace.
func (t TypeRef) SimpleName() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

// String renders the type with simple names, e.g. "Task<String>".
func (t TypeRef) String() string {
	if len(t.Args) == 0 {
		return t.SimpleName()
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.String()
	}
	return t.SimpleName() + "<" + strings.Join(parts, ", ") + ">"
}
