// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package result

import "strings"

// Types returns every type in the result, nested types after their outer
// type, in document order.
func (r *Result) Types() []*Type {
	var out []*Type
	var visit func(t *Type)
	visit = func(t *Type) {
		out = append(out, t)
		for i := range t.NestedTypes {
			visit(&t.NestedTypes[i])
		}
	}
	for di := range r.Documents {
		for ni := range r.Documents[di].Namespaces {
			ns := &r.Documents[di].Namespaces[ni]
			for ti := range ns.Types {
				visit(&ns.Types[ti])
			}
		}
	}
	return out
}

// Methods returns every type member function in document order.
func (r *Result) Methods() []*Method {
	var out []*Method
	for _, t := range r.Types() {
		for i := range t.Methods {
			out = append(out, &t.Methods[i])
		}
	}
	return out
}

// Type returns the type with the given full name, or nil.
func (r *Result) Type(fullName string) *Type {
	for _, t := range r.Types() {
		if t.FullName == fullName {
			return t
		}
	}
	return nil
}

// Method finds a method by ID, by signature or by "Type.Name" suffix. The
// first match in document order wins.
func (r *Result) Method(name string) *Method {
	for _, m := range r.Methods() {
		if m.ID == name || m.Signature == name {
			return m
		}
	}
	for _, m := range r.Methods() {
		qualified := m.Signature
		if i := strings.IndexByte(qualified, '('); i >= 0 {
			qualified = qualified[:i]
		}
		if qualified == name || strings.HasSuffix(qualified, "."+name) {
			return m
		}
	}
	return nil
}

// AllFunctions returns every method and nested function, depth first.
func (r *Result) AllFunctions() []*Function {
	var out []*Function
	var visit func(f *Function)
	visit = func(f *Function) {
		out = append(out, f)
		for i := range f.Functions {
			visit(&f.Functions[i])
		}
	}
	for _, m := range r.Methods() {
		visit(m)
	}
	return out
}

// ToAsyncReferences returns the references whose verdict is to_async.
func (f *Function) ToAsyncReferences() []Reference {
	var out []Reference
	for _, ref := range f.References {
		if ref.Conversion == MethodToAsync {
			out = append(out, ref)
		}
	}
	return out
}
