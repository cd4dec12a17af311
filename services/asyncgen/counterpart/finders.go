// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package counterpart

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

// Lookup resolves types for finders that depend on them.
type Lookup interface {
	// FindType looks a type up by full name.
	FindType(fullName string) *symbols.Type

	// DerivedTypes returns the program types inheriting from t.
	DerivedTypes(t *symbols.Type) []*symbols.Type
}

// Finder is one counterpart discovery strategy.
//
// Thread Safety: FindCounterparts is called concurrently after Init.
type Finder interface {
	// Name identifies the finder in logs and errors.
	Name() string

	// FindCounterparts returns candidate async counterparts of m.
	FindCounterparts(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method
}

// Initializer is implemented by finders that need external types. Init is
// called once before any lookup; an error aborts the run.
type Initializer interface {
	Init(lookup Lookup) error
}

// SuffixFinder finds members named after the synchronous method plus the
// "Async" suffix.
//
// Description:
//
//	Searches the containing type of the method and, when the invocation
//	happens through another type, that type as well. With
//	SearchInheritedTypes it also searches base types, implemented interfaces
//	and derived types.
type SuffixFinder struct {
	lookup Lookup
}

// NewSuffixFinder creates a SuffixFinder.
func NewSuffixFinder() *SuffixFinder {
	return &SuffixFinder{}
}

// Name implements Finder.
func (f *SuffixFinder) Name() string { return "suffix" }

// Init implements Initializer. The lookup is only used for derived types.
func (f *SuffixFinder) Init(lookup Lookup) error {
	f.lookup = lookup
	return nil
}

// FindCounterparts implements Finder.
func (f *SuffixFinder) FindCounterparts(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method {
	if m.ContainingType == nil {
		return nil
	}
	target := m.Name + symbols.AsyncSuffix
	var out []*symbols.Method
	for _, t := range f.searchTypes(m.ContainingType, invokedFrom, opts) {
		for _, cand := range t.MethodsNamed(target) {
			if cand.IsStatic != m.IsStatic {
				continue
			}
			if Matches(m, cand, opts) {
				out = append(out, cand)
			}
		}
	}
	return out
}

func (f *SuffixFinder) searchTypes(declaring, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Type {
	seen := make(map[*symbols.Type]bool)
	var out []*symbols.Type
	add := func(ts ...*symbols.Type) {
		for _, t := range ts {
			if t != nil && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(declaring)
	if invokedFrom != nil && invokedFrom != declaring {
		add(invokedFrom)
		add(invokedFrom.BaseTypes()...)
	}
	if opts.Has(SearchInheritedTypes) {
		add(declaring.BaseTypes()...)
		add(declaring.AllInterfaces()...)
		if f.lookup != nil {
			add(f.lookup.DerivedTypes(declaring)...)
		}
	}
	return out
}

// ExtensionFinder finds async extension methods declared on registered
// provider types, e.g. a static QueryableExtensions class offering
// ToListAsync for IQueryable.ToList.
type ExtensionFinder struct {
	typeNames []string
	providers []*symbols.Type
}

// NewExtensionFinder creates a finder over the named static provider types.
func NewExtensionFinder(providerTypes ...string) *ExtensionFinder {
	return &ExtensionFinder{typeNames: providerTypes}
}

// Name implements Finder.
func (f *ExtensionFinder) Name() string { return "extension" }

// Init implements Initializer. Every provider type must exist.
func (f *ExtensionFinder) Init(lookup Lookup) error {
	f.providers = f.providers[:0]
	for _, name := range f.typeNames {
		t := lookup.FindType(name)
		if t == nil {
			return &InitializationError{Finder: f.Name(), TypeName: name}
		}
		f.providers = append(f.providers, t)
	}
	return nil
}

// FindCounterparts implements Finder.
func (f *ExtensionFinder) FindCounterparts(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method {
	target := m.Name + symbols.AsyncSuffix
	var receivers []*symbols.Type
	if m.ContainingType != nil && !m.IsExtension {
		receivers = append(receivers, m.ContainingType)
		receivers = append(receivers, m.ContainingType.BaseTypes()...)
		receivers = append(receivers, m.ContainingType.AllInterfaces()...)
	}

	var out []*symbols.Method
	for _, p := range f.providers {
		for _, cand := range p.MethodsNamed(target) {
			if !cand.IsExtension || len(cand.Parameters) == 0 {
				continue
			}
			if m.IsExtension {
				// Both are extensions: parameter lists line up.
				if Matches(m, cand, opts) {
					out = append(out, cand)
				}
				continue
			}
			if m.IsStatic || !receiverMatches(cand.Parameters[0].Type, receivers) {
				continue
			}
			if matchesWithOffset(m, cand, 1, opts) {
				out = append(out, cand)
			}
		}
	}
	return out
}

func receiverMatches(param symbols.TypeRef, receivers []*symbols.Type) bool {
	for _, r := range receivers {
		if r.FullName() == param.Name {
			return true
		}
	}
	return false
}

// MappingFinder resolves counterparts from an explicit table of
// "Namespace.Type.Method" to "Namespace.Type.MethodAsync" entries, for
// frameworks whose async members do not follow the suffix convention.
type MappingFinder struct {
	mappings map[string]string
	targets  map[string]*symbols.Type
}

// NewMappingFinder creates a finder over sync-to-async member mappings.
func NewMappingFinder(mappings map[string]string) *MappingFinder {
	cp := make(map[string]string, len(mappings))
	for k, v := range mappings {
		cp[k] = v
	}
	return &MappingFinder{mappings: cp}
}

// Name implements Finder.
func (f *MappingFinder) Name() string { return "mapping" }

// Init implements Initializer. Every target type must exist.
func (f *MappingFinder) Init(lookup Lookup) error {
	f.targets = make(map[string]*symbols.Type, len(f.mappings))
	for from, to := range f.mappings {
		typeName, _, ok := splitMember(to)
		if !ok {
			return fmt.Errorf("mapping %q -> %q: target is not a member name", from, to)
		}
		t := lookup.FindType(typeName)
		if t == nil {
			return &InitializationError{Finder: f.Name(), TypeName: typeName}
		}
		f.targets[to] = t
	}
	return nil
}

// FindCounterparts implements Finder.
func (f *MappingFinder) FindCounterparts(m *symbols.Method, _ *symbols.Type, opts SearchOptions) []*symbols.Method {
	to, ok := f.mappings[m.Definition().FullName()]
	if !ok {
		return nil
	}
	t := f.targets[to]
	if t == nil {
		return nil
	}
	_, member, _ := splitMember(to)
	var out []*symbols.Method
	for _, cand := range t.MethodsNamed(member) {
		skip := 0
		if cand.IsExtension && !m.IsExtension {
			skip = 1
		}
		if matchesWithOffset(m, cand, skip, opts) {
			out = append(out, cand)
		}
	}
	return out
}

func splitMember(full string) (typeName, member string, ok bool) {
	i := strings.LastIndex(full, ".")
	if i <= 0 || i == len(full)-1 {
		return "", "", false
	}
	return full[:i], full[i+1:], true
}
