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

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultMaxSymbols is the default maximum number of symbols the index can hold.
const DefaultMaxSymbols = 1_000_000

var (
	// ErrDuplicateSymbol indicates a symbol with the same ID is already indexed.
	ErrDuplicateSymbol = errors.New("duplicate symbol")

	// ErrMaxSymbolsExceeded indicates the index is at capacity.
	ErrMaxSymbolsExceeded = errors.New("max symbols exceeded")
)

// SymbolIndexOptions configures SymbolIndex behavior and limits.
type SymbolIndexOptions struct {
	// MaxSymbols is the maximum number of symbols the index can hold.
	// Default: 1,000,000
	MaxSymbols int
}

// DefaultSymbolIndexOptions returns the default options.
func DefaultSymbolIndexOptions() SymbolIndexOptions {
	return SymbolIndexOptions{MaxSymbols: DefaultMaxSymbols}
}

// SymbolIndexOption is a functional option for configuring SymbolIndex.
type SymbolIndexOption func(*SymbolIndexOptions)

// WithMaxSymbols sets the maximum number of symbols the index can hold.
func WithMaxSymbols(max int) SymbolIndexOption {
	return func(o *SymbolIndexOptions) {
		o.MaxSymbols = max
	}
}

// IndexStats contains statistics about the symbol index.
type IndexStats struct {
	TotalSymbols int
	Types        int
	Methods      int
	Assemblies   int
	MaxSymbols   int
}

// SymbolIndex provides O(1) lookups of types and methods by various keys.
//
// The index maintains:
//   - byID: primary index for unique symbol lookup
//   - typesByName: full type name to type
//   - methodsByName: simple method name to every method with that name
//   - byAssembly: assembly name to its symbols
//
// Thread Safety:
//
//	SymbolIndex is safe for concurrent use.
//
// Ownership:
//
//	The index stores pointers to symbols but does NOT own them.
//	Symbols MUST NOT be mutated after being added to the index.
type SymbolIndex struct {
	mu sync.RWMutex

	byID          map[SymbolID]Symbol
	typesByName   map[string]*Type
	methodsByName map[string][]*Method
	byAssembly    map[string][]Symbol

	typeCount   int
	methodCount int

	options SymbolIndexOptions
}

// NewSymbolIndex creates a new empty symbol index.
//
// Example:
//
//	idx := NewSymbolIndex(WithMaxSymbols(100_000))
func NewSymbolIndex(opts ...SymbolIndexOption) *SymbolIndex {
	options := DefaultSymbolIndexOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &SymbolIndex{
		byID:          make(map[SymbolID]Symbol),
		typesByName:   make(map[string]*Type),
		methodsByName: make(map[string][]*Method),
		byAssembly:    make(map[string][]Symbol),
		options:       options,
	}
}

// Add adds a single symbol to the index.
//
// Errors:
//
//	ErrInvalidSymbol - Symbol failed validation
//	ErrDuplicateSymbol - Symbol with same ID already exists
//	ErrMaxSymbolsExceeded - Index is at capacity
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (idx *SymbolIndex) Add(s Symbol) error {
	// Validate before acquiring the lock.
	if err := Validate(s); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.typeCount+idx.methodCount >= idx.options.MaxSymbols {
		return ErrMaxSymbolsExceeded
	}
	if _, exists := idx.byID[s.SymbolID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, s.SymbolID())
	}

	idx.byID[s.SymbolID()] = s
	idx.byAssembly[s.AssemblyName()] = append(idx.byAssembly[s.AssemblyName()], s)
	switch v := s.(type) {
	case *Type:
		idx.typesByName[v.FullName()] = v
		idx.typeCount++
	case *Method:
		idx.methodsByName[v.Name] = append(idx.methodsByName[v.Name], v)
		idx.methodCount++
	}
	return nil
}

// GetByID retrieves a symbol by its unique ID.
func (idx *SymbolIndex) GetByID(id SymbolID) (Symbol, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.byID[id]
	return s, ok
}

// TypeByName retrieves a type by its full name.
func (idx *SymbolIndex) TypeByName(fullName string) (*Type, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.typesByName[fullName]
	return t, ok
}

// MethodsByName returns a copy of every method with the given simple name.
func (idx *SymbolIndex) MethodsByName(name string) []*Method {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	src := idx.methodsByName[name]
	if len(src) == 0 {
		return nil
	}
	out := make([]*Method, len(src))
	copy(out, src)
	return out
}

// Types returns every indexed type sorted by full name.
func (idx *SymbolIndex) Types() []*Type {
	idx.mu.RLock()
	out := make([]*Type, 0, len(idx.typesByName))
	for _, t := range idx.typesByName {
		out = append(out, t)
	}
	idx.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// ByAssembly returns a copy of every symbol declared in the assembly.
func (idx *SymbolIndex) ByAssembly(assembly string) []Symbol {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	src := idx.byAssembly[assembly]
	out := make([]Symbol, len(src))
	copy(out, src)
	return out
}

// Stats returns statistics about the index.
func (idx *SymbolIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return IndexStats{
		TotalSymbols: idx.typeCount + idx.methodCount,
		Types:        idx.typeCount,
		Methods:      idx.methodCount,
		Assemblies:   len(idx.byAssembly),
		MaxSymbols:   idx.options.MaxSymbols,
	}
}
