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
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

var str = symbols.Named("System.String")

func newType(fullName string) *symbols.Type {
	ns, name := "", fullName
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			ns, name = fullName[:i], fullName[i+1:]
			break
		}
	}
	return &symbols.Type{
		ID:        symbols.SymbolID("T:" + fullName),
		Name:      name,
		Namespace: ns,
		Kind:      symbols.TypeClass,
		Assembly:  "lib",
	}
}

func addMethod(t *symbols.Type, name string, ret symbols.TypeRef, params ...symbols.TypeRef) *symbols.Method {
	m := &symbols.Method{Name: name, Kind: symbols.MethodOrdinary, ReturnType: ret}
	for i, p := range params {
		m.Parameters = append(m.Parameters, symbols.Parameter{Name: string(rune('a' + i)), Type: p})
	}
	t.AddMethod(m)
	m.ID = symbols.SymbolID("M:" + m.Signature())
	return m
}

type fakeLookup map[string]*symbols.Type

func (l fakeLookup) FindType(fullName string) *symbols.Type { return l[fullName] }

func (l fakeLookup) DerivedTypes(t *symbols.Type) []*symbols.Type {
	var out []*symbols.Type
	for _, cand := range l {
		if cand.BaseType == t {
			out = append(out, cand)
		}
	}
	return out
}

func TestMatches(t *testing.T) {
	stream := newType("System.IO.Stream")
	read := addMethod(stream, "Read", str)
	readInt := addMethod(stream, "Read", symbols.Named("System.Int32"), symbols.Named("System.Int32"))
	run := addMethod(stream, "Run", symbols.Void, symbols.Action())

	tests := []struct {
		name      string
		sync      *symbols.Method
		candidate *symbols.Method
		opts      SearchOptions
		want      bool
	}{
		{
			name:      "task of the same return type",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(str)),
			want:      true,
		},
		{
			name:      "same return type",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", str),
			want:      true,
		},
		{
			name:      "different return type",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(symbols.Named("System.Int32"))),
			want:      false,
		},
		{
			name:      "different return type ignored",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.Named("System.Int32")),
			opts:      IgnoreReturnType,
			want:      true,
		},
		{
			name:      "parameter count differs",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(str), str),
			want:      false,
		},
		{
			name:      "parameter type differs",
			sync:      readInt,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(symbols.Named("System.Int32")), str),
			want:      false,
		},
		{
			name:      "trailing token without the option",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(str), symbols.CancellationToken),
			want:      false,
		},
		{
			name:      "trailing token with the option",
			sync:      read,
			candidate: addMethod(newType("X"), "ReadAsync", symbols.TaskOf(str), symbols.CancellationToken),
			opts:      HasCancellationToken,
			want:      true,
		},
		{
			name:      "async delegate parameter",
			sync:      run,
			candidate: addMethod(newType("X"), "RunAsync", symbols.TaskOf(symbols.Void), symbols.Func(symbols.TaskOf(symbols.Void))),
			want:      true,
		},
		{
			name:      "async delegate parameter with equal parameters",
			sync:      run,
			candidate: addMethod(newType("X"), "RunAsync", symbols.TaskOf(symbols.Void), symbols.Func(symbols.TaskOf(symbols.Void))),
			opts:      EqualParameters,
			want:      false,
		},
		{
			name:      "itself",
			sync:      read,
			candidate: read,
			want:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.sync, tt.candidate, tt.opts))
		})
	}
}

func TestMatches_OutParameterRefKind(t *testing.T) {
	typ := newType("App.Parser")
	sync := addMethod(typ, "Parse", symbols.Void, str)
	sync.Parameters[0].RefKind = symbols.RefOut
	cand := addMethod(typ, "ParseAsync", symbols.TaskOf(symbols.Void), str)
	assert.False(t, Matches(sync, cand, Default))
}

func TestHasTrailingCancellationToken(t *testing.T) {
	typ := newType("App.File")
	read := addMethod(typ, "Read", str)
	withToken := addMethod(typ, "ReadAsync", symbols.TaskOf(str), symbols.CancellationToken)
	without := addMethod(typ, "ReadAsync", symbols.TaskOf(str))

	assert.True(t, HasTrailingCancellationToken(read, withToken))
	assert.False(t, HasTrailingCancellationToken(read, without))
}

func TestSearchOptions_String(t *testing.T) {
	assert.Equal(t, "Default", Default.String())
	assert.Equal(t, "EqualParameters|IgnoreReturnType", (EqualParameters | IgnoreReturnType).String())
	assert.True(t, (EqualParameters | HasCancellationToken).Has(HasCancellationToken))
	assert.False(t, EqualParameters.Has(SearchInheritedTypes))
}

func TestSuffixFinder(t *testing.T) {
	base := newType("App.Base")
	baseAsync := addMethod(base, "LoadAsync", symbols.TaskOf(str))
	derived := newType("App.Derived")
	derived.BaseType = base
	load := addMethod(derived, "Load", str)

	f := NewSuffixFinder()
	require.NoError(t, f.Init(fakeLookup{"App.Base": base, "App.Derived": derived}))

	assert.Empty(t, f.FindCounterparts(load, nil, Default), "base types need SearchInheritedTypes")
	assert.Equal(t, []*symbols.Method{baseAsync}, f.FindCounterparts(load, nil, SearchInheritedTypes))
	assert.Equal(t, []*symbols.Method{baseAsync}, f.FindCounterparts(load, base, Default), "invoked-from type is searched")
}

func TestSuffixFinder_StaticMismatch(t *testing.T) {
	typ := newType("App.File")
	read := addMethod(typ, "Read", str)
	read.IsStatic = true
	addMethod(typ, "ReadAsync", symbols.TaskOf(str))

	assert.Empty(t, NewSuffixFinder().FindCounterparts(read, nil, Default))
}

func TestExtensionFinder(t *testing.T) {
	queryable := newType("System.Linq.IQueryable")
	queryable.Kind = symbols.TypeInterface
	toList := addMethod(queryable, "ToList", str)

	ext := newType("Data.QueryableExtensions")
	ext.IsStatic = true
	toListAsync := addMethod(ext, "ToListAsync", symbols.TaskOf(str), queryable.Ref())
	toListAsync.IsExtension = true
	toListAsync.IsStatic = true
	toListAsync.Parameters[0].IsThis = true

	f := NewExtensionFinder("Data.QueryableExtensions")
	require.NoError(t, f.Init(fakeLookup{"Data.QueryableExtensions": ext}))
	assert.Equal(t, []*symbols.Method{toListAsync}, f.FindCounterparts(toList, nil, Default))

	var initErr *InitializationError
	err := NewExtensionFinder("Missing.Type").Init(fakeLookup{})
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "extension", initErr.Finder)
	assert.Equal(t, "Missing.Type", initErr.TypeName)
}

func TestMappingFinder(t *testing.T) {
	legacy := newType("Legacy.Client")
	send := addMethod(legacy, "Send", symbols.Void, str)
	modern := newType("Modern.Client")
	post := addMethod(modern, "PostAsync", symbols.TaskOf(symbols.Void), str)

	f := NewMappingFinder(map[string]string{"Legacy.Client.Send": "Modern.Client.PostAsync"})
	require.NoError(t, f.Init(fakeLookup{"Modern.Client": modern}))
	assert.Equal(t, []*symbols.Method{post}, f.FindCounterparts(send, nil, Default))

	err := NewMappingFinder(map[string]string{"A.B": "Nowhere"}).Init(fakeLookup{})
	assert.Error(t, err)

	var initErr *InitializationError
	err = NewMappingFinder(map[string]string{"A.B": "Missing.Type.M"}).Init(fakeLookup{})
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "Missing.Type", initErr.TypeName)
}

// countingFinder records how often the resolver consults it.
type countingFinder struct {
	calls  atomic.Int32
	mu     sync.Mutex
	result []*symbols.Method
}

func (f *countingFinder) Name() string { return "counting" }

func (f *countingFinder) FindCounterparts(*symbols.Method, *symbols.Type, SearchOptions) []*symbols.Method {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*symbols.Method(nil), f.result...)
}

func (f *countingFinder) set(ms ...*symbols.Method) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = ms
}

func TestResolver_MemoizesPerKey(t *testing.T) {
	typ := newType("App.File")
	read := addMethod(typ, "Read", str)
	readAsync := addMethod(typ, "ReadAsync", symbols.TaskOf(str))

	finder := &countingFinder{}
	finder.set(readAsync)
	r := NewResolver([]Finder{finder}, WithLogger(slog.New(slog.DiscardHandler)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, []*symbols.Method{readAsync}, r.Find(read, nil, Default))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), finder.calls.Load())

	r.Find(read, nil, HasCancellationToken)
	r.Find(read, typ, Default)
	assert.Equal(t, int32(3), finder.calls.Load(), "options and invoked-from type are part of the key")
}

func TestResolver_UnionsFindersWithoutDuplicates(t *testing.T) {
	typ := newType("App.File")
	read := addMethod(typ, "Read", str)
	a := addMethod(typ, "ReadAsync", symbols.TaskOf(str))
	b := addMethod(typ, "ReadAsync", symbols.TaskOf(str), symbols.CancellationToken)

	first, second := &countingFinder{}, &countingFinder{}
	first.set(b, a)
	second.set(a)
	r := NewResolver([]Finder{first, second})

	got := r.Find(read, nil, Default)
	require.Len(t, got, 2)
	assert.Less(t, string(got[0].ID), string(got[1].ID), "sorted by ID")
	assert.Len(t, r.Finders(), 2)
}

func TestResolver_FindNew(t *testing.T) {
	typ := newType("App.File")
	read := addMethod(typ, "Read", str)
	a := addMethod(typ, "ReadAsync", symbols.TaskOf(str))
	b := addMethod(typ, "ReadAsync", symbols.TaskOf(str), symbols.CancellationToken)

	finder := &countingFinder{}
	finder.set(a)
	r := NewResolver([]Finder{finder})

	assert.Equal(t, []*symbols.Method{a}, r.Find(read, nil, Default))
	assert.Empty(t, r.FindNew(read, nil, Default), "a was already reported")

	finder.set(a, b)
	assert.Equal(t, []*symbols.Method{b}, r.FindNew(read, nil, Default))
	assert.Len(t, r.Find(read, nil, Default), 2, "cache holds the union")
	assert.Empty(t, r.FindNew(read, nil, Default))
}

func TestResolver_InitWrapsFinderErrors(t *testing.T) {
	r := NewResolver([]Finder{NewSuffixFinder(), NewExtensionFinder("Missing.Type")})
	err := r.Init(fakeLookup{})

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, err.Error(), "initializing finder extension")
}
