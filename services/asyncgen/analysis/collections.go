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

import "sync"

// Set is an append-only, insertion ordered set safe for concurrent use.
type Set[T comparable] struct {
	mu    sync.RWMutex
	items []T
	index map[T]struct{}
}

// Add inserts v and reports whether it was not present.
func (s *Set[T]) Add(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		s.index = make(map[T]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// Contains reports whether v is present.
func (s *Set[T]) Contains(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[v]
	return ok
}

// Len returns the number of items.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a copy of the items in insertion order.
func (s *Set[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Registry maps keys to values created on first request.
//
// GetOrCreate is idempotent under concurrency: when two goroutines race for
// the same key the first insert wins and both receive the winner's value.
type Registry[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
	keys   []K
}

// Get returns the value for k.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[k]
	return v, ok
}

// GetOrCreate returns the value for k, calling create when absent. create
// runs outside the lock and may be discarded if another goroutine wins.
func (r *Registry[K, V]) GetOrCreate(k K, create func() V) (V, bool) {
	if v, ok := r.Get(k); ok {
		return v, false
	}
	candidate := create()

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.values[k]; ok {
		return v, false
	}
	if r.values == nil {
		r.values = make(map[K]V)
	}
	r.values[k] = candidate
	r.keys = append(r.keys, k)
	return candidate, true
}

// Values returns the values in insertion order.
func (r *Registry[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.values[k])
	}
	return out
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
