// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package counterpart resolves asynchronous counterparts of synchronous
// methods through an ordered list of pluggable finders.
package counterpart

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

var (
	// lookupsTotal counts counterpart lookups.
	//
	// Labels:
	//   - result: "hit", "miss" or "only_new"
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asyncgen",
			Subsystem: "counterpart",
			Name:      "lookups_total",
			Help:      "Total async counterpart lookups by cache result.",
		},
		[]string{"result"},
	)

	// finderResultsTotal counts counterparts contributed per finder.
	finderResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asyncgen",
			Subsystem: "counterpart",
			Name:      "finder_results_total",
			Help:      "Total counterparts returned by each finder.",
		},
		[]string{"finder"},
	)
)

// InitializationError reports a finder whose required type is missing.
type InitializationError struct {
	Finder   string
	TypeName string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("counterpart finder %q: required type %q not found", e.Finder, e.TypeName)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Logger *slog.Logger
}

// ResolverOption is a functional option for configuring Resolver.
type ResolverOption func(*ResolverOptions)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(o *ResolverOptions) {
		o.Logger = logger
	}
}

// Resolver unions the results of its finders and memoizes them per
// (method, invoked-from type, options) key.
//
// Description:
//
//	Finders are consulted in registration order and their results unioned
//	without duplicates. Concurrent Find calls for the same key run the
//	finders once; later calls return the cached set.
//
// Thread Safety:
//
//	Safe for concurrent use after Init.
type Resolver struct {
	finders []Finder
	logger  *slog.Logger

	cache sync.Map // string -> []*symbols.Method
	group singleflight.Group

	// newMu serializes only-new lookups so each new symbol is reported once.
	newMu sync.Mutex
}

// NewResolver creates a resolver over the finders, in order.
func NewResolver(finders []Finder, opts ...ResolverOption) *Resolver {
	options := ResolverOptions{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	fs := make([]Finder, len(finders))
	copy(fs, finders)
	return &Resolver{finders: fs, logger: options.Logger}
}

// Finders returns the registered finders.
func (r *Resolver) Finders() []Finder {
	out := make([]Finder, len(r.finders))
	copy(out, r.finders)
	return out
}

// Init initializes every finder implementing Initializer.
//
// Errors:
//
//	*InitializationError - A finder's required type is missing.
func (r *Resolver) Init(lookup Lookup) error {
	for _, f := range r.finders {
		initializer, ok := f.(Initializer)
		if !ok {
			continue
		}
		if err := initializer.Init(lookup); err != nil {
			return fmt.Errorf("initializing finder %s: %w", f.Name(), err)
		}
	}
	return nil
}

func cacheKey(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) string {
	from := symbols.SymbolID("")
	if invokedFrom != nil {
		from = invokedFrom.ID
	}
	return fmt.Sprintf("%s|%s|%d", m.Definition().ID, from, opts)
}

// Find returns the async counterparts of m.
//
// Inputs:
//
//	m - The synchronous method. Its original definition is used.
//	invokedFrom - The static type the call goes through, or nil.
//	opts - Search options.
//
// Outputs:
//
//	[]*symbols.Method - Counterparts sorted by ID. Callers must not modify.
func (r *Resolver) Find(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method {
	key := cacheKey(m, invokedFrom, opts)
	if v, ok := r.cache.Load(key); ok {
		lookupsTotal.WithLabelValues("hit").Inc()
		return v.([]*symbols.Method)
	}
	v, _, _ := r.group.Do(key, func() (any, error) {
		if v, ok := r.cache.Load(key); ok {
			return v, nil
		}
		lookupsTotal.WithLabelValues("miss").Inc()
		found := r.run(m.Definition(), invokedFrom, opts)
		actual, _ := r.cache.LoadOrStore(key, found)
		return actual, nil
	})
	return v.([]*symbols.Method)
}

// FindNew re-runs the finders for m and returns only the counterparts not
// reported by any earlier Find or FindNew call with the same key. The cache
// is updated with the union.
func (r *Resolver) FindNew(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method {
	key := cacheKey(m, invokedFrom, opts)
	lookupsTotal.WithLabelValues("only_new").Inc()

	r.newMu.Lock()
	defer r.newMu.Unlock()

	var prev []*symbols.Method
	if v, ok := r.cache.Load(key); ok {
		prev = v.([]*symbols.Method)
	}
	fresh := r.run(m.Definition(), invokedFrom, opts)

	seen := make(map[*symbols.Method]bool, len(prev))
	for _, p := range prev {
		seen[p] = true
	}
	var added []*symbols.Method
	for _, f := range fresh {
		if !seen[f] {
			added = append(added, f)
		}
	}
	if len(added) > 0 || prev == nil {
		merged := append(append([]*symbols.Method{}, prev...), added...)
		sortByID(merged)
		r.cache.Store(key, merged)
	}
	return added
}

func (r *Resolver) run(m *symbols.Method, invokedFrom *symbols.Type, opts SearchOptions) []*symbols.Method {
	seen := make(map[*symbols.Method]bool)
	var out []*symbols.Method
	for _, f := range r.finders {
		found := f.FindCounterparts(m, invokedFrom, opts)
		if len(found) > 0 {
			finderResultsTotal.WithLabelValues(f.Name()).Add(float64(len(found)))
		}
		for _, c := range found {
			if c != nil && !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sortByID(out)
	if len(out) > 0 {
		r.logger.Debug("async counterparts found",
			slog.String("method", m.Signature()),
			slog.String("options", opts.String()),
			slog.Int("count", len(out)),
		)
	}
	return out
}

func sortByID(ms []*symbols.Method) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
