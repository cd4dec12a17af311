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
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

var graphTracer = otel.Tracer("asyncgen.symbols")

// Graph is the Symbol Graph Index: it wraps a FrontEnd and answers the
// cross-document questions the analysis asks about methods and types.
//
// Description:
//
//	NewGraph walks every document once and indexes the declared symbols.
//	Afterwards all queries are served from the index or from per-symbol memo
//	tables, so repeated questions about the same method never reach the
//	front-end twice.
//
// Thread Safety:
//
//	Graph is safe for concurrent use after NewGraph returns.
type Graph struct {
	fe     FrontEnd
	index  *SymbolIndex
	logger *slog.Logger

	// docByRoot maps compilation unit nodes to their documents.
	docByRoot map[*syntax.Node]*Document

	references sync.Map // *Method -> *referencesEntry
	chains     sync.Map // *Method -> []*Method
	implements sync.Map // *Method -> []*Method
	derived    sync.Map // *Type -> []*Type
}

type referencesEntry struct {
	once  sync.Once
	nodes []*syntax.Node
	err   error
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithGraphLogger sets the logger.
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithIndexOptions passes options to the underlying SymbolIndex.
func WithIndexOptions(opts ...SymbolIndexOption) GraphOption {
	return func(g *Graph) {
		g.index = NewSymbolIndex(opts...)
	}
}

// NewGraph indexes every symbol declared in the front-end's documents.
//
// Outputs:
//
//	*Graph - The ready index.
//	error - Non-nil when ctx is cancelled or a declared symbol cannot be indexed.
func NewGraph(ctx context.Context, fe FrontEnd, opts ...GraphOption) (*Graph, error) {
	ctx, span := graphTracer.Start(ctx, "symbols.NewGraph",
		trace.WithAttributes(attribute.String("assembly", fe.AssemblyName())))
	defer span.End()

	g := &Graph{
		fe:        fe,
		index:     NewSymbolIndex(),
		logger:    slog.Default(),
		docByRoot: make(map[*syntax.Node]*Document),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, doc := range fe.Documents() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("indexing symbols: %w", err)
		}
		g.docByRoot[doc.Root] = doc

		var addErr error
		doc.Root.Walk(func(n *syntax.Node) bool {
			if addErr != nil {
				return false
			}
			if !n.Kind.IsTypeDeclaration() && !n.Kind.IsMemberFunction() {
				return true
			}
			sym := fe.DeclaredSymbol(n)
			if sym == nil {
				return true
			}
			if err := g.index.Add(sym); err != nil {
				addErr = fmt.Errorf("indexing %s in %s: %w", n, doc.Path, err)
			}
			return true
		})
		if addErr != nil {
			return nil, addErr
		}
	}

	stats := g.index.Stats()
	span.SetAttributes(
		attribute.Int("types", stats.Types),
		attribute.Int("methods", stats.Methods),
	)
	g.logger.Debug("symbol graph indexed",
		slog.String("assembly", fe.AssemblyName()),
		slog.Int("types", stats.Types),
		slog.Int("methods", stats.Methods),
	)
	return g, nil
}

// FrontEnd returns the wrapped front-end.
func (g *Graph) FrontEnd() FrontEnd {
	return g.fe
}

// Index returns the symbol index of the program's declarations.
func (g *Graph) Index() *SymbolIndex {
	return g.index
}

// IsInProgram reports whether s is declared by the analyzed assembly.
func (g *Graph) IsInProgram(s Symbol) bool {
	return s != nil && s.AssemblyName() == g.fe.AssemblyName()
}

// DeclaringSyntax returns the declaration node of s, or nil for external symbols.
func (g *Graph) DeclaringSyntax(s Symbol) *syntax.Node {
	if !g.IsInProgram(s) {
		return nil
	}
	return g.fe.DeclaringSyntax(s)
}

// DocumentOf returns the document containing node.
func (g *Graph) DocumentOf(node *syntax.Node) *Document {
	root := node
	for root != nil && root.Parent != nil {
		root = root.Parent
	}
	return g.docByRoot[root]
}

// Document returns the document declaring s, or nil.
func (g *Graph) Document(s Symbol) *Document {
	node := g.DeclaringSyntax(s)
	if node == nil {
		return nil
	}
	return g.DocumentOf(node)
}

// OverrideChain returns the members m overrides, nearest first, up to the
// root of the chain.
func (g *Graph) OverrideChain(m *Method) []*Method {
	if v, ok := g.chains.Load(m); ok {
		return v.([]*Method)
	}
	var chain []*Method
	seen := map[*Method]bool{m: true}
	for cur := g.fe.OverriddenMember(m); cur != nil && !seen[cur]; cur = g.fe.OverriddenMember(cur) {
		seen[cur] = true
		chain = append(chain, cur)
	}
	v, _ := g.chains.LoadOrStore(m, chain)
	return v.([]*Method)
}

// ImplementedInterfaceMembers returns the interface members m implements,
// explicitly or implicitly.
func (g *Graph) ImplementedInterfaceMembers(m *Method) []*Method {
	if v, ok := g.implements.Load(m); ok {
		return v.([]*Method)
	}
	var out []*Method
	seen := make(map[*Method]bool)
	for _, im := range m.ExplicitInterfaceImplementations {
		if !seen[im] {
			seen[im] = true
			out = append(out, im)
		}
	}
	if t := m.ContainingType; t != nil && t.Kind != TypeInterface {
		for _, iface := range t.AllInterfaces() {
			for _, im := range iface.Methods {
				if seen[im] {
					continue
				}
				if g.fe.FindImplementationForInterfaceMember(t, im) == m {
					seen[im] = true
					out = append(out, im)
				}
			}
		}
	}
	v, _ := g.implements.LoadOrStore(m, out)
	return v.([]*Method)
}

// DerivedTypes returns the program types that inherit from or implement t.
func (g *Graph) DerivedTypes(t *Type) []*Type {
	if v, ok := g.derived.Load(t); ok {
		return v.([]*Type)
	}
	var out []*Type
	for _, cand := range g.index.Types() {
		if cand == t {
			continue
		}
		if containsType(cand.BaseTypes(), t) || containsType(cand.AllInterfaces(), t) {
			out = append(out, cand)
		}
	}
	v, _ := g.derived.LoadOrStore(t, out)
	return v.([]*Type)
}

// FindReferences returns the name nodes referring to m. Each method is
// queried from the front-end at most once per Graph.
func (g *Graph) FindReferences(ctx context.Context, m *Method) ([]*syntax.Node, error) {
	v, _ := g.references.LoadOrStore(m, &referencesEntry{})
	entry := v.(*referencesEntry)
	entry.once.Do(func() {
		entry.nodes, entry.err = g.fe.FindReferences(ctx, m)
		if entry.err != nil {
			entry.err = fmt.Errorf("finding references to %s: %w", m.Signature(), entry.err)
		}
	})
	return entry.nodes, entry.err
}

func containsType(list []*Type, t *Type) bool {
	for _, c := range list {
		if c == t {
			return true
		}
	}
	return false
}

// FindType looks a type up by full name, internal or external.
func (g *Graph) FindType(fullName string) *Type {
	if t, ok := g.index.TypeByName(fullName); ok {
		return t
	}
	return g.fe.FindType(fullName)
}
