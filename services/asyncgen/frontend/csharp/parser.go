// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package csharp is the C# front-end: it parses .cs files with tree-sitter,
// binds invocations by name and produces a frozen memory.Program.
//
// Binding is name based. Overloads are chosen by argument count and receiver
// types come from declared locals, parameters, fields and properties. Types
// outside the program are described by an embedded reference library that
// configuration can extend.
package csharp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ignore "github.com/sabhiram/go-gitignore"
	sitter "github.com/smacker/go-tree-sitter"
	tscsharp "github.com/smacker/go-tree-sitter/csharp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/memory"
)

// DefaultMaxFileSize is the largest source file the loader accepts.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Extension is the file extension of C# sources.
const Extension = ".cs"

var (
	// ErrFileTooLarge indicates a source file exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates a source file is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrNoSources indicates that no .cs file was found.
	ErrNoSources = errors.New("no C# sources found")
)

var tracer = otel.Tracer("asyncgen.frontend.csharp")

var parsedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asyncgen",
	Subsystem: "csharp",
	Name:      "files_parsed_total",
	Help:      "C# files parsed, by status",
}, []string{"status"})

// SourceFile is one C# document handed to the loader.
type SourceFile struct {
	// Path identifies the document, relative to the project root with
	// forward slashes.
	Path string

	// Content is the UTF-8 source.
	Content []byte
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithReferenceFiles adds YAML files describing external types on top of the
// embedded reference library.
func WithReferenceFiles(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.referenceFiles = append(l.referenceFiles, paths...)
	}
}

// WithMaxFileSize sets the maximum accepted file size in bytes.
func WithMaxFileSize(bytes int64) LoaderOption {
	return func(l *Loader) {
		if bytes > 0 {
			l.maxFileSize = bytes
		}
	}
}

// WithConcurrency bounds the number of files parsed at once. Default:
// GOMAXPROCS.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// Loader turns C# sources into a memory.Program.
//
// Description:
//
//	Files are parsed concurrently, each with its own tree-sitter parser.
//	Declaration, binding and freezing run on the calling goroutine.
//
// Thread Safety:
//
//	Loader instances are safe for concurrent use; every Load call builds an
//	independent program.
type Loader struct {
	logger         *slog.Logger
	referenceFiles []string
	maxFileSize    int64
	concurrency    int
}

// NewLoader creates a Loader with the given options.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:      slog.Default(),
		maxFileSize: DefaultMaxFileSize,
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDir collects the .cs files under the given sources and loads them.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	assembly - Name of the analyzed assembly.
//	root - Project root. Document paths are relative to it.
//	sources - Files or directories relative to root. Empty means root.
//
// Hidden directories are skipped, and so are paths matched by the
// .gitignore at root.
//
// Outputs:
//
//	*memory.Program - The frozen program.
//	error - ErrNoSources when nothing was found, or a read/parse failure.
func (l *Loader) LoadDir(ctx context.Context, assembly, root string, sources []string) (*memory.Program, error) {
	if len(sources) == 0 {
		sources = []string{"."}
	}
	gi := loadGitignore(root)
	seen := make(map[string]bool)
	var files []SourceFile
	for _, src := range sources {
		start := filepath.Join(root, src)
		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == start {
					return nil
				}
				if strings.HasPrefix(d.Name(), ".") || (gi != nil && gi.MatchesPath(rel+"/")) {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != Extension || seen[path] {
				return nil
			}
			if gi != nil && gi.MatchesPath(rel) {
				l.logger.Debug("skipping ignored source", slog.String("path", filepath.ToSlash(rel)))
				return nil
			}
			seen[path] = true
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			files = append(files, SourceFile{Path: filepath.ToSlash(rel), Content: content})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collecting sources under %s: %w", src, err)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSources, root)
	}
	return l.Load(ctx, assembly, files)
}

// loadGitignore returns the matcher of root/.gitignore, or nil when there is
// none.
func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

// Load parses and binds the given files.
//
// Description:
//
//	Documents keep the order of files sorted by path. Files with syntax
//	errors are still loaded; tree-sitter recovers and the unparsable parts
//	become opaque statements. A warning is logged for each such file.
//
// Outputs:
//
//	*memory.Program - The frozen program.
//	error - Non-nil on cancellation, an invalid file or reference library.
func (l *Loader) Load(ctx context.Context, assembly string, files []SourceFile) (*memory.Program, error) {
	ctx, span := tracer.Start(ctx, "csharp.Load",
		trace.WithAttributes(
			attribute.String("assembly", assembly),
			attribute.Int("files", len(files)),
		))
	defer span.End()
	start := time.Now()

	refs, err := readReferenceFiles(l.referenceFiles)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sorted := append([]SourceFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	parsed, err := l.parseAll(ctx, sorted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer func() {
		for _, pf := range parsed {
			pf.tree.Close()
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog := memory.NewProgram(assembly)
	b := newBinder(prog, declareReferences(prog, refs), l.logger)
	b.declare(parsed)
	b.bind()
	if err := prog.Freeze(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("types", len(b.internal)), attribute.Int("methods", b.methods))
	l.logger.Debug("C# program loaded",
		slog.String("assembly", assembly),
		slog.Int("files", len(parsed)),
		slog.Int("types", len(b.internal)),
		slog.Int("methods", b.methods),
		slog.Duration("duration", time.Since(start)),
	)
	return prog, nil
}

// parsedFile is a source file with its tree-sitter tree.
type parsedFile struct {
	path string
	src  []byte
	tree *sitter.Tree
}

func (l *Loader) parseAll(ctx context.Context, files []SourceFile) ([]*parsedFile, error) {
	out := make([]*parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, f := range files {
		g.Go(func() error {
			tree, err := l.parse(gctx, f)
			if err != nil {
				parsedFiles.WithLabelValues("error").Inc()
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			parsedFiles.WithLabelValues("success").Inc()
			out[i] = &parsedFile{path: f.Path, src: f.Content, tree: tree}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, pf := range out {
			if pf != nil {
				pf.tree.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

// parse builds the tree of one file. A new parser per call keeps parsing
// safe for concurrent use.
func (l *Loader) parse(ctx context.Context, f SourceFile) (*sitter.Tree, error) {
	if int64(len(f.Content)) > l.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(f.Content), l.maxFileSize)
	}
	if !utf8.Valid(f.Content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(tscsharp.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, f.Content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	if root := tree.RootNode(); root != nil && root.HasError() {
		l.logger.Warn("source contains syntax errors", slog.String("document", f.Path))
	}
	return tree, nil
}
