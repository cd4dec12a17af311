// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads asyncgen.yaml and turns it into analysis options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/asyncgen/services/asyncgen/analysis"
	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

// FileName is the configuration file looked up in the project root.
const FileName = "asyncgen.yaml"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid asyncgen configuration")

// Config is the user configuration of an analysis run.
//
// Description:
//
//	Loaded from <projectRoot>/asyncgen.yaml. All fields are optional. A
//	missing file yields Default().
//
// Thread Safety: Safe for concurrent reads after construction.
type Config struct {
	// Assembly names the analyzed program. Default: the project directory name.
	Assembly string `yaml:"assembly"`

	// Sources are files or directories, relative to the project root, that
	// hold the .cs documents. Default: ["."].
	Sources []string `yaml:"sources" validate:"dive,required"`

	// Exclude lists document path prefixes that do not participate.
	// Example: ["obj/", "bin/", "Generated/"]
	Exclude []string `yaml:"exclude"`

	// MethodConversion is the method policy.
	MethodConversion Policy `yaml:"method_conversion"`

	// TypeConversion is the type policy.
	TypeConversion Policy `yaml:"type_conversion"`

	// ScanMethodBody scans bodies for every reference. Default: true.
	ScanMethodBody *bool `yaml:"scan_method_body"`

	CancellationTokens CancellationTokens `yaml:"cancellation_tokens"`

	AlwaysAwait          bool `yaml:"always_await"`
	SearchInheritedTypes bool `yaml:"search_inherited_types"`

	// Concurrency bounds the per-document workers. 0 means GOMAXPROCS.
	Concurrency int `yaml:"concurrency" validate:"gte=0,lte=1024"`

	Counterparts Counterparts `yaml:"counterparts"`

	// ReferenceTypes are extra YAML files describing external types, added to
	// the embedded reference library.
	ReferenceTypes []string `yaml:"reference_types" validate:"dive,required"`

	Store Store `yaml:"store"`
}

// Policy maps symbols to conversions by glob rules on their full names.
type Policy struct {
	// Default applies when no rule matches. Default: "unknown".
	Default string `yaml:"default" validate:"omitempty,oneof=ignore unknown smart to_async copy partial new_type"`

	// Rules are evaluated in order; the first match wins.
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// Rule assigns a conversion to the symbols whose full name matches Match.
type Rule struct {
	// Match is a path.Match pattern, e.g. "MyApp.Services.*".
	Match      string `yaml:"match" validate:"required"`
	Conversion string `yaml:"conversion" validate:"required,oneof=ignore unknown smart to_async copy partial new_type"`
}

// CancellationTokens configures token support.
type CancellationTokens struct {
	Enabled bool `yaml:"enabled"`

	// Guards adds token checks to converted methods. Default: true.
	Guards *bool `yaml:"guards"`
}

// Counterparts configures the counterpart finders beyond the suffix finder.
type Counterparts struct {
	// ExtensionProviders are static types whose extension methods are
	// async counterparts, e.g. "System.Linq.AsyncEnumerable".
	ExtensionProviders []string `yaml:"extension_providers" validate:"dive,required"`

	// Mappings pin a counterpart: "Ns.Type.Method" -> "Ns.Type.MethodAsync".
	Mappings map[string]string `yaml:"mappings" validate:"dive,keys,required,endkeys,required"`
}

// Store configures snapshot persistence.
type Store struct {
	// Path is the BadgerDB directory, relative to the project root.
	// Default: ".asyncgen/snapshots".
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Sources: []string{"."},
		Exclude: []string{"obj/", "bin/"},
		Store:   Store{Path: filepath.Join(".asyncgen", "snapshots")},
	}
}

// Load reads asyncgen.yaml from the project root.
//
// Description:
//
//	If the project root is empty or the file does not exist, returns
//	Default() with no error. Fields missing from the file keep their
//	defaults.
//
// Outputs:
//
//	*Config - The parsed and validated configuration.
//	error - Non-nil if the file exists but cannot be read, parsed or
//	        validated (wraps ErrInvalidConfig for validation failures).
//
// Thread Safety: Safe for concurrent use (stateless function).
func Load(projectRoot string) (*Config, error) {
	cfg := Default()
	if projectRoot == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Join(projectRoot, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, r := range append(append([]Rule{}, c.MethodConversion.Rules...), c.TypeConversion.Rules...) {
		if _, err := path.Match(r.Match, ""); err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidConfig, r.Match, err)
		}
	}
	return nil
}

// Finders builds the counterpart finders: the suffix finder first, then
// extension providers and mappings when configured.
func (c *Config) Finders() []counterpart.Finder {
	finders := []counterpart.Finder{counterpart.NewSuffixFinder()}
	if len(c.Counterparts.ExtensionProviders) > 0 {
		finders = append(finders, counterpart.NewExtensionFinder(c.Counterparts.ExtensionProviders...))
	}
	if len(c.Counterparts.Mappings) > 0 {
		finders = append(finders, counterpart.NewMappingFinder(c.Counterparts.Mappings))
	}
	return finders
}

// AnalysisOptions converts the configuration into analysis options.
func (c *Config) AnalysisOptions(logger *slog.Logger) []analysis.Option {
	opts := []analysis.Option{
		analysis.WithMethodConversion(c.methodPolicy()),
		analysis.WithTypeConversion(c.typePolicy()),
		analysis.WithDocumentSelector(c.selectDocument),
		analysis.WithFinders(c.Finders()...),
		analysis.WithCancellationTokens(c.CancellationTokens.Enabled, boolOr(c.CancellationTokens.Guards, true)),
		analysis.WithScanMethodBody(boolOr(c.ScanMethodBody, true)),
		analysis.WithAlwaysAwait(c.AlwaysAwait),
		analysis.WithSearchInheritedTypes(c.SearchInheritedTypes),
	}
	if logger != nil {
		opts = append(opts, analysis.WithLogger(logger))
	}
	if c.Concurrency > 0 {
		opts = append(opts, analysis.WithConcurrency(c.Concurrency))
	}
	return opts
}

func (c *Config) selectDocument(doc *symbols.Document) bool {
	p := filepath.ToSlash(doc.Path)
	for _, prefix := range c.Exclude {
		if strings.HasPrefix(p, filepath.ToSlash(prefix)) {
			return false
		}
	}
	return true
}

func (c *Config) methodPolicy() func(*symbols.Method) analysis.MethodConversion {
	policy := c.MethodConversion
	return func(m *symbols.Method) analysis.MethodConversion {
		name := m.FullName()
		for _, r := range policy.Rules {
			if ok, _ := path.Match(r.Match, name); ok {
				if conv, ok := analysis.ParseMethodConversion(r.Conversion); ok {
					return conv
				}
			}
		}
		if conv, ok := analysis.ParseMethodConversion(policy.Default); ok {
			return conv
		}
		return analysis.MethodUnknown
	}
}

func (c *Config) typePolicy() func(*symbols.Type) analysis.TypeConversion {
	policy := c.TypeConversion
	return func(t *symbols.Type) analysis.TypeConversion {
		name := t.FullName()
		for _, r := range policy.Rules {
			if ok, _ := path.Match(r.Match, name); ok {
				if conv, ok := analysis.ParseTypeConversion(r.Conversion); ok {
					return conv
				}
			}
		}
		if conv, ok := analysis.ParseTypeConversion(policy.Default); ok {
			return conv
		}
		return analysis.TypeUnknown
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
