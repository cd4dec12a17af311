// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/asyncgen/services/asyncgen/analysis"
	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

const sampleYAML = `
assembly: Shop
sources: [src]
exclude: [Generated/]
method_conversion:
  default: smart
  rules:
    - match: "Shop.Legacy.*"
      conversion: ignore
    - match: "Shop.*.Load*"
      conversion: to_async
type_conversion:
  rules:
    - match: "Shop.Data.*"
      conversion: new_type
scan_method_body: false
cancellation_tokens:
  enabled: true
concurrency: 4
counterparts:
  extension_providers: [System.Linq.AsyncEnumerable]
  mappings:
    Shop.Io.Read: Shop.Io.FetchAsync
`

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"."}, cfg.Sources)
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(sampleYAML), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Shop", cfg.Assembly)
	assert.Equal(t, []string{"src"}, cfg.Sources)
	assert.Equal(t, []string{"Generated/"}, cfg.Exclude)
	require.NotNil(t, cfg.ScanMethodBody)
	assert.False(t, *cfg.ScanMethodBody)
	assert.True(t, cfg.CancellationTokens.Enabled)
	assert.Nil(t, cfg.CancellationTokens.Guards)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, filepath.Join(".asyncgen", "snapshots"), cfg.Store.Path, "unset fields keep defaults")
	assert.Equal(t, "Shop.Io.FetchAsync", cfg.Counterparts.Mappings["Shop.Io.Read"])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown default", "method_conversion: {default: async}"},
		{"rule without match", "type_conversion: {rules: [{conversion: ignore}]}"},
		{"bad pattern", `method_conversion: {rules: [{match: "[", conversion: ignore}]}`},
		{"negative concurrency", "concurrency: -1"},
		{"empty source", `sources: [""]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Parse([]byte("sources: {"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig, "syntax errors are not validation errors")
}

func TestConfig_Policies(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	method := func(ns, typ, name string) *symbols.Method {
		owner := &symbols.Type{ID: symbols.SymbolID("T:" + ns + "." + typ), Name: typ, Namespace: ns}
		return owner.AddMethod(&symbols.Method{Name: name})
	}
	policy := cfg.methodPolicy()
	assert.Equal(t, analysis.MethodIgnore, policy(method("Shop.Legacy", "Old", "Load")), "first rule wins")
	assert.Equal(t, analysis.MethodToAsync, policy(method("Shop", "Repo", "LoadAll")))
	assert.Equal(t, analysis.MethodSmart, policy(method("Shop", "Repo", "Save")))
	assert.Equal(t, analysis.MethodUnknown, Default().methodPolicy()(method("Shop", "Repo", "Save")))

	types := cfg.typePolicy()
	assert.Equal(t, analysis.TypeNewType, types(&symbols.Type{Name: "Orders", Namespace: "Shop.Data"}))
	assert.Equal(t, analysis.TypeUnknown, types(&symbols.Type{Name: "Api", Namespace: "Shop"}))
}

func TestConfig_SelectDocument(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.selectDocument(&symbols.Document{Path: "src/Reader.cs"}))
	assert.False(t, cfg.selectDocument(&symbols.Document{Path: "obj/Debug/Gen.cs"}))
	assert.False(t, cfg.selectDocument(&symbols.Document{Path: "bin/Out.cs"}))
}

func TestConfig_Finders(t *testing.T) {
	assert.Len(t, Default().Finders(), 1)

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	finders := cfg.Finders()
	require.Len(t, finders, 3)
	assert.IsType(t, &counterpart.SuffixFinder{}, finders[0])

	assert.Len(t, cfg.AnalysisOptions(nil), 9, "concurrency is set")
	assert.Len(t, Default().AnalysisOptions(nil), 8)
}
