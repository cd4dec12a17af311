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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(id string) *Result {
	return &Result{
		ID:       id,
		Assembly: "App",
		Documents: []Document{{
			Path: "Reader.cs",
			Namespaces: []Namespace{{
				Name: "App",
				Types: []Type{{
					Name:       "Reader",
					FullName:   "App.Reader",
					Kind:       "class",
					Conversion: TypePartial,
					Methods: []Method{
						{
							ID:                "M:App.Reader.Read()",
							Name:              "Read",
							Signature:         "App.Reader.Read()",
							Conversion:        MethodToAsync,
							CancellationToken: TokenNone,
							OmitAsync:         true,
							Document:          "Reader.cs",
							References: []Reference{
								{Symbol: "System.IO.File.Read()", Conversion: MethodToAsync, Position: Position{Line: 4, Column: 9}},
								{Symbol: "System.IO.File.Exists()", Conversion: MethodIgnore},
							},
							Functions: []Function{{ID: "F:App.Reader.Read.<lambda>1", Name: "<lambda>1", Conversion: MethodIgnore}},
						},
						{
							ID:           "M:App.Reader.Close()",
							Name:         "Close",
							Signature:    "App.Reader.Close()",
							Conversion:   MethodIgnore,
							IgnoreReason: "no invocation can be converted",
							Document:     "Reader.cs",
						},
					},
					NestedTypes: []Type{{
						Name:       "Buffer",
						FullName:   "App.Reader.Buffer",
						Kind:       "class",
						Conversion: TypeIgnore,
						Methods: []Method{{
							ID:         "M:App.Reader.Buffer.Fill()",
							Name:       "Fill",
							Signature:  "App.Reader.Buffer.Fill()",
							Conversion: MethodIgnore,
							Document:   "Reader.cs",
						}},
					}},
				}},
			}},
		}},
		Stats: Stats{Documents: 1, Types: 2, Methods: 3, ToAsyncMethods: 1, IgnoredMethods: 2},
	}
}

func TestResult_Queries(t *testing.T) {
	r := sample("a")

	types := r.Types()
	require.Len(t, types, 2)
	assert.Equal(t, "App.Reader", types[0].FullName)
	assert.Equal(t, "App.Reader.Buffer", types[1].FullName, "nested types follow their outer type")
	assert.Same(t, types[1], r.Type("App.Reader.Buffer"))
	assert.Nil(t, r.Type("App.Missing"))

	assert.Len(t, r.Methods(), 3)
	assert.Len(t, r.AllFunctions(), 4)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"by id", "M:App.Reader.Close()", "Close"},
		{"by signature", "App.Reader.Read()", "Read"},
		{"by qualified name", "App.Reader.Buffer.Fill", "Fill"},
		{"by suffix", "Reader.Close", "Close"},
		{"by simple name", "Fill", "Fill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := r.Method(tt.query)
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Name)
		})
	}
	assert.Nil(t, r.Method("Missing"))
	assert.Nil(t, r.Method("eader.Read"), "suffix matches stop at a dot")

	refs := r.Method("Read").ToAsyncReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, "System.IO.File.Read()", refs[0].Symbol)
}

func TestCompare(t *testing.T) {
	base := sample("a")
	target := sample("b")

	target.Method("Close").Conversion = MethodToAsync
	target.Method("Fill").OmitAsync = true
	read := target.Method("Read")
	read.CancellationToken = TokenOptional
	target.Type("App.Reader.Buffer").Conversion = TypePartial

	reader := &target.Documents[0].Namespaces[0].Types[0]
	reader.Methods = append(reader.Methods, Method{
		ID: "M:App.Reader.Open()", Signature: "App.Reader.Open()", Conversion: MethodToAsync, Document: "Reader.cs",
	})
	target.Documents = append(target.Documents, Document{Path: "Empty.cs"})

	base.Documents = append(base.Documents, Document{
		Path: "Old.cs",
		Namespaces: []Namespace{{Name: "App", Types: []Type{{
			FullName: "App.Old",
			Methods:  []Method{{ID: "M:App.Old.Run()", Document: "Old.cs"}},
		}}}},
	})

	diff, err := Compare(base, target)
	require.NoError(t, err)

	assert.Equal(t, "a", diff.BaseID)
	assert.Equal(t, "b", diff.TargetID)
	assert.Equal(t, []string{"M:App.Reader.Open()"}, diff.MethodsAdded)
	assert.Equal(t, []string{"M:App.Old.Run()"}, diff.MethodsRemoved)

	require.Len(t, diff.MethodsChanged, 3)
	changes := map[string]string{}
	for _, c := range diff.MethodsChanged {
		changes[c.ID] = c.ChangeType
	}
	assert.Equal(t, map[string]string{
		"M:App.Reader.Buffer.Fill()": "flags_changed",
		"M:App.Reader.Close()":       "conversion_changed",
		"M:App.Reader.Read()":        "token_changed",
	}, changes)
	assert.Equal(t, "M:App.Reader.Buffer.Fill()", diff.MethodsChanged[0].ID, "changes are sorted by ID")

	require.Len(t, diff.TypesChanged, 1)
	assert.Equal(t, TypeChange{FullName: "App.Reader.Buffer", Before: TypeIgnore, After: TypePartial}, diff.TypesChanged[0])

	assert.Equal(t, 6, diff.Summary.TotalChanges)
	assert.Equal(t, 2, diff.Summary.DocumentsAffected)
	assert.InDelta(t, 5.0/4.0, diff.Summary.ChangeRatio, 1e-9)
	assert.False(t, diff.Empty())
}

func TestCompare_Identical(t *testing.T) {
	diff, err := Compare(sample("a"), sample("a"))
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.NotNil(t, diff.MethodsAdded, "empty slices serialize as []")
	assert.Zero(t, diff.Summary.ChangeRatio)
}

func TestCompare_Nil(t *testing.T) {
	_, err := Compare(nil, sample("a"))
	assert.ErrorIs(t, err, ErrNilResult)
	_, err = Compare(sample("a"), nil)
	assert.ErrorIs(t, err, ErrNilResult)
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sample("run-1"), WithReferences(true)))
	out := buf.String()

	assert.Contains(t, out, "analysis run-1 (App)")
	assert.Contains(t, out, "methods: 3  to_async: 1  ignored: 2")
	assert.Contains(t, out, "class App.Reader")
	assert.Contains(t, out, "[partial]")
	assert.Contains(t, out, "App.Reader.Read()")
	assert.Contains(t, out, "omit_async")
	assert.NotContains(t, out, "token=none")
	assert.Contains(t, out, "-> System.IO.File.Read() @4:9")
	assert.NotContains(t, out, "File.Exists")
	assert.Contains(t, out, "(no invocation can be converted)")

	buf.Reset()
	require.NoError(t, WriteReport(&buf, sample("run-1"), WithIgnored(false)))
	out = buf.String()
	assert.NotContains(t, out, "App.Reader.Close()")
	assert.NotContains(t, out, "->", "references are off by default")
	assert.Contains(t, out, "App.Reader.Read()")

	assert.ErrorIs(t, WriteReport(&buf, nil), ErrNilResult)
}
