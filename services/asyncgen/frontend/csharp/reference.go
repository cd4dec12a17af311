// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package csharp

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/memory"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

//go:embed reference_types.yaml
var embeddedReferenceTypes []byte

// ErrInvalidReference indicates a malformed reference type file.
var ErrInvalidReference = errors.New("invalid reference types")

// ReferenceFile is the YAML document describing external types.
type ReferenceFile struct {
	Types []ReferenceType `yaml:"types"`
}

// ReferenceType describes one type declared outside the analyzed program.
type ReferenceType struct {
	Name       string            `yaml:"name"`
	Assembly   string            `yaml:"assembly"`
	Kind       string            `yaml:"kind"`
	Static     bool              `yaml:"static"`
	Sealed     bool              `yaml:"sealed"`
	Base       string            `yaml:"base"`
	Interfaces []string          `yaml:"interfaces"`
	Methods    []ReferenceMethod `yaml:"methods"`
}

// ReferenceMethod describes a method of a reference type.
type ReferenceMethod struct {
	Name       string               `yaml:"name"`
	Static     bool                 `yaml:"static"`
	Virtual    bool                 `yaml:"virtual"`
	Extension  bool                 `yaml:"extension"`
	Parameters []ReferenceParameter `yaml:"parameters"`
	Returns    string               `yaml:"returns"`
}

// ReferenceParameter describes a method parameter. Type uses C# generic
// syntax with full names.
type ReferenceParameter struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Out     bool   `yaml:"out"`
	Default bool   `yaml:"default"`
}

// ParseReferenceFile decodes a reference type document.
func ParseReferenceFile(data []byte) (*ReferenceFile, error) {
	var f ReferenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	for i, t := range f.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: type %d has no name", ErrInvalidReference, i)
		}
		if t.Assembly == "" {
			return nil, fmt.Errorf("%w: type %s has no assembly", ErrInvalidReference, t.Name)
		}
		for _, m := range t.Methods {
			if m.Name == "" {
				return nil, fmt.Errorf("%w: type %s has a method without name", ErrInvalidReference, t.Name)
			}
		}
	}
	return &f, nil
}

// readReferenceFiles returns the embedded library followed by extra files.
func readReferenceFiles(paths []string) ([]*ReferenceFile, error) {
	base, err := ParseReferenceFile(embeddedReferenceTypes)
	if err != nil {
		return nil, fmt.Errorf("embedded reference types: %w", err)
	}
	files := []*ReferenceFile{base}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading reference types %s: %w", p, err)
		}
		f, err := ParseReferenceFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// declareReferences registers the reference types on prog. A type declared
// by a later file replaces an earlier declaration of the same name.
func declareReferences(prog *memory.Program, files []*ReferenceFile) map[string]*symbols.Type {
	var order []ReferenceType
	index := make(map[string]int)
	for _, f := range files {
		for _, rt := range f.Types {
			if i, seen := index[rt.Name]; seen {
				order[i] = rt
				continue
			}
			index[rt.Name] = len(order)
			order = append(order, rt)
		}
	}

	byName := make(map[string]*symbols.Type, len(order))
	for _, rt := range order {
		ns, name := splitQualified(rt.Name)
		t := &symbols.Type{
			Name:      name,
			Namespace: ns,
			Kind:      referenceKind(rt.Kind),
			Assembly:  rt.Assembly,
			IsStatic:  rt.Static,
			IsSealed:  rt.Sealed,
		}
		byName[rt.Name] = prog.AddType(t)
	}
	for _, rt := range order {
		t := byName[rt.Name]
		if rt.Base != "" {
			t.BaseType = byName[rt.Base]
		}
		for _, i := range rt.Interfaces {
			if it := byName[i]; it != nil {
				t.Interfaces = append(t.Interfaces, it)
			}
		}
		for _, rm := range rt.Methods {
			m := &symbols.Method{
				Name:        rm.Name,
				Kind:        symbols.MethodOrdinary,
				ReturnType:  symbols.Void,
				IsStatic:    rm.Static || rm.Extension,
				IsVirtual:   rm.Virtual,
				IsExtension: rm.Extension,
			}
			if rm.Returns != "" {
				m.ReturnType = ParseTypeName(rm.Returns)
			}
			for i, rp := range rm.Parameters {
				p := symbols.Parameter{
					Name:       rp.Name,
					Type:       ParseTypeName(rp.Type),
					HasDefault: rp.Default,
					IsThis:     rm.Extension && i == 0,
				}
				if rp.Out {
					p.RefKind = symbols.RefOut
				}
				m.Parameters = append(m.Parameters, p)
			}
			prog.AddMethod(t, m)
		}
	}
	return byName
}

func referenceKind(kind string) symbols.TypeKind {
	switch kind {
	case "interface":
		return symbols.TypeInterface
	case "struct":
		return symbols.TypeStruct
	default:
		return symbols.TypeClass
	}
}

// ParseTypeName parses a C# type string with full names, such as
// "System.Threading.Tasks.Task<System.String>", into a TypeRef. Array
// brackets stay part of the name.
func ParseTypeName(s string) symbols.TypeRef {
	t, _ := parseTypeName(strings.TrimSpace(s))
	return t
}

func parseTypeName(s string) (symbols.TypeRef, string) {
	i := strings.IndexAny(s, "<,>")
	if i < 0 {
		return symbols.TypeRef{Name: strings.TrimSpace(s)}, ""
	}
	t := symbols.TypeRef{Name: strings.TrimSpace(s[:i])}
	if s[i] != '<' {
		return t, s[i:]
	}
	rest := s[i+1:]
	for {
		var arg symbols.TypeRef
		arg, rest = parseTypeName(rest)
		t.Args = append(t.Args, arg)
		if rest == "" {
			return t, ""
		}
		sep := rest[0]
		rest = rest[1:]
		if sep == '>' {
			break
		}
	}
	// Array suffix after the closing bracket, e.g. "List<Int32>[]".
	if j := strings.IndexAny(rest, ",>"); j != 0 {
		suffix := rest
		if j > 0 {
			suffix = rest[:j]
		}
		t.Name += strings.TrimSpace(suffix)
		rest = rest[len(suffix):]
	}
	return t, rest
}

func splitQualified(full string) (ns, name string) {
	if i := strings.LastIndex(full, "."); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}
