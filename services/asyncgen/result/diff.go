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
	"errors"
	"sort"
)

// ErrNilResult is returned when a diff operand is nil.
var ErrNilResult = errors.New("result must not be nil")

// Diff contains the verdict differences between two results.
type Diff struct {
	// BaseID is the ID of the base result.
	BaseID string `json:"base_id"`

	// TargetID is the ID of the target result.
	TargetID string `json:"target_id"`

	// MethodsAdded are method IDs present in target but not in base.
	MethodsAdded []string `json:"methods_added"`

	// MethodsRemoved are method IDs present in base but not in target.
	MethodsRemoved []string `json:"methods_removed"`

	// MethodsChanged are methods whose verdict or flags changed.
	MethodsChanged []MethodChange `json:"methods_changed"`

	// TypesChanged are types whose conversion changed.
	TypesChanged []TypeChange `json:"types_changed"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// MethodChange describes how one method changed.
type MethodChange struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`

	// Before and After are the conversions in base and target.
	Before string `json:"before"`
	After  string `json:"after"`

	// ChangeType is "conversion_changed", "token_changed" or "flags_changed".
	ChangeType string `json:"change_type"`
}

// TypeChange describes a type whose conversion changed.
type TypeChange struct {
	FullName string `json:"full_name"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is added + removed + changed methods + changed types.
	TotalChanges int `json:"total_changes"`

	// DocumentsAffected is the number of distinct documents with changes.
	DocumentsAffected int `json:"documents_affected"`

	// ChangeRatio is the fraction of methods that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// Compare computes the differences between two results.
//
// Description:
//
//	Methods are matched by ID. A method present in both results is reported
//	when its conversion, cancellation token mode or derived flags differ.
//	Types are matched by full name.
//
// Inputs:
//
//	base - The base result. Must not be nil.
//	target - The target result. Must not be nil.
//
// Outputs:
//
//	*Diff - The differences, sorted for deterministic output.
//	error - ErrNilResult if either result is nil.
//
// Thread Safety: Safe for concurrent use; results are immutable.
func Compare(base, target *Result) (*Diff, error) {
	if base == nil || target == nil {
		return nil, ErrNilResult
	}

	diff := &Diff{
		BaseID:         base.ID,
		TargetID:       target.ID,
		MethodsAdded:   []string{},
		MethodsRemoved: []string{},
		MethodsChanged: []MethodChange{},
		TypesChanged:   []TypeChange{},
	}
	affected := make(map[string]bool)

	baseMethods := indexMethods(base)
	targetMethods := indexMethods(target)

	for id, tm := range targetMethods {
		bm, ok := baseMethods[id]
		if !ok {
			diff.MethodsAdded = append(diff.MethodsAdded, id)
			affected[tm.Document] = true
			continue
		}
		if change := classifyMethodChange(bm, tm); change != "" {
			diff.MethodsChanged = append(diff.MethodsChanged, MethodChange{
				ID:         id,
				Signature:  tm.Signature,
				Before:     bm.Conversion,
				After:      tm.Conversion,
				ChangeType: change,
			})
			affected[tm.Document] = true
		}
	}
	for id, bm := range baseMethods {
		if _, ok := targetMethods[id]; !ok {
			diff.MethodsRemoved = append(diff.MethodsRemoved, id)
			affected[bm.Document] = true
		}
	}

	baseTypes := make(map[string]*Type)
	for _, t := range base.Types() {
		baseTypes[t.FullName] = t
	}
	for _, t := range target.Types() {
		if bt, ok := baseTypes[t.FullName]; ok && bt.Conversion != t.Conversion {
			diff.TypesChanged = append(diff.TypesChanged, TypeChange{
				FullName: t.FullName,
				Before:   bt.Conversion,
				After:    t.Conversion,
			})
		}
	}

	sort.Strings(diff.MethodsAdded)
	sort.Strings(diff.MethodsRemoved)
	sort.Slice(diff.MethodsChanged, func(i, j int) bool {
		return diff.MethodsChanged[i].ID < diff.MethodsChanged[j].ID
	})
	sort.Slice(diff.TypesChanged, func(i, j int) bool {
		return diff.TypesChanged[i].FullName < diff.TypesChanged[j].FullName
	})

	total := len(baseMethods)
	if len(targetMethods) > total {
		total = len(targetMethods)
	}
	changed := len(diff.MethodsAdded) + len(diff.MethodsRemoved) + len(diff.MethodsChanged)
	ratio := 0.0
	if total > 0 {
		ratio = float64(changed) / float64(total)
	}
	diff.Summary = DiffSummary{
		TotalChanges:      changed + len(diff.TypesChanged),
		DocumentsAffected: len(affected),
		ChangeRatio:       ratio,
	}
	return diff, nil
}

// Empty reports whether the results made the same decisions.
func (d *Diff) Empty() bool {
	return d.Summary.TotalChanges == 0
}

func indexMethods(r *Result) map[string]*Method {
	out := make(map[string]*Method)
	for _, m := range r.Methods() {
		out[m.ID] = m
	}
	return out
}

func classifyMethodChange(base, target *Method) string {
	switch {
	case base.Conversion != target.Conversion:
		return "conversion_changed"
	case base.CancellationToken != target.CancellationToken:
		return "token_changed"
	case base.OmitAsync != target.OmitAsync,
		base.WrapInTryCatch != target.WrapInTryCatch,
		base.SplitTail != target.SplitTail,
		base.PreserveReturnType != target.PreserveReturnType,
		base.Faulted != target.Faulted,
		base.RewriteYields != target.RewriteYields,
		base.MustRunSynchronized != target.MustRunSynchronized,
		base.AddCancellationTokenGuards != target.AddCancellationTokenGuards,
		len(base.Preconditions) != len(target.Preconditions):
		return "flags_changed"
	default:
		return ""
	}
}
