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
	"strings"

	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
)

// SearchOptions is a bit set controlling how counterparts are matched.
type SearchOptions uint8

// Default matches counterparts declared on the same type with the same
// parameters (delegate parameters may take their async delegate shape) and
// a return type equal to the synchronous one or its Task wrapper.
const Default SearchOptions = 0

const (
	// EqualParameters requires exact parameter types.
	EqualParameters SearchOptions = 1 << iota

	// SearchInheritedTypes also searches base, derived and interface types.
	SearchInheritedTypes

	// HasCancellationToken accepts one extra trailing cancellation token parameter.
	HasCancellationToken

	// IgnoreReturnType skips the return type check.
	IgnoreReturnType
)

// Has reports whether every flag in f is set.
func (o SearchOptions) Has(f SearchOptions) bool {
	return o&f == f
}

// String renders the set flags joined by "|".
func (o SearchOptions) String() string {
	if o == Default {
		return "Default"
	}
	var parts []string
	for _, f := range []struct {
		flag SearchOptions
		name string
	}{
		{EqualParameters, "EqualParameters"},
		{SearchInheritedTypes, "SearchInheritedTypes"},
		{HasCancellationToken, "HasCancellationToken"},
		{IgnoreReturnType, "IgnoreReturnType"},
	} {
		if o.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Matches reports whether candidate is a valid asynchronous counterpart of
// the synchronous method under opts.
func Matches(sync, candidate *symbols.Method, opts SearchOptions) bool {
	return matchesWithOffset(sync, candidate, 0, opts)
}

// matchesWithOffset drops skip leading candidate parameters (extension
// receivers) before comparing.
func matchesWithOffset(sync, candidate *symbols.Method, skip int, opts SearchOptions) bool {
	if candidate == nil || candidate == sync || candidate.Definition() == sync.Definition() {
		return false
	}
	if len(candidate.Parameters) < skip {
		return false
	}
	params := candidate.Parameters[skip:]
	if opts.Has(HasCancellationToken) && len(params) == len(sync.Parameters)+1 && params[len(params)-1].Type.IsCancellationToken() {
		params = params[:len(params)-1]
	}
	if len(params) != len(sync.Parameters) {
		return false
	}
	for i, sp := range sync.Parameters {
		cp := params[i]
		if sp.RefKind != cp.RefKind {
			return false
		}
		if sp.Type.Equal(cp.Type) {
			continue
		}
		if opts.Has(EqualParameters) {
			return false
		}
		if !sp.Type.IsDelegate() || !cp.Type.Equal(sp.Type.AsyncDelegate()) {
			return false
		}
	}
	if opts.Has(IgnoreReturnType) {
		return true
	}
	rt := candidate.ReturnType
	if rt.Equal(sync.ReturnType) {
		return true
	}
	return rt.IsTaskShaped() && rt.Unwrapped().Equal(sync.ReturnType)
}

// HasTrailingCancellationToken reports whether candidate carries one more
// trailing cancellation token parameter than sync.
func HasTrailingCancellationToken(sync, candidate *symbols.Method) bool {
	skip := 0
	if candidate.IsExtension && !sync.IsExtension {
		skip = 1
	}
	return len(candidate.Parameters)-skip == len(sync.Parameters)+1 && candidate.LastParameterIsCancellationToken()
}
