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

import "github.com/AleutianAI/asyncgen/services/asyncgen/result"

// MethodConversion is the verdict for a method or nested function.
type MethodConversion int

const (
	// MethodUnclassified is the state before pre-analysis.
	MethodUnclassified MethodConversion = iota
	MethodIgnore
	MethodUnknown
	// MethodSmart converts when needed; otherwise behaves like Unknown.
	MethodSmart
	MethodToAsync
	// MethodCopy copies the method unchanged into a new type.
	MethodCopy
)

// String returns the string representation of the MethodConversion.
func (c MethodConversion) String() string {
	switch c {
	case MethodUnclassified:
		return "unclassified"
	case MethodIgnore:
		return result.MethodIgnore
	case MethodUnknown:
		return result.MethodUnknown
	case MethodSmart:
		return result.MethodSmart
	case MethodToAsync:
		return result.MethodToAsync
	case MethodCopy:
		return result.MethodCopy
	default:
		return "invalid"
	}
}

// ParseMethodConversion parses a conversion name as produced by String.
func ParseMethodConversion(s string) (MethodConversion, bool) {
	for c := MethodIgnore; c <= MethodCopy; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return MethodUnclassified, false
}

// TypeConversion is the verdict for a type.
type TypeConversion int

const (
	TypeUnknown TypeConversion = iota
	TypeIgnore
	// TypePartial adds async members to the existing type.
	TypePartial
	// TypeNewType generates a new async type next to the original.
	TypeNewType
	TypeCopy
)

// String returns the string representation of the TypeConversion.
func (c TypeConversion) String() string {
	switch c {
	case TypeUnknown:
		return result.TypeUnknown
	case TypeIgnore:
		return result.TypeIgnore
	case TypePartial:
		return result.TypePartial
	case TypeNewType:
		return result.TypeNewType
	case TypeCopy:
		return result.TypeCopy
	default:
		return "invalid"
	}
}

// ParseTypeConversion parses a conversion name as produced by String.
func ParseTypeConversion(s string) (TypeConversion, bool) {
	for c := TypeUnknown; c <= TypeCopy; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return TypeUnknown, false
}

// CancellationTokenMode is how a converted function receives a token.
type CancellationTokenMode int

const (
	TokenNone CancellationTokenMode = iota
	// TokenOptional adds an optional trailing token parameter.
	TokenOptional
	// TokenRequired adds a required token parameter plus a forwarding overload.
	TokenRequired
	// TokenForwardNone forwards CancellationToken.None without a parameter.
	TokenForwardNone
	// TokenSealedForwardNone is TokenForwardNone for sealed overrides.
	TokenSealedForwardNone
)

// String returns the string representation of the CancellationTokenMode.
func (m CancellationTokenMode) String() string {
	switch m {
	case TokenOptional:
		return result.TokenOptional
	case TokenRequired:
		return result.TokenRequired
	case TokenForwardNone:
		return result.TokenForwardNone
	case TokenSealedForwardNone:
		return result.TokenSealedForwardNone
	default:
		return result.TokenNone
	}
}

// HasParameter reports whether the mode adds a token parameter.
func (m CancellationTokenMode) HasParameter() bool {
	return m == TokenOptional || m == TokenRequired
}
