// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package result defines the Analyzation Result: a detached, read-only
// snapshot of every decision the analysis made.
//
// Nothing in this package points back into the mutable analysis records. A
// Result can be stored, compared, serialized to JSON and shared between
// goroutines without synchronization.
package result

import (
	"time"
)

// Method conversion values.
const (
	MethodIgnore  = "ignore"
	MethodUnknown = "unknown"
	MethodSmart   = "smart"
	MethodToAsync = "to_async"
	MethodCopy    = "copy"
)

// Type conversion values.
const (
	TypeIgnore  = "ignore"
	TypeUnknown = "unknown"
	TypePartial = "partial"
	TypeNewType = "new_type"
	TypeCopy    = "copy"
)

// Cancellation token modes.
const (
	TokenNone              = "none"
	TokenOptional          = "optional"
	TokenRequired          = "required"
	TokenForwardNone       = "forward_none"
	TokenSealedForwardNone = "sealed_forward_none"
)

// Result is the whole-program analysis outcome.
type Result struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Assembly is the analyzed assembly name.
	Assembly string `json:"assembly"`

	// CreatedAt is when the analysis finished.
	CreatedAt time.Time `json:"created_at"`

	// Documents in front-end order.
	Documents []Document `json:"documents"`

	// Stats summarizes the verdicts.
	Stats Stats `json:"stats"`
}

// Stats counts verdicts across the result.
type Stats struct {
	Documents        int `json:"documents"`
	Types            int `json:"types"`
	Methods          int `json:"methods"`
	Functions        int `json:"functions"`
	ToAsyncMethods   int `json:"to_async_methods"`
	IgnoredMethods   int `json:"ignored_methods"`
	CopiedMethods    int `json:"copied_methods"`
	PartialTypes     int `json:"partial_types"`
	References       int `json:"references"`
	ToAsyncReference int `json:"to_async_references"`
}

// Document is one analyzed source file.
type Document struct {
	Path       string      `json:"path"`
	Namespaces []Namespace `json:"namespaces"`
}

// Namespace groups the types declared in one namespace block.
type Namespace struct {
	Name  string `json:"name"`
	Types []Type `json:"types"`
}

// Type is a class, interface or struct.
type Type struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Kind        string   `json:"kind"`
	Conversion  string   `json:"conversion"`
	Methods     []Method `json:"methods"`
	Properties  []Member `json:"properties,omitempty"`
	Fields      []Member `json:"fields,omitempty"`
	NestedTypes []Type   `json:"nested_types,omitempty"`
}

// Member is a property or field.
type Member struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Position is a 1-based source location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Statement is a source statement carried in the result, e.g. a precondition.
type Statement struct {
	Kind     string   `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Position Position `json:"position"`
}

// Function holds the decisions shared by methods and nested functions.
type Function struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Signature      string `json:"signature"`
	Conversion     string `json:"conversion"`
	IgnoreReason   string `json:"ignore_reason,omitempty"`
	IsAlreadyAsync bool   `json:"is_already_async,omitempty"`

	// History lists every verdict assigned to the function, in order.
	History []string `json:"history,omitempty"`

	OmitAsync                  bool   `json:"omit_async,omitempty"`
	WrapInTryCatch             bool   `json:"wrap_in_try_catch,omitempty"`
	SplitTail                  bool   `json:"split_tail,omitempty"`
	PreserveReturnType         bool   `json:"preserve_return_type,omitempty"`
	Faulted                    bool   `json:"faulted,omitempty"`
	RewriteYields              bool   `json:"rewrite_yields,omitempty"`
	MustRunSynchronized        bool   `json:"must_run_synchronized,omitempty"`
	AddCancellationTokenGuards bool   `json:"add_cancellation_token_guards,omitempty"`
	CancellationToken          string `json:"cancellation_token"`

	Preconditions []Statement  `json:"preconditions,omitempty"`
	References    []Reference  `json:"references,omitempty"`
	InvokedBy     []string     `json:"invoked_by,omitempty"`
	Locks         []Position   `json:"locks,omitempty"`
	Functions     []Function   `json:"functions,omitempty"`
	Position      Position     `json:"position"`
	Document      string       `json:"document"`
	Details       *MethodExtra `json:"details,omitempty"`
}

// MethodExtra carries the data only type members have.
type MethodExtra struct {
	// RelatedMethods are IDs of internal override/interface relatives.
	RelatedMethods []string `json:"related_methods,omitempty"`

	// ExternalRelations are external members this method overrides or implements.
	ExternalRelations []ExternalRelation `json:"external_relations,omitempty"`

	// ExistingCounterparts are async counterparts already present.
	ExistingCounterparts []string `json:"existing_counterparts,omitempty"`
}

// ExternalRelation is an overridden or implemented member outside the program.
type ExternalRelation struct {
	Member       string   `json:"member"`
	Counterparts []string `json:"counterparts,omitempty"`
}

// Method is a type member function.
type Method = Function

// Reference is one call-site or method group reference.
type Reference struct {
	Symbol                    string   `json:"symbol"`
	Target                    string   `json:"target,omitempty"`
	Owner                     string   `json:"owner"`
	Conversion                string   `json:"conversion"`
	Counterparts              []string `json:"counterparts,omitempty"`
	Position                  Position `json:"position"`
	UsedAsReturnValue         bool     `json:"used_as_return_value,omitempty"`
	LastInvocation            bool     `json:"last_invocation,omitempty"`
	PassedAsArgument          bool     `json:"passed_as_argument,omitempty"`
	AwaitRequired             bool     `json:"await_required,omitempty"`
	CanBeAwaited              bool     `json:"can_be_awaited"`
	SynchronouslyAwaited      bool     `json:"synchronously_awaited,omitempty"`
	CancellationTokenRequired bool     `json:"cancellation_token_required,omitempty"`
	InsideLock                bool     `json:"inside_lock,omitempty"`
	Ignored                   bool     `json:"ignored,omitempty"`
	IgnoreReason              string   `json:"ignore_reason,omitempty"`
}
