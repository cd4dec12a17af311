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

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// UnsupportedSyntaxError is raised when reference classification reaches a
// node kind it has no rule for. It aborts the run.
type UnsupportedSyntaxError struct {
	Kind     syntax.Kind
	Position syntax.Position
	Document string
	Function string
	Symbol   string
}

func (e *UnsupportedSyntaxError) Error() string {
	return fmt.Sprintf("unsupported syntax %q at %s:%s while classifying reference to %s in %s",
		e.Kind, e.Document, e.Position, e.Symbol, e.Function)
}

// DocumentError is a fatal failure inside one document.
type DocumentError struct {
	Pass     string
	Document string
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Pass, e.Document, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// AnalysisError aggregates every fatal failure of a pass.
type AnalysisError struct {
	Pass string
	errs *multierror.Error
}

func newAnalysisError(pass string, errs *multierror.Error) *AnalysisError {
	errs.ErrorFormat = func(es []error) string {
		parts := make([]string, len(es))
		for i, e := range es {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}
	return &AnalysisError{Pass: pass, errs: errs}
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed in %s (%d error(s)): %s", e.Pass, e.errs.Len(), e.errs.Error())
}

// Errors returns the aggregated errors.
func (e *AnalysisError) Errors() []error {
	return e.errs.WrappedErrors()
}

// Unwrap exposes the aggregated errors to errors.Is and errors.As.
func (e *AnalysisError) Unwrap() []error {
	return e.errs.WrappedErrors()
}
