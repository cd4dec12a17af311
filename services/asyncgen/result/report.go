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
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ReportOptions configures WriteReport.
type ReportOptions struct {
	// ShowIgnored includes ignored methods with their reasons. Default: true.
	ShowIgnored bool

	// ShowReferences lists the converted references of each method.
	ShowReferences bool
}

// ReportOption is a functional option for WriteReport.
type ReportOption func(*ReportOptions)

// WithIgnored toggles ignored methods in the report.
func WithIgnored(show bool) ReportOption {
	return func(o *ReportOptions) { o.ShowIgnored = show }
}

// WithReferences toggles reference listings in the report.
func WithReferences(show bool) ReportOption {
	return func(o *ReportOptions) { o.ShowReferences = show }
}

type reportStyles struct {
	title   lipgloss.Style
	typ     lipgloss.Style
	toAsync lipgloss.Style
	ignore  lipgloss.Style
	other   lipgloss.Style
	dim     lipgloss.Style
}

func newReportStyles(w io.Writer) reportStyles {
	r := lipgloss.NewRenderer(w)
	return reportStyles{
		title:   r.NewStyle().Bold(true),
		typ:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		toAsync: r.NewStyle().Foreground(lipgloss.Color("10")),
		ignore:  r.NewStyle().Foreground(lipgloss.Color("8")),
		other:   r.NewStyle().Foreground(lipgloss.Color("11")),
		dim:     r.NewStyle().Faint(true),
	}
}

// WriteReport renders a human readable summary of r. Colors are used only
// when w is a terminal.
func WriteReport(w io.Writer, r *Result, opts ...ReportOption) error {
	if r == nil {
		return ErrNilResult
	}
	options := ReportOptions{ShowIgnored: true}
	for _, opt := range opts {
		opt(&options)
	}
	st := newReportStyles(w)

	var sb strings.Builder
	sb.WriteString(st.title.Render(fmt.Sprintf("analysis %s (%s)", r.ID, r.Assembly)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "documents: %d  types: %d  methods: %d  to_async: %d  ignored: %d  copied: %d\n",
		r.Stats.Documents, r.Stats.Types, r.Stats.Methods,
		r.Stats.ToAsyncMethods, r.Stats.IgnoredMethods, r.Stats.CopiedMethods)

	for _, t := range r.Types() {
		sb.WriteString("\n")
		sb.WriteString(st.typ.Render(fmt.Sprintf("%s %s", t.Kind, t.FullName)))
		sb.WriteString(" ")
		sb.WriteString(st.dim.Render("[" + t.Conversion + "]"))
		sb.WriteString("\n")
		for i := range t.Methods {
			writeMethod(&sb, st, &t.Methods[i], options, "  ")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeMethod(sb *strings.Builder, st reportStyles, m *Function, options ReportOptions, indent string) {
	if m.Conversion == MethodIgnore && !options.ShowIgnored {
		return
	}
	style := st.other
	switch m.Conversion {
	case MethodToAsync:
		style = st.toAsync
	case MethodIgnore:
		style = st.ignore
	}
	sb.WriteString(indent)
	sb.WriteString(style.Render(fmt.Sprintf("%-8s", m.Conversion)))
	sb.WriteString(" ")
	sb.WriteString(m.Signature)
	if flags := methodFlags(m); len(flags) > 0 {
		sb.WriteString(" ")
		sb.WriteString(st.dim.Render(strings.Join(flags, ",")))
	}
	if m.IgnoreReason != "" {
		sb.WriteString(" ")
		sb.WriteString(st.dim.Render("(" + m.IgnoreReason + ")"))
	}
	sb.WriteString("\n")

	if options.ShowReferences {
		for _, ref := range m.ToAsyncReferences() {
			fmt.Fprintf(sb, "%s    -> %s @%d:%d\n", indent, ref.Symbol, ref.Position.Line, ref.Position.Column)
		}
	}
	for i := range m.Functions {
		writeMethod(sb, st, &m.Functions[i], options, indent+"  ")
	}
}

func methodFlags(m *Function) []string {
	var flags []string
	add := func(on bool, name string) {
		if on {
			flags = append(flags, name)
		}
	}
	add(m.OmitAsync, "omit_async")
	add(m.WrapInTryCatch, "wrap_in_try_catch")
	add(m.SplitTail, "split_tail")
	add(m.PreserveReturnType, "preserve_return_type")
	add(m.Faulted, "faulted")
	add(m.RewriteYields, "rewrite_yields")
	add(m.MustRunSynchronized, "synchronized")
	add(m.AddCancellationTokenGuards, "token_guards")
	if m.CancellationToken != "" && m.CancellationToken != TokenNone {
		flags = append(flags, "token="+m.CancellationToken)
	}
	if len(m.Preconditions) > 0 {
		flags = append(flags, fmt.Sprintf("preconditions=%d", len(m.Preconditions)))
	}
	return flags
}
