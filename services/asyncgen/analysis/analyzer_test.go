// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/asyncgen/services/asyncgen/analysis"
	"github.com/AleutianAI/asyncgen/services/asyncgen/counterpart"
	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/memory"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/symbols"
	"github.com/AleutianAI/asyncgen/services/asyncgen/syntax"
)

// =============================================================================
// Helpers
// =============================================================================

// recordingHandler keeps every log record for assertions.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, func() []slog.Record) {
	h := recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), func() []slog.Record {
		h.mu.Lock()
		defer h.mu.Unlock()
		return append([]slog.Record(nil), *h.records...)
	}
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }

func hasRecord(records []slog.Record, level slog.Level, msg string) bool {
	for _, r := range records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

// fixture is a program builder with System.IO.File preregistered. File.Read
// has the counterpart ReadAsync; File.Write has none.
type fixture struct {
	b     *memory.Builder
	file  *symbols.Type
	read  *symbols.Method
	write *symbols.Method
}

func newFixture() *fixture {
	b := memory.NewBuilder("App")
	file := b.ExternalType("System.IO.File", "mscorlib", memory.StaticType())
	f := &fixture{
		b:     b,
		file:  file,
		read:  b.ExternalMethod(file, "Read", memory.Returns(memory.String), memory.Static()),
		write: b.ExternalMethod(file, "Write", memory.Param("text", memory.String), memory.Static()),
	}
	b.ExternalMethod(file, "ReadAsync", memory.Returns(symbols.TaskOf(memory.String)), memory.Static())
	return f
}

func (f *fixture) callRead() *syntax.Node {
	return f.b.CallOn(memory.Ident("File"), f.read)
}

func (f *fixture) callWrite() *syntax.Node {
	return f.b.CallOn(memory.Ident("File"), f.write, memory.Literal(`"x"`))
}

func (f *fixture) class(name string, opts ...memory.TypeOption) *memory.TypeBuilder {
	return f.b.Document(name+".cs").Namespace("App").Class(name, opts...)
}

func policyByName(verdicts map[string]analysis.MethodConversion) analysis.Option {
	return analysis.WithMethodConversion(func(m *symbols.Method) analysis.MethodConversion {
		if c, ok := verdicts[m.Name]; ok {
			return c
		}
		return analysis.MethodUnknown
	})
}

func analyze(t *testing.T, fe symbols.FrontEnd, opts ...analysis.Option) *result.Result {
	t.Helper()
	opts = append([]analysis.Option{analysis.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	res, err := analysis.NewAnalyzer(fe, opts...).Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func method(t *testing.T, res *result.Result, name string) *result.Method {
	t.Helper()
	m := res.Method(name)
	require.NotNil(t, m, "method %s not in result", name)
	return m
}

// =============================================================================
// Scenarios
// =============================================================================

func TestAnalyze_SmartMethodCallingCounterpart(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), analysis.WithMethodConversion(func(*symbols.Method) analysis.MethodConversion {
		return analysis.MethodSmart
	}))

	m := method(t, res, "Reader.ReadFile")
	assert.Equal(t, result.MethodToAsync, m.Conversion)
	require.Len(t, m.References, 1)
	ref := m.References[0]
	assert.Equal(t, result.MethodToAsync, ref.Conversion)
	assert.Equal(t, []string{"System.IO.File.ReadAsync()"}, ref.Counterparts)
	assert.True(t, ref.UsedAsReturnValue)
	assert.True(t, m.OmitAsync)
	assert.False(t, m.WrapInTryCatch)
	assert.Equal(t, result.TypePartial, res.Type("App.Reader").Conversion)
	assert.Equal(t, 1, res.Stats.ToAsyncMethods)
}

func TestAnalyze_PropagatesToCallers(t *testing.T) {
	f := newFixture()
	cls := f.class("Reader")
	readFile := cls.Method("ReadFile", memory.Returns(memory.String)).
		Body(memory.Return(memory.Literal(`"x"`)))
	cls.Method("CallReadFile", memory.Returns(memory.String)).
		Body(memory.Return(f.b.Call(readFile.Symbol)))

	res := analyze(t, f.b.Build(), policyByName(map[string]analysis.MethodConversion{
		"ReadFile": analysis.MethodToAsync,
	}))

	assert.Equal(t, result.MethodToAsync, method(t, res, "Reader.ReadFile").Conversion)
	caller := method(t, res, "Reader.CallReadFile")
	assert.Equal(t, result.MethodToAsync, caller.Conversion)
	require.Len(t, caller.References, 1)
	assert.Equal(t, result.MethodToAsync, caller.References[0].Conversion)
	assert.Equal(t, string(readFile.Symbol.ID), caller.References[0].Target)
	assert.Equal(t, []string{"App.Reader.CallReadFile()"}, method(t, res, "Reader.ReadFile").InvokedBy)
}

func TestAnalyze_OutParameterForcesIgnore(t *testing.T) {
	tests := []struct {
		name     string
		policy   analysis.MethodConversion
		wantWarn bool
	}{
		{"explicit to_async warns", analysis.MethodToAsync, true},
		{"unknown stays quiet", analysis.MethodUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.class("Parser").Method("TryRead", memory.Returns(symbols.Named("System.Boolean")),
				memory.OutParam("value", memory.String)).
				Body(memory.Stmt(f.callRead()), memory.Return(memory.Literal("true")))

			logger, records := newRecordingLogger()
			res, err := analysis.NewAnalyzer(f.b.Build(),
				analysis.WithLogger(logger),
				policyByName(map[string]analysis.MethodConversion{"TryRead": tt.policy}),
			).Analyze(context.Background())
			require.NoError(t, err)

			m := method(t, res, "Parser.TryRead")
			assert.Equal(t, result.MethodIgnore, m.Conversion)
			assert.Equal(t, "has out parameters", m.IgnoreReason)
			assert.Equal(t, tt.wantWarn,
				hasRecord(records(), slog.LevelWarn, "function configured as ToAsync cannot be converted"))
		})
	}
}

func TestAnalyze_ExternalInterfaceWithoutCounterpart(t *testing.T) {
	f := newFixture()
	iface := f.b.ExternalInterface("Vendor.IReader", "Vendor")
	f.b.ExternalMethod(iface, "Read", memory.Returns(memory.String))
	f.class("Impl", memory.Implements(iface)).Method("Read", memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), policyByName(map[string]analysis.MethodConversion{
		"Read": analysis.MethodToAsync,
	}))

	m := method(t, res, "Impl.Read")
	assert.Equal(t, result.MethodIgnore, m.Conversion)
	assert.Equal(t, "implements an external interface member without async counterpart", m.IgnoreReason)
	require.NotNil(t, m.Details)
	require.Len(t, m.Details.ExternalRelations, 1)
	assert.Equal(t, "Vendor.IReader.Read()", m.Details.ExternalRelations[0].Member)
	assert.Empty(t, m.Details.ExternalRelations[0].Counterparts)
}

func TestAnalyze_ExternalInterfaceWithCounterpart(t *testing.T) {
	f := newFixture()
	iface := f.b.ExternalInterface("Vendor.IReader", "Vendor")
	f.b.ExternalMethod(iface, "Read", memory.Returns(memory.String))
	f.b.ExternalMethod(iface, "ReadAsync", memory.Returns(symbols.TaskOf(memory.String)))
	f.class("Impl", memory.Implements(iface)).Method("Read", memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build())

	m := method(t, res, "Impl.Read")
	assert.Equal(t, result.MethodToAsync, m.Conversion)
	require.NotNil(t, m.Details)
	require.Len(t, m.Details.ExternalRelations, 1)
	assert.Equal(t, []string{"Vendor.IReader.ReadAsync()"}, m.Details.ExternalRelations[0].Counterparts)
}

func TestAnalyze_Preconditions(t *testing.T) {
	f := newFixture()
	cls := f.class("Calculator")
	guard := memory.If(
		memory.Binary("==", memory.Ident("x"), memory.Literal("0")),
		memory.Throw(memory.New("System.DivideByZeroException")),
		nil,
	)
	cls.Method("Divide", memory.Param("x", memory.Int), memory.Returns(memory.String)).
		Body(guard, memory.Return(f.callRead()))
	cls.Method("DivideShort", memory.Param("x", memory.Int), memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build())

	divide := method(t, res, "Calculator.Divide")
	assert.Equal(t, result.MethodToAsync, divide.Conversion)
	require.Len(t, divide.Preconditions, 1)
	assert.Equal(t, syntax.KindIf.String(), divide.Preconditions[0].Kind)

	short := method(t, res, "Calculator.DivideShort")
	assert.Equal(t, result.MethodToAsync, short.Conversion)
	assert.Empty(t, short.Preconditions)
}

func TestAnalyze_PreconditionsStopAtFirstOtherStatement(t *testing.T) {
	f := newFixture()
	guard := memory.If(memory.Ident("bad"), memory.Block(memory.Throw(memory.New("System.Exception"))), nil)
	f.class("Calculator").Method("Run", memory.Returns(memory.String)).
		Body(memory.Stmt(f.callWrite()), guard, memory.Return(f.callRead()))

	res := analyze(t, f.b.Build())

	m := method(t, res, "Calculator.Run")
	assert.Equal(t, result.MethodToAsync, m.Conversion)
	assert.Empty(t, m.Preconditions)
	assert.True(t, m.OmitAsync, "only the returned call is converted")
	assert.True(t, m.WrapInTryCatch)
}

func TestAnalyze_MutualRecursionTerminates(t *testing.T) {
	t.Run("converted", func(t *testing.T) {
		f := newFixture()
		cls := f.class("Cycle")
		a := cls.Method("A", memory.Returns(memory.String))
		bm := cls.Method("B", memory.Returns(memory.String))
		a.Body(memory.Stmt(f.b.Call(bm.Symbol)), memory.Return(f.callRead()))
		bm.Body(memory.Return(f.b.Call(a.Symbol)))

		res := analyze(t, f.b.Build())
		assert.Equal(t, result.MethodToAsync, method(t, res, "Cycle.A").Conversion)
		assert.Equal(t, result.MethodToAsync, method(t, res, "Cycle.B").Conversion)
	})

	t.Run("synchronous", func(t *testing.T) {
		f := newFixture()
		cls := f.class("Cycle")
		a := cls.Method("A")
		bm := cls.Method("B")
		a.Body(memory.Stmt(f.b.Call(bm.Symbol)))
		bm.Body(memory.Stmt(f.b.Call(a.Symbol)))

		res := analyze(t, f.b.Build())
		assert.Equal(t, result.MethodIgnore, method(t, res, "Cycle.A").Conversion)
		assert.Equal(t, result.MethodIgnore, method(t, res, "Cycle.B").Conversion)
		assert.Equal(t, result.TypeIgnore, res.Type("App.Cycle").Conversion)
	})
}

// =============================================================================
// Pre-analysis
// =============================================================================

func TestAnalyze_OverrideRelations(t *testing.T) {
	f := newFixture()
	base := f.class("Base")
	baseRead := base.Method("Read", memory.Returns(memory.String), memory.Virtual()).
		Body(memory.Return(memory.Literal(`""`)))
	f.class("Derived", memory.Inherits(base.Symbol)).
		Method("Read", memory.Returns(memory.String), memory.Overrides(baseRead.Symbol)).
		Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build())

	derived := method(t, res, "Derived.Read")
	baseMethod := method(t, res, "Base.Read")
	assert.Equal(t, result.MethodToAsync, derived.Conversion)
	assert.Equal(t, result.MethodToAsync, baseMethod.Conversion, "related methods follow the override")
	require.NotNil(t, baseMethod.Details)
	assert.Equal(t, []string{"App.Derived.Read()"}, baseMethod.Details.RelatedMethods)
}

func TestAnalyze_ExternalOverride(t *testing.T) {
	tests := []struct {
		name        string
		counterpart bool
		want        string
	}{
		{"without counterpart", false, result.MethodIgnore},
		{"with counterpart", true, result.MethodToAsync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			stream := f.b.ExternalType("System.IO.Stream", "mscorlib")
			flush := f.b.ExternalMethod(stream, "Flush", memory.Virtual())
			if tt.counterpart {
				f.b.ExternalMethod(stream, "FlushAsync", memory.Returns(symbols.TaskOf(symbols.Void)), memory.Virtual())
			}
			f.class("Buffered", memory.Inherits(stream)).
				Method("Flush", memory.Overrides(flush)).
				Body(memory.Stmt(f.callRead()))

			res := analyze(t, f.b.Build())
			m := method(t, res, "Buffered.Flush")
			assert.Equal(t, tt.want, m.Conversion)
			if !tt.counterpart {
				assert.Equal(t, "overrides an external member without async counterpart", m.IgnoreReason)
			}
		})
	}
}

func TestAnalyze_ExistingCounterpartAndAlreadyAsync(t *testing.T) {
	f := newFixture()
	cls := f.class("Loader")
	cls.Method("Load", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))
	cls.Method("LoadAsync", memory.Returns(symbols.TaskOf(memory.String)), memory.Async()).
		Body(memory.Return(memory.Await(f.callRead())))

	res := analyze(t, f.b.Build())

	load := method(t, res, "Loader.Load")
	assert.Equal(t, result.MethodIgnore, load.Conversion)
	assert.Equal(t, "async counterpart already exists", load.IgnoreReason)
	require.NotNil(t, load.Details)
	assert.Equal(t, []string{"App.Loader.LoadAsync()"}, load.Details.ExistingCounterparts)

	loadAsync := method(t, res, "Loader.LoadAsync")
	assert.Equal(t, result.MethodIgnore, loadAsync.Conversion)
	assert.True(t, loadAsync.IsAlreadyAsync)
}

func TestAnalyze_ConstructorsAreNotConverted(t *testing.T) {
	f := newFixture()
	f.class("Widget").Constructor().Body(memory.Stmt(f.callRead()))

	res := analyze(t, f.b.Build())
	ctor := res.Type("App.Widget").Methods[0]
	assert.Equal(t, result.MethodIgnore, ctor.Conversion)
	assert.Equal(t, "not an ordinary method", ctor.IgnoreReason)
}

// =============================================================================
// Classification
// =============================================================================

func TestAnalyze_SynchronouslyAwaitedTask(t *testing.T) {
	f := newFixture()
	client := f.b.ExternalType("Net.Client", "Net")
	fetch := f.b.ExternalMethod(client, "Fetch", memory.Returns(symbols.TaskOf(memory.String)))
	cls := f.class("Api")
	cls.Method("Get", memory.Returns(memory.String)).
		Body(memory.Return(memory.Member(f.b.CallOn(memory.Ident("c"), fetch), "Result")))
	cls.Method("GetResult", memory.Returns(memory.String)).
		Body(memory.Return(memory.Invoke(memory.Member(
			memory.Invoke(memory.Member(f.b.CallOn(memory.Ident("c"), fetch), "GetAwaiter")),
			"GetResult"))))
	cls.Method("Fire").Body(memory.Stmt(f.b.CallOn(memory.Ident("c"), fetch)))

	res := analyze(t, f.b.Build())

	for _, name := range []string{"Api.Get", "Api.GetResult"} {
		m := method(t, res, name)
		assert.Equal(t, result.MethodToAsync, m.Conversion, name)
		require.Len(t, m.References, 1)
		assert.True(t, m.References[0].SynchronouslyAwaited, name)
		assert.Equal(t, []string{"Net.Client.Fetch()"}, m.References[0].Counterparts, name)
	}

	fire := method(t, res, "Api.Fire")
	assert.Equal(t, result.MethodIgnore, fire.Conversion)
	require.Len(t, fire.References, 1)
	assert.False(t, fire.References[0].CanBeAwaited)
	assert.Equal(t, "external method without async counterpart", fire.References[0].IgnoreReason)
}

func TestAnalyze_InsideQueryIsIgnored(t *testing.T) {
	f := newFixture()
	f.class("Reports").Method("Build", memory.Returns(memory.String)).
		Body(memory.Return(memory.Query(f.callRead())))

	res := analyze(t, f.b.Build())
	m := method(t, res, "Reports.Build")
	assert.Equal(t, result.MethodIgnore, m.Conversion)
	require.Len(t, m.References, 1)
	assert.Equal(t, "invoked inside a query expression", m.References[0].IgnoreReason)
}

func TestAnalyze_AssignedMethodGroupIsIgnoredWithWarning(t *testing.T) {
	f := newFixture()
	f.class("Events").Method("Wire").
		Body(memory.Var("handler", f.b.MethodGroup(f.read)))

	logger, records := newRecordingLogger()
	res, err := analysis.NewAnalyzer(f.b.Build(), analysis.WithLogger(logger)).Analyze(context.Background())
	require.NoError(t, err)

	m := method(t, res, "Events.Wire")
	require.Len(t, m.References, 1)
	assert.True(t, m.References[0].Ignored)
	assert.Equal(t, "method reference assigned to a variable or event", m.References[0].IgnoreReason)
	assert.True(t, hasRecord(records(), slog.LevelWarn, "reference cannot be converted"))
}

func TestAnalyze_UnsupportedSyntaxIsFatal(t *testing.T) {
	f := newFixture()
	f.class("Odd").Method("Run").
		Body(memory.Stmt(memory.Raw(syntax.KindLiteral, f.b.MethodGroup(f.read))))

	_, err := analysis.NewAnalyzer(f.b.Build(),
		analysis.WithLogger(slog.New(slog.DiscardHandler)),
	).Analyze(context.Background())
	require.Error(t, err)

	var unsupported *analysis.UnsupportedSyntaxError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, syntax.KindLiteral, unsupported.Kind)
	assert.Equal(t, "App.Odd.Run()", unsupported.Function)

	var analysisErr *analysis.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "classification", analysisErr.Pass)
	assert.Len(t, analysisErr.Errors(), 1)
}

func TestAnalyze_Lambdas(t *testing.T) {
	t.Run("not an argument", func(t *testing.T) {
		f := newFixture()
		f.class("Jobs").Method("Run").
			Body(memory.Var("work", f.b.Lambda(memory.Stmt(f.callRead()))))

		res := analyze(t, f.b.Build())
		m := method(t, res, "Jobs.Run")
		require.Len(t, m.Functions, 1)
		assert.Equal(t, result.MethodIgnore, m.Functions[0].Conversion)
		assert.Equal(t, "anonymous function is not passed as an invocation argument", m.Functions[0].IgnoreReason)
	})

	t.Run("argument with async delegate overload", func(t *testing.T) {
		f := newFixture()
		util := f.b.ExternalType("Util.Retry", "Util", memory.StaticType())
		run := f.b.ExternalMethod(util, "Run", memory.Param("action", symbols.Action()), memory.Static())
		f.b.ExternalMethod(util, "RunAsync",
			memory.Param("action", symbols.Func(symbols.TaskOf(symbols.Void))),
			memory.Returns(symbols.TaskOf(symbols.Void)), memory.Static())
		f.class("Jobs").Method("Run").
			Body(memory.Stmt(f.b.CallOn(memory.Ident("Retry"), run, f.b.Lambda(memory.Stmt(f.callRead())))))

		res := analyze(t, f.b.Build())
		m := method(t, res, "Jobs.Run")
		assert.Equal(t, result.MethodToAsync, m.Conversion)
		require.Len(t, m.Functions, 1)
		assert.Equal(t, result.MethodToAsync, m.Functions[0].Conversion)
	})

	t.Run("argument of an ignored invocation", func(t *testing.T) {
		f := newFixture()
		util := f.b.ExternalType("Util.Retry", "Util", memory.StaticType())
		run := f.b.ExternalMethod(util, "Run", memory.Param("action", symbols.Action()), memory.Static())
		f.class("Jobs").Method("Run").
			Body(memory.Stmt(f.b.CallOn(memory.Ident("Retry"), run, f.b.Lambda(memory.Stmt(f.callRead())))))

		res := analyze(t, f.b.Build())
		m := method(t, res, "Jobs.Run")
		require.Len(t, m.Functions, 1)
		assert.Equal(t, result.MethodIgnore, m.Functions[0].Conversion)
		assert.Equal(t, "passed to an invocation that will not be converted", m.Functions[0].IgnoreReason)
	})
}

func TestAnalyze_ExternalMethodGroupArgumentWithoutCounterpart(t *testing.T) {
	f := newFixture()
	util := f.b.ExternalType("Util.Retry", "Util", memory.StaticType())
	run := f.b.ExternalMethod(util, "Run", memory.Param("action", symbols.Action()), memory.Static())
	f.b.ExternalMethod(util, "RunAsync",
		memory.Param("action", symbols.Func(symbols.TaskOf(symbols.Void))),
		memory.Returns(symbols.TaskOf(symbols.Void)), memory.Static())
	log := f.b.ExternalType("Util.Log", "Util", memory.StaticType())
	flush := f.b.ExternalMethod(log, "Flush", memory.Static())
	f.class("Jobs").Method("Run").
		Body(memory.Stmt(f.b.CallOn(memory.Ident("Retry"), run, f.b.MethodGroup(flush))))

	res := analyze(t, f.b.Build())
	m := method(t, res, "Jobs.Run")

	var group *result.Reference
	for i := range m.References {
		if m.References[i].Symbol == flush.Signature() {
			group = &m.References[i]
		}
	}
	require.NotNil(t, group)
	assert.True(t, group.PassedAsArgument)
	assert.Empty(t, group.Counterparts)
	assert.True(t, group.Ignored)
	assert.Equal(t, "external method without async counterpart", group.IgnoreReason)
}

func TestAnalyze_LocalFunction(t *testing.T) {
	f := newFixture()
	local := f.b.LocalFunction("Step", memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))
	f.class("Flow").Method("Run", memory.Returns(memory.String)).
		Body(local.Node, memory.Return(f.b.Call(local.Symbol)))

	res := analyze(t, f.b.Build())
	m := method(t, res, "Flow.Run")
	assert.Equal(t, result.MethodToAsync, m.Conversion)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, result.MethodToAsync, m.Functions[0].Conversion)
}

func TestAnalyze_LocalFunctionWithAsyncName(t *testing.T) {
	f := newFixture()
	local := f.b.LocalFunction("StepAsync", memory.Returns(memory.String)).
		Body(memory.Return(f.callRead()))
	f.class("Flow").Method("Run", memory.Returns(memory.String)).
		Body(local.Node, memory.Return(f.b.Call(local.Symbol)))

	res := analyze(t, f.b.Build())
	m := method(t, res, "Flow.Run")
	require.Len(t, m.Functions, 1)
	nested := m.Functions[0]
	assert.Equal(t, result.MethodIgnore, nested.Conversion)
	assert.Equal(t, "already async", nested.IgnoreReason)
	assert.True(t, nested.IsAlreadyAsync)
}

func TestAnalyze_InsideLock(t *testing.T) {
	f := newFixture()
	f.class("Cache").Method("Get", memory.Returns(memory.String)).
		Body(memory.Lock(memory.This(), memory.Return(f.callRead())))

	res := analyze(t, f.b.Build())
	m := method(t, res, "Cache.Get")
	assert.Equal(t, result.MethodToAsync, m.Conversion)
	require.Len(t, m.References, 1)
	assert.True(t, m.References[0].InsideLock)
	assert.Len(t, m.Locks, 1)
	assert.False(t, m.OmitAsync, "a lock keeps the state machine")
}

// =============================================================================
// Cancellation tokens
// =============================================================================

func tokenFixture(virtual bool) *fixture {
	b := memory.NewBuilder("App")
	file := b.ExternalType("System.IO.File", "mscorlib", memory.StaticType())
	f := &fixture{
		b:    b,
		file: file,
		read: b.ExternalMethod(file, "Read", memory.Returns(memory.String), memory.Static()),
	}
	b.ExternalMethod(file, "ReadAsync",
		memory.Param("token", symbols.CancellationToken),
		memory.Returns(symbols.TaskOf(memory.String)), memory.Static())

	opts := []memory.MethodOption{memory.Returns(memory.String)}
	if virtual {
		opts = append(opts, memory.Virtual())
	}
	cls := f.class("Reader")
	readFile := cls.Method("ReadFile", opts...).Body(memory.Return(f.callRead()))
	cls.Method("Load", memory.Returns(memory.String)).Body(memory.Return(b.Call(readFile.Symbol)))
	return f
}

func TestAnalyze_CancellationTokens(t *testing.T) {
	t.Run("disabled ignores token-only counterparts", func(t *testing.T) {
		f := tokenFixture(false)
		res := analyze(t, f.b.Build())
		assert.Equal(t, result.MethodIgnore, method(t, res, "Reader.ReadFile").Conversion)
	})

	t.Run("enabled propagates the token to callers", func(t *testing.T) {
		f := tokenFixture(false)
		res := analyze(t, f.b.Build(), analysis.WithCancellationTokens(true, true))

		readFile := method(t, res, "Reader.ReadFile")
		assert.Equal(t, result.MethodToAsync, readFile.Conversion)
		assert.Equal(t, result.TokenOptional, readFile.CancellationToken)
		assert.True(t, readFile.AddCancellationTokenGuards)
		require.Len(t, readFile.References, 1)
		assert.True(t, readFile.References[0].CancellationTokenRequired)

		load := method(t, res, "Reader.Load")
		assert.Equal(t, result.MethodToAsync, load.Conversion)
		assert.Equal(t, result.TokenOptional, load.CancellationToken)
		require.Len(t, load.References, 1)
		assert.True(t, load.References[0].CancellationTokenRequired)
	})

	t.Run("virtual methods require the token", func(t *testing.T) {
		f := tokenFixture(true)
		res := analyze(t, f.b.Build(), analysis.WithCancellationTokens(true, false))

		readFile := method(t, res, "Reader.ReadFile")
		assert.Equal(t, result.TokenRequired, readFile.CancellationToken)
		assert.False(t, readFile.AddCancellationTokenGuards)
	})
}

// =============================================================================
// Types, options and lifecycle
// =============================================================================

func TestAnalyze_TypeRollup(t *testing.T) {
	f := newFixture()
	f.class("Active").Method("Read", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))
	f.class("Idle").Method("Noop").Body(memory.Stmt(f.callWrite()))
	f.class("Generated").Method("Helper").Body(memory.Stmt(f.callWrite()))

	res := analyze(t, f.b.Build(),
		analysis.WithTypeConversion(func(t *symbols.Type) analysis.TypeConversion {
			if t.Name == "Generated" {
				return analysis.TypeNewType
			}
			return analysis.TypeUnknown
		}),
		analysis.WithMethodConversion(func(*symbols.Method) analysis.MethodConversion {
			return analysis.MethodSmart
		}),
	)

	assert.Equal(t, result.TypePartial, res.Type("App.Active").Conversion)
	assert.Equal(t, result.TypeIgnore, res.Type("App.Idle").Conversion)
	assert.Equal(t, result.TypeNewType, res.Type("App.Generated").Conversion)
	assert.Equal(t, result.MethodCopy, method(t, res, "Generated.Helper").Conversion)
	assert.Equal(t, 1, res.Stats.PartialTypes)
	assert.Equal(t, 1, res.Stats.CopiedMethods)
}

// allFunctions flattens every method and nested function of res.
func allFunctions(res *result.Result) []result.Function {
	var out []result.Function
	var walkFn func(fns []result.Function)
	walkFn = func(fns []result.Function) {
		for _, fn := range fns {
			out = append(out, fn)
			walkFn(fn.Functions)
		}
	}
	var walkType func(types []result.Type)
	walkType = func(types []result.Type) {
		for _, typ := range types {
			walkFn(typ.Methods)
			walkType(typ.NestedTypes)
		}
	}
	for _, doc := range res.Documents {
		for _, ns := range doc.Namespaces {
			walkType(ns.Types)
		}
	}
	return out
}

func TestAnalyze_VerdictHistory(t *testing.T) {
	assertSingleTransition := func(t *testing.T, res *result.Result) {
		t.Helper()
		fns := allFunctions(res)
		require.NotEmpty(t, fns)
		for _, fn := range fns {
			require.NotEmpty(t, fn.History, "%s has no verdict", fn.Signature)
			assert.LessOrEqual(t, len(fn.History), 2, "%s history %v", fn.Signature, fn.History)
			assert.Equal(t, fn.Conversion, fn.History[len(fn.History)-1])
		}
	}

	t.Run("smart member of a new type becomes copy", func(t *testing.T) {
		f := newFixture()
		f.class("Generated").Method("Helper").Body(memory.Stmt(f.callWrite()))

		res := analyze(t, f.b.Build(),
			analysis.WithTypeConversion(func(*symbols.Type) analysis.TypeConversion {
				return analysis.TypeNewType
			}),
			analysis.WithMethodConversion(func(*symbols.Method) analysis.MethodConversion {
				return analysis.MethodSmart
			}),
		)

		assertSingleTransition(t, res)
		helper := method(t, res, "Generated.Helper")
		assert.Equal(t, []string{result.MethodSmart, result.MethodCopy}, helper.History)
	})

	t.Run("lambda ignored during classification stays ignored", func(t *testing.T) {
		f := newFixture()
		util := f.b.ExternalType("Util.Retry", "Util", memory.StaticType())
		run := f.b.ExternalMethod(util, "Run", memory.Param("action", symbols.Action()), memory.Static())
		f.class("Jobs").Method("Run").
			Body(memory.Stmt(f.b.CallOn(memory.Ident("Retry"), run, f.b.Lambda(memory.Stmt(f.callRead())))))

		res := analyze(t, f.b.Build())

		assertSingleTransition(t, res)
		m := method(t, res, "Jobs.Run")
		require.Len(t, m.Functions, 1)
		assert.Equal(t, []string{result.MethodUnknown, result.MethodIgnore}, m.Functions[0].History)
	})

	t.Run("explicit verdict is never revised", func(t *testing.T) {
		f := newFixture()
		cls := f.class("Reader")
		readFile := cls.Method("ReadFile", memory.Returns(memory.String)).
			Body(memory.Return(memory.Literal(`"x"`)))
		cls.Method("CallReadFile", memory.Returns(memory.String)).
			Body(memory.Return(f.b.Call(readFile.Symbol)))

		res := analyze(t, f.b.Build(), policyByName(map[string]analysis.MethodConversion{
			"ReadFile": analysis.MethodToAsync,
		}))

		assertSingleTransition(t, res)
		assert.Equal(t, []string{result.MethodToAsync}, method(t, res, "Reader.ReadFile").History)
		assert.Equal(t, []string{result.MethodUnknown, result.MethodToAsync},
			method(t, res, "Reader.CallReadFile").History)
	})
}

func TestAnalyze_IgnoredTypeIgnoresMembers(t *testing.T) {
	f := newFixture()
	f.class("Legacy").Method("Read", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), analysis.WithTypeConversion(func(*symbols.Type) analysis.TypeConversion {
		return analysis.TypeIgnore
	}))
	m := method(t, res, "Legacy.Read")
	assert.Equal(t, result.MethodIgnore, m.Conversion)
	assert.Equal(t, "containing type is ignored", m.IgnoreReason)
}

func TestAnalyze_EmptyConversionSetIsValid(t *testing.T) {
	f := newFixture()
	f.class("Plain").Method("Log").Body(memory.Stmt(f.callWrite()))

	res := analyze(t, f.b.Build())
	assert.Equal(t, 0, res.Stats.ToAsyncMethods)
	assert.Equal(t, 1, res.Stats.Methods)
	assert.NotEmpty(t, res.ID)
}

func TestAnalyze_DocumentSelector(t *testing.T) {
	f := newFixture()
	f.class("Kept").Method("Read", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))
	f.class("Skipped").Method("Read", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), analysis.WithDocumentSelector(func(doc *symbols.Document) bool {
		return doc.Path != "Skipped.cs"
	}))
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Kept.cs", res.Documents[0].Path)
	assert.Nil(t, res.Type("App.Skipped"))
}

func TestAnalyze_InvocationAnalyzers(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), analysis.WithInvocationAnalyzers(
		analysis.InvocationAnalyzerFunc(func(ref *analysis.InvocationReference) string {
			if ref.Symbol.Name == "Read" {
				return "blocked by test"
			}
			return ""
		}),
	))
	m := method(t, res, "Reader.ReadFile")
	assert.Equal(t, result.MethodIgnore, m.Conversion)
	assert.Equal(t, "blocked by test", m.References[0].IgnoreReason)
}

func TestAnalyze_ScanMethodBodyDisabled(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).
		Body(memory.Stmt(f.callWrite()), memory.Return(f.callRead()))

	res := analyze(t, f.b.Build(), analysis.WithScanMethodBody(false))
	m := method(t, res, "Reader.ReadFile")
	require.Len(t, m.References, 1, "only references with a counterpart are kept")
	assert.Equal(t, "System.IO.File.Read()", m.References[0].Symbol)
}

func TestAnalyze_FinderInitializationError(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	_, err := analysis.NewAnalyzer(f.b.Build(),
		analysis.WithLogger(slog.New(slog.DiscardHandler)),
		analysis.WithFinders(counterpart.NewSuffixFinder(), counterpart.NewExtensionFinder("Missing.Extensions")),
	).Analyze(context.Background())

	var initErr *counterpart.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "Missing.Extensions", initErr.TypeName)
}

func TestAnalyze_OnAnalyzationCompletedCalledOnce(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	var calls []*result.Result
	res := analyze(t, f.b.Build(), analysis.WithOnAnalyzationCompleted(func(r *result.Result) {
		calls = append(calls, r)
	}))
	require.Len(t, calls, 1)
	assert.Same(t, res, calls[0])
}

func TestAnalyze_Cancelled(t *testing.T) {
	f := newFixture()
	f.class("Reader").Method("ReadFile", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := analysis.NewAnalyzer(f.b.Build(),
		analysis.WithLogger(slog.New(slog.DiscardHandler)),
		analysis.WithOnAnalyzationCompleted(func(*result.Result) { called = true }),
	).Analyze(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, called)
}

func TestAnalyze_ConcurrentDocuments(t *testing.T) {
	const documents = 24
	f := newFixture()
	var readers []*symbols.Method
	for i := 0; i < documents; i++ {
		cls := f.class(fmt.Sprintf("Reader%02d", i))
		read := cls.Method("Read", memory.Returns(memory.String)).Body(memory.Return(f.callRead()))
		readers = append(readers, read.Symbol)
	}
	// One caller per reader, in the next document, so reverse references
	// cross document boundaries.
	for i := 0; i < documents; i++ {
		f.class(fmt.Sprintf("Caller%02d", i)).Method("Call", memory.Returns(memory.String)).
			Body(memory.Return(f.b.Call(readers[i])))
	}
	prog := f.b.Build()

	var wg sync.WaitGroup
	results := make([]*result.Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = analysis.NewAnalyzer(prog,
				analysis.WithLogger(slog.New(slog.DiscardHandler)),
				analysis.WithConcurrency(8),
			).Analyze(context.Background())
		}()
	}
	wg.Wait()

	for i, res := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 2*documents, res.Stats.ToAsyncMethods)
		assert.Equal(t, 2*documents, res.Stats.Documents)
	}
}
