// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/asyncgen/services/asyncgen"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

const readerSource = `using System.IO;

namespace App
{
    class Reader
    {
        string Read(StreamReader reader)
        {
            return reader.ReadToEnd();
        }
    }
}
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Reader.cs"), []byte(readerSource), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(append(args, "--log-format", "json", "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, slog.LevelInfo, "json")
		require.NoError(t, err)
		logger.Debug("hidden")
		logger.Info("shown", slog.String("k", "v"))

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "shown", rec["msg"])
		assert.Equal(t, "v", rec["k"])
	})

	t.Run("auto falls back to json off a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, slog.LevelInfo, "auto")
		require.NoError(t, err)
		logger.Info("hello")
		assert.True(t, json.Valid(buf.Bytes()))
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, slog.LevelInfo, "text")
		require.NoError(t, err)
		logger.Info("hello", slog.Int("n", 3))
		assert.Contains(t, buf.String(), "hello")
		assert.Contains(t, buf.String(), "n=3")
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := newLogger(&bytes.Buffer{}, slog.LevelInfo, "xml")
		assert.Error(t, err)
	})
}

func TestRelevantChange(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"source write", fsnotify.Event{Name: "/p/A.cs", Op: fsnotify.Write}, true},
		{"source create", fsnotify.Event{Name: "/p/sub/B.cs", Op: fsnotify.Create}, true},
		{"config", fsnotify.Event{Name: "/p/asyncgen.yaml", Op: fsnotify.Write}, true},
		{"chmod only", fsnotify.Event{Name: "/p/A.cs", Op: fsnotify.Chmod}, false},
		{"other file", fsnotify.Event{Name: "/p/README.md", Op: fsnotify.Write}, false},
		{"removed source", fsnotify.Event{Name: "/p/A.cs", Op: fsnotify.Remove}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevantChange(tt.ev))
		})
	}
}

func TestWatchProject(t *testing.T) {
	dir := writeProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchProject(ctx, dir, 10*time.Millisecond, slog.New(slog.DiscardHandler), func(context.Context) error {
			runs.Add(1)
			return errors.New("ignored")
		})
	}()

	path := filepath.Join(dir, "Reader.cs")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(readerSource+"\n"), 0o644)
		return runs.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchProject did not return after cancel")
	}
}

func TestSetupTelemetry_UnknownExporter(t *testing.T) {
	shutdown, err := setupTracing(context.Background(), "zipkin", "", &bytes.Buffer{})
	assert.Error(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = setupMetrics("statsd", &bytes.Buffer{})
	assert.Error(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTelemetry_Disabled(t *testing.T) {
	shutdown, err := setupTracing(context.Background(), traceNone, "", &bytes.Buffer{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = setupMetrics(metricsNone, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestShutdownAll(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	err := shutdownAll(context.Background(),
		func(context.Context) error { return errA },
		noopShutdown,
		func(context.Context) error { return errB },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	assert.NoError(t, shutdownAll(context.Background(), noopShutdown))
}

func TestAnalyzeCommand_SaveCreatesStore(t *testing.T) {
	dir := writeProject(t)
	stdout, _, err := execute(t, "analyze", dir, "--save", "--json")
	require.NoError(t, err)
	require.NotEmpty(t, stdout)

	_, statErr := os.Stat(filepath.Join(dir, ".asyncgen", "snapshots"))
	assert.NoError(t, statErr)
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	dir := writeProject(t)
	stdout, _, err := execute(t, "analyze", dir, "--json")
	require.NoError(t, err)

	var res result.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, filepath.Base(dir), res.Assembly)
	m := res.Method("Reader.Read")
	require.NotNil(t, m)
	assert.Equal(t, result.MethodToAsync, m.Conversion)
}

func TestAnalyzeCommand_Report(t *testing.T) {
	dir := writeProject(t)
	stdout, _, err := execute(t, "analyze", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "App.Reader")
	assert.Contains(t, stdout, "to_async: 1")
}

func TestAnalyzeCommand_NoSources(t *testing.T) {
	_, _, err := execute(t, "analyze", t.TempDir())
	assert.Error(t, err)
}

func TestSnapshotsCommands(t *testing.T) {
	dir := writeProject(t)

	_, _, err := execute(t, "analyze", dir, "--save", "--label", "first")
	require.NoError(t, err)
	_, _, err = execute(t, "analyze", dir, "--save", "--label", "second")
	require.NoError(t, err)

	stdout, _, err := execute(t, "snapshots", "list", "--root", dir, "--json")
	require.NoError(t, err)
	var snaps []store.SnapshotMetadata
	require.NoError(t, json.Unmarshal([]byte(stdout), &snaps))
	require.Len(t, snaps, 2)
	byLabel := map[string]string{}
	for _, s := range snaps {
		byLabel[s.Label] = s.SnapshotID
	}
	first, second := byLabel["first"], byLabel["second"]
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)

	stdout, _, err = execute(t, "snapshots", "list", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, first)
	assert.Contains(t, stdout, second)

	stdout, _, err = execute(t, "snapshots", "show", "latest", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, second)

	stdout, _, err = execute(t, "snapshots", "diff", first, second, "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No differences")

	stdout, _, err = execute(t, "snapshots", "delete", first, "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted snapshot")

	_, _, err = execute(t, "snapshots", "show", first, "--root", dir)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(asyncgen.NewService(asyncgen.DefaultServiceConfig()), false)

	for _, path := range []string{"/v1/asyncgen/health", "/metrics"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestWriteSnapshotTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSnapshotTable(&buf, nil))
	assert.Equal(t, "No snapshots.\n", buf.String())

	buf.Reset()
	require.NoError(t, writeSnapshotTable(&buf, []*store.SnapshotMetadata{{
		SnapshotID:     "run-1",
		Assembly:       "App",
		CreatedAtMilli: time.Now().UnixMilli(),
		Methods:        3,
		ToAsyncMethods: 2,
		CompressedSize: 2048,
		Label:          "baseline",
	}}))
	out := buf.String()
	assert.Contains(t, out, "SIZE")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "baseline")
}
