// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
)

func newManager(t *testing.T) (*SnapshotManager, *badger.DB) {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := NewSnapshotManager(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return m, db
}

func snapshot(id, conversion string) *result.Result {
	return &result.Result{
		ID:       id,
		Assembly: "App",
		Documents: []result.Document{{
			Path: "Reader.cs",
			Namespaces: []result.Namespace{{
				Name: "App",
				Types: []result.Type{{
					Name:       "Reader",
					FullName:   "App.Reader",
					Conversion: result.TypePartial,
					Methods: []result.Method{{
						ID:         "M:App.Reader.Read()",
						Signature:  "App.Reader.Read()",
						Conversion: conversion,
						Document:   "Reader.cs",
					}},
				}},
			}},
		}},
		Stats: result.Stats{Documents: 1, Types: 1, Methods: 1, ToAsyncMethods: 1},
	}
}

func TestNewSnapshotManager_Validation(t *testing.T) {
	_, err := NewSnapshotManager(nil, slog.Default())
	assert.Error(t, err)

	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSnapshotManager(db, nil)
	assert.Error(t, err)
}

func TestSnapshotManager_SaveLoad(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	r := snapshot("run-1", result.MethodToAsync)

	meta, err := m.Save(ctx, "/src/app", r, "baseline")
	require.NoError(t, err)
	assert.Equal(t, "run-1", meta.SnapshotID)
	assert.Equal(t, ProjectHash("/src/app"), meta.ProjectHash)
	assert.Equal(t, "baseline", meta.Label)
	assert.Equal(t, SchemaVersion, meta.SchemaVersion)
	assert.Equal(t, 1, meta.ToAsyncMethods)
	assert.Positive(t, meta.CompressedSize)
	assert.Len(t, meta.ContentHash, 64)

	got, gotMeta, err := m.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, r.Documents, got.Documents)
	assert.Equal(t, r.Stats, got.Stats)
	assert.Equal(t, meta.ContentHash, gotMeta.ContentHash)

	_, _, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, _, err = m.Load(ctx, "")
	assert.Error(t, err)
}

func TestSnapshotManager_SaveValidation(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Save(context.Background(), "/src/app", nil, "")
	assert.ErrorIs(t, err, result.ErrNilResult)

	_, err = m.Save(context.Background(), "/src/app", snapshot("", result.MethodToAsync), "")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Save(ctx, "/src/app", snapshot("run-1", result.MethodToAsync), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotManager_LatestListDelete(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, _, err := m.LoadLatest(ctx, "/src/app")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	for _, id := range []string{"run-1", "run-2"} {
		_, err := m.Save(ctx, "/src/app", snapshot(id, result.MethodToAsync), "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err = m.Save(ctx, "/src/other", snapshot("run-3", result.MethodToAsync), "")
	require.NoError(t, err)

	latest, _, err := m.LoadLatest(ctx, "/src/app")
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)

	list, err := m.List(ctx, "/src/app", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].SnapshotID, "newest first")

	all, err := m.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := m.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, m.Delete(ctx, "run-2"))
	_, _, err = m.Load(ctx, "run-2")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, _, err = m.LoadLatest(ctx, "/src/app")
	assert.ErrorIs(t, err, ErrSnapshotNotFound, "deleting the latest snapshot drops the pointer")

	require.NoError(t, m.Delete(ctx, "run-1"))
	latest, _, err = m.LoadLatest(ctx, "/src/other")
	require.NoError(t, err)
	assert.Equal(t, "run-3", latest.ID)

	assert.ErrorIs(t, m.Delete(ctx, "run-1"), ErrSnapshotNotFound)
}

func TestSnapshotManager_Diff(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.Save(ctx, "/src/app", snapshot("before", result.MethodIgnore), "")
	require.NoError(t, err)
	_, err = m.Save(ctx, "/src/app", snapshot("after", result.MethodToAsync), "")
	require.NoError(t, err)

	diff, err := m.Diff(ctx, "before", "after")
	require.NoError(t, err)
	require.Len(t, diff.MethodsChanged, 1)
	assert.Equal(t, "conversion_changed", diff.MethodsChanged[0].ChangeType)

	_, err = m.Diff(ctx, "before", "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotManager_IntegrityCheck(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()
	_, err := m.Save(ctx, "/src/app", snapshot("run-1", result.MethodToAsync), "")
	require.NoError(t, err)

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey(ProjectHash("/src/app"), "run-1"), []byte("tampered"))
	}))
	_, _, err = m.Load(ctx, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity check failed")
}

func TestProjectHash(t *testing.T) {
	assert.Len(t, ProjectHash("/src/app"), 16)
	assert.Equal(t, ProjectHash("/src/app"), ProjectHash("/src/app"))
	assert.NotEqual(t, ProjectHash("/src/app"), ProjectHash("/src/other"))
	assert.True(t, isMetaKey("asyncgen:snap:abc:run:meta"))
	assert.False(t, isMetaKey("asyncgen:snap:abc:latest"))
}
