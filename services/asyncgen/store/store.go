// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists analysis results in BadgerDB.
package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
)

// SchemaVersion is the version of the stored result encoding.
const SchemaVersion = "1"

// BadgerDB key layout.
const (
	keyPrefixSnap      = "asyncgen:snap:"
	keyPrefixSnapIndex = "asyncgen:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// ErrSnapshotNotFound is returned when no snapshot has the requested ID.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes a stored result.
type SnapshotMetadata struct {
	// SnapshotID is the result ID.
	SnapshotID string `json:"snapshot_id"`

	// ProjectRoot is the analyzed project directory.
	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16], used for key grouping.
	ProjectHash string `json:"project_hash"`

	Assembly string `json:"assembly"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	Methods        int `json:"methods"`
	ToAsyncMethods int `json:"to_async_methods"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager saves and loads results.
//
// Description:
//
//	Results are stored as gzip-compressed JSON together with metadata for
//	listing. Each project keeps a pointer to its latest snapshot.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens a BadgerDB at dir, or an in-memory database when dir is empty.
// The caller closes the returned database.
func Open(dir string) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return db, nil
}

// NewSnapshotManager creates a manager over an opened database.
//
// Outputs:
//
//	*SnapshotManager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a result.
//
// Key Schema:
//
//	asyncgen:snap:{projectHash}:{snapshotID}:data → gzip(JSON(result.Result))
//	asyncgen:snap:{projectHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	asyncgen:snap:{projectHash}:latest            → snapshotID
//	asyncgen:snap:index:{snapshotID}              → projectHash
func (m *SnapshotManager) Save(ctx context.Context, projectRoot string, r *result.Result, label string) (*SnapshotMetadata, error) {
	if r == nil {
		return nil, result.ErrNilResult
	}
	if r.ID == "" {
		return nil, fmt.Errorf("result ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing result: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	payload := compressed.Bytes()

	projectHash := ProjectHash(projectRoot)
	meta := &SnapshotMetadata{
		SnapshotID:     r.ID,
		ProjectRoot:    projectRoot,
		ProjectHash:    projectHash,
		Assembly:       r.Assembly,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		Methods:        r.Stats.Methods,
		ToAsyncMethods: r.Stats.ToAsyncMethods,
		SchemaVersion:  SchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(projectHash, r.ID), payload); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(projectHash, r.ID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(latestKey(projectHash), []byte(r.ID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set(indexKey(r.ID), []byte(projectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", r.ID),
		slog.String("project_root", projectRoot),
		slog.Int("methods", meta.Methods),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load returns the result stored under snapshotID.
//
// Errors:
//
//	ErrSnapshotNotFound - No snapshot has the ID.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*result.Result, *SnapshotMetadata, error) {
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return nil, nil, err
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// LoadLatest returns the most recent result of a project.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectRoot string) (*result.Result, *SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	projectHash := ProjectHash(projectRoot)
	var snapshotID string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(projectHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("no snapshot for %s: %w", projectRoot, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectRoot, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// List returns snapshot metadata, newest first. An empty projectRoot lists
// every project. A limit <= 0 defaults to 100.
func (m *SnapshotManager) List(ctx context.Context, projectRoot string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	prefix := keyPrefixSnap
	if projectRoot != "" {
		prefix = keyPrefixSnap + ProjectHash(projectRoot) + ":"
	}

	results := []*SnapshotMetadata{}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}
			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. The project's latest pointer is removed when
// it pointed at the snapshot.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{dataKey(projectHash, snapshotID), metaKey(projectHash, snapshotID), indexKey(snapshotID)} {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		item, err := txn.Get(latestKey(projectHash))
		if err != nil {
			return nil
		}
		var current string
		_ = item.Value(func(val []byte) error {
			current = string(val)
			return nil
		})
		if current == snapshotID {
			if err := txn.Delete(latestKey(projectHash)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// Diff loads two snapshots and compares them.
func (m *SnapshotManager) Diff(ctx context.Context, baseID, targetID string) (*result.Diff, error) {
	base, _, err := m.Load(ctx, baseID)
	if err != nil {
		return nil, err
	}
	target, _, err := m.Load(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return result.Compare(base, target)
}

func (m *SnapshotManager) loadByKeys(projectHash, snapshotID string) (*result.Result, *SnapshotMetadata, error) {
	var payload, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(projectHash, snapshotID))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, err)
		}
		if payload, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}
		item, err = txn.Get(metaKey(projectHash, snapshotID))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, err)
		}
		if metaJSON, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", snapshotID, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(payload); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	var r result.Result
	if err := json.Unmarshal(jsonData, &r); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling result for %s: %w", snapshotID, err)
	}
	return &r, &meta, nil
}

func (m *SnapshotManager) projectHashOf(snapshotID string) (string, error) {
	var projectHash string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			projectHash = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%s: %w", snapshotID, ErrSnapshotNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return projectHash, nil
}

// ProjectHash returns SHA256(projectRoot)[:16] for use as a key prefix.
func ProjectHash(projectRoot string) string {
	h := sha256.Sum256([]byte(projectRoot))
	return hex.EncodeToString(h[:])[:16]
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func dataKey(projectHash, id string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + id + keySuffixData)
}

func metaKey(projectHash, id string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + id + keySuffixMeta)
}

func latestKey(projectHash string) []byte {
	return []byte(keyPrefixSnap + projectHash + keySuffixLatest)
}

func indexKey(id string) []byte {
	return []byte(keyPrefixSnapIndex + id)
}

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}
