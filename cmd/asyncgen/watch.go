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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/asyncgen/services/asyncgen/config"
	"github.com/AleutianAI/asyncgen/services/asyncgen/frontend/csharp"
)

// defaultDebounce groups the burst of events an editor save produces.
const defaultDebounce = 300 * time.Millisecond

// watchProject calls run once per settled batch of changes to .cs files or
// asyncgen.yaml under root, until ctx is done.
//
// Description:
//
//	fsnotify does not recurse, so every directory under root is added, and
//	directories created later are added when their create event arrives.
//	Dot-directories are skipped like the loader skips them. Errors from run
//	are logged and watching continues.
func watchProject(ctx context.Context, root string, debounce time.Duration, logger *slog.Logger, run func(context.Context) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, root); err != nil {
		return err
	}
	logger.Info("watching for changes", slog.String("root", root))

	// settle fires once no relevant event arrived for debounce. A nil
	// channel never fires.
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if err := addTree(w, ev.Name); err != nil {
					logger.Debug("not watching new path", slog.String("path", ev.Name), slog.Any("error", err))
				}
			}
			if !relevantChange(ev) {
				continue
			}
			logger.Debug("change detected", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			settle = time.After(debounce)

		case <-settle:
			settle = nil
			if err := run(ctx); err != nil {
				logger.Error("analysis failed", slog.Any("error", err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// addTree adds path and, when it is a directory, every directory below it.
func addTree(w *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func relevantChange(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Base(ev.Name)
	return filepath.Ext(name) == csharp.Extension || name == config.FileName
}
