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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/asyncgen/services/asyncgen"
	"github.com/AleutianAI/asyncgen/services/asyncgen/config"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

type analyzeOptions struct {
	json         bool
	save         bool
	label        string
	ignored      bool
	references   bool
	watch        bool
	debounce     time.Duration
	trace        string
	otlpEndpoint string
	metrics      string
}

func newAnalyzeCommand(g *globalOptions) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [project-root]",
		Short: "Analyze a C# project and print the conversion report",
		Long: `Analyze parses every .cs file under the project root, runs the async
conversion analysis and prints which methods must become async.

The project's asyncgen.yaml, when present, selects sources, conversion
policies, counterpart finders and the snapshot store location.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runAnalyze(cmd, g, o, root)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.json, "json", false, "print the full result as JSON")
	f.BoolVar(&o.save, "save", false, "store the result as a snapshot")
	f.StringVar(&o.label, "label", "", "snapshot label, used with --save")
	f.BoolVar(&o.ignored, "ignored", false, "include ignored methods in the report")
	f.BoolVar(&o.references, "references", false, "include converted references in the report")
	f.BoolVar(&o.watch, "watch", false, "re-run the analysis when sources or asyncgen.yaml change")
	f.DurationVar(&o.debounce, "debounce", defaultDebounce, "quiet period before a watched change triggers a run")
	f.StringVar(&o.trace, "trace", "", "export spans: stdout or otlp")
	f.StringVar(&o.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port, used with --trace=otlp")
	f.StringVar(&o.metrics, "metrics", "", "export metrics: stdout")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalOptions, o *analyzeOptions, root string) error {
	ctx := cmd.Context()
	logger := g.logger

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(ctx, o.trace, o.otlpEndpoint, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	shutdownMetrics, err := setupMetrics(o.metrics, cmd.ErrOrStderr())
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}
	defer func() {
		if err := shutdownAll(context.Background(), shutdownTracing, shutdownMetrics); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	svcCfg := asyncgen.DefaultServiceConfig()
	svcCfg.AnalyzeTimeout = 0
	opts := []asyncgen.ServiceOption{asyncgen.WithLogger(logger)}
	if o.save {
		mgr, closeStore, err := openStore(storeDir(root, cfg), logger)
		if err != nil {
			return err
		}
		defer closeStore()
		opts = append(opts, asyncgen.WithSnapshotManager(mgr))
	}
	svc := asyncgen.NewService(svcCfg, opts...)

	run := func(ctx context.Context) error {
		// Reloaded per run so --watch picks up edits to asyncgen.yaml.
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}
		out, err := svc.Analyze(ctx, asyncgen.AnalyzeRequest{
			ProjectRoot: root,
			Save:        o.save,
			Label:       o.label,
			Config:      cfg,
		})
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), out, o)
	}

	if !o.watch {
		return run(ctx)
	}
	if err := run(ctx); err != nil {
		logger.Error("analysis failed", slog.Any("error", err))
	}
	return watchProject(ctx, root, o.debounce, logger, run)
}

func printOutcome(w io.Writer, out *asyncgen.AnalyzeOutcome, o *analyzeOptions) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Result)
	}
	if err := result.WriteReport(w, out.Result,
		result.WithIgnored(o.ignored),
		result.WithReferences(o.references),
	); err != nil {
		return err
	}
	if out.Snapshot != nil {
		_, err := fmt.Fprintf(w, "\nSaved snapshot %s\n", out.Snapshot.SnapshotID)
		return err
	}
	return nil
}

// storeDir resolves the configured store path against the project root.
func storeDir(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Store.Path) {
		return cfg.Store.Path
	}
	return filepath.Join(root, cfg.Store.Path)
}

// openStore opens the BadgerDB snapshot store at dir.
func openStore(dir string, logger *slog.Logger) (*store.SnapshotManager, func(), error) {
	db, err := store.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := store.NewSnapshotManager(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing snapshot store failed", slog.Any("error", err))
		}
	}
	return mgr, closeFn, nil
}
