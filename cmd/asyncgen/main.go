// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command asyncgen analyzes C# projects and reports which methods must be
// converted to async, and why.
//
// Usage:
//
//	asyncgen analyze ./MyProject
//	asyncgen analyze ./MyProject --save --label before-refactor
//	asyncgen analyze ./MyProject --json > result.json
//	asyncgen analyze ./MyProject --watch
//	asyncgen snapshots list --root ./MyProject
//	asyncgen snapshots diff <base-id> <target-id> --root ./MyProject
//	asyncgen serve --port 8080 --store ./snapshots
//
// Configuration is read from <project>/asyncgen.yaml when present.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

// globalOptions hold the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "asyncgen",
		Short:         "Find the methods of a C# project that must become async",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(g.logLevel)
			if err != nil {
				return err
			}
			logger, err := newLogger(stderr, level, g.logFormat)
			if err != nil {
				return err
			}
			g.logger = logger
			slog.SetDefault(logger)
			cmd.SetContext(slogctx.NewCtx(cmd.Context(), logger))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "auto", "log format: auto, text, json")

	root.AddCommand(
		newAnalyzeCommand(g),
		newSnapshotsCommand(g),
		newServeCommand(g),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
