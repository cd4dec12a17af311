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
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/asyncgen/services/asyncgen"
	"github.com/AleutianAI/asyncgen/services/asyncgen/config"
	"github.com/AleutianAI/asyncgen/services/asyncgen/result"
	"github.com/AleutianAI/asyncgen/services/asyncgen/store"
)

type snapshotsOptions struct {
	root  string
	json  bool
	limit int
	all   bool
}

func newSnapshotsCommand(g *globalOptions) *cobra.Command {
	o := &snapshotsOptions{}
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List, show, compare and delete stored analysis results",
	}
	cmd.PersistentFlags().StringVar(&o.root, "root", ".", "project root whose asyncgen.yaml locates the store")
	cmd.PersistentFlags().BoolVar(&o.json, "json", false, "print JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(g, o, func(svc *asyncgen.Service, root string) error {
				filter := root
				if o.all {
					filter = ""
				}
				snaps, err := svc.ListSnapshots(cmd.Context(), filter, o.limit)
				if err != nil {
					return err
				}
				if o.json {
					return writeJSON(cmd.OutOrStdout(), snaps)
				}
				return writeSnapshotTable(cmd.OutOrStdout(), snaps)
			})
		},
	}
	list.Flags().IntVar(&o.limit, "limit", 20, "maximum number of snapshots")
	list.Flags().BoolVar(&o.all, "all", false, "list the snapshots of every project in the store")

	show := &cobra.Command{
		Use:   "show <snapshot-id|latest>",
		Short: "Print the report of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(g, o, func(svc *asyncgen.Service, root string) error {
				res, _, err := svc.Snapshot(cmd.Context(), args[0], root)
				if err != nil {
					return err
				}
				if o.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return result.WriteReport(cmd.OutOrStdout(), res)
			})
		},
	}

	diff := &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare the verdicts of two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(g, o, func(svc *asyncgen.Service, _ string) error {
				d, err := svc.DiffSnapshots(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if o.json {
					return writeJSON(cmd.OutOrStdout(), d)
				}
				return writeDiff(cmd.OutOrStdout(), d)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(g, o, func(svc *asyncgen.Service, _ string) error {
				if err := svc.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", args[0])
				return err
			})
		},
	}

	cmd.AddCommand(list, show, diff, del)
	return cmd
}

// withService opens the project's store for the duration of fn.
func withService(g *globalOptions, o *snapshotsOptions, fn func(svc *asyncgen.Service, root string) error) error {
	root, err := filepath.Abs(o.root)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	mgr, closeStore, err := openStore(storeDir(root, cfg), g.logger)
	if err != nil {
		return err
	}
	defer closeStore()
	svc := asyncgen.NewService(asyncgen.DefaultServiceConfig(),
		asyncgen.WithLogger(g.logger),
		asyncgen.WithSnapshotManager(mgr),
	)
	return fn(svc, root)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func writeSnapshotTable(w io.Writer, snaps []*store.SnapshotMetadata) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "ASSEMBLY", "METHODS", "TO ASYNC", "SIZE", "LABEL").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, s := range snaps {
		t.Row(
			s.SnapshotID,
			time.UnixMilli(s.CreatedAtMilli).Local().Format("2006-01-02 15:04:05"),
			s.Assembly,
			strconv.Itoa(s.Methods),
			strconv.Itoa(s.ToAsyncMethods),
			humanize.Bytes(uint64(max(s.CompressedSize, 0))),
			s.Label,
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func writeDiff(w io.Writer, d *result.Diff) error {
	if d.Empty() {
		_, err := fmt.Fprintf(w, "No differences between %s and %s.\n", d.BaseID, d.TargetID)
		return err
	}
	if _, err := fmt.Fprintf(w, "%s -> %s: %d change(s), %.1f%% of methods\n",
		d.BaseID, d.TargetID, d.Summary.TotalChanges, d.Summary.ChangeRatio*100); err != nil {
		return err
	}
	for _, id := range d.MethodsAdded {
		fmt.Fprintf(w, "  + %s\n", id)
	}
	for _, id := range d.MethodsRemoved {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	for _, c := range d.MethodsChanged {
		fmt.Fprintf(w, "  ~ %s: %s -> %s (%s)\n", c.Signature, c.Before, c.After, c.ChangeType)
	}
	for _, c := range d.TypesChanged {
		fmt.Fprintf(w, "  ~ %s: %s -> %s\n", c.FullName, c.Before, c.After)
	}
	return nil
}
