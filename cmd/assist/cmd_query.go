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
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/assist/workflows"
)

// withApp loads configuration, wires the app, runs fn, and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	if _, err := persona.Parse(askPersona); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(args, " "))
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.service.Ask(ctx, askPersona, query, nil)
		if err != nil {
			return err
		}
		return printAskResult(cmd.OutOrStdout(), result)
	})
}

func runConsultCommand(cmd *cobra.Command, args []string) error {
	for _, name := range consultPersonas {
		if _, err := persona.Parse(name); err != nil {
			return err
		}
	}
	query := strings.TrimSpace(strings.Join(args, " "))
	return withApp(cmd, func(ctx context.Context, a *app) error {
		names := consultPersonas
		if len(names) == 0 {
			names = a.cfg.Consult.DefaultPersonas
		}
		results := a.service.Consult(ctx, query, names, nil)
		out := cmd.OutOrStdout()
		printConsultResults(out, results)

		if !consultSynthesis {
			return nil
		}
		run, err := a.service.Coordinator().Synthesize(ctx, query, results, nil)
		if err != nil {
			return fmt.Errorf("synthesis: %w", err)
		}
		fmt.Fprintf(out, "\n== Synthesis ==\n%s\n", run.FinalAnswer)
		return nil
	})
}

func runReviewCommand(cmd *cobra.Command, _ []string) error {
	record, err := readRecord(cmd.InOrStdin(), reviewFile)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		return writeJSON(cmd.OutOrStdout(), a.service.ReviewCard(ctx, record))
	})
}

// runPersonasCommand needs no wiring; it reads the embedded catalog.
func runPersonasCommand(cmd *cobra.Command, _ []string) error {
	catalog, err := persona.DefaultCatalog()
	if err != nil {
		return err
	}
	return printPersonas(cmd.OutOrStdout(), catalog)
}

// readRecord decodes an equipment record from path, or from stdin for "-".
func readRecord(stdin io.Reader, path string) (workflows.EquipmentRecord, error) {
	var record workflows.EquipmentRecord
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return record, fmt.Errorf("opening record: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&record); err != nil {
		return record, fmt.Errorf("decoding record %s: %w", path, err)
	}
	return record, nil
}

func printAskResult(w io.Writer, result *workflows.AskResult) error {
	fmt.Fprintf(w, "%s\n", result.Answer)
	if len(result.ToolTraces) > 0 {
		fmt.Fprintln(w, "\nTools used:")
		for i, tt := range result.ToolTraces {
			status := "ok"
			if tt.IsError {
				status = "error"
			}
			fmt.Fprintf(w, "%d. %s (%s, %dms)\n", i+1, tt.ToolName, status, tt.DurationMs)
		}
	}
	if result.LimitReached {
		fmt.Fprintf(w, "\n(stopped after %d iterations)\n", result.Iterations)
	}
	return nil
}

func printConsultResults(w io.Writer, results map[string]consult.Result) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		r := results[name]
		if i > 0 {
			fmt.Fprintln(w)
		}
		header := name
		if r.Failed {
			header += " (failed)"
		}
		fmt.Fprintf(w, "== %s ==\n%s\n", header, r.Content)
	}
}

func printPersonas(w io.Writer, catalog *persona.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTOOLS")
	for _, t := range catalog.Templates() {
		toolList := strings.Join(t.Profile.AllowedTools, ",")
		if toolList == "" {
			toolList = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Title, toolList)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
