// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assist runs the equipment wiki assistant as an HTTP service or
// as one-shot CLI commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Persistent flag values.
var (
	configPath string
	logLevel   string
	logFormat  string
)

// Command flag values.
var (
	askPersona       string
	consultPersonas  []string
	consultSynthesis bool
	reviewFile       string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "assist",
		Short:         "Equipment wiki research assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: auto, json, text")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}

	askCmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Ask one persona a question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand,
	}
	askCmd.Flags().StringVarP(&askPersona, "persona", "p", "researcher", "Persona to ask")

	consultCmd := &cobra.Command{
		Use:   "consult [query]",
		Short: "Ask several personas in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runConsultCommand,
	}
	consultCmd.Flags().StringArrayVarP(&consultPersonas, "persona", "p", nil, "Persona to consult (repeatable; defaults to the configured set)")
	consultCmd.Flags().BoolVar(&consultSynthesis, "synthesize", false, "Merge the answers with the synthesizer")

	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Score an equipment record read from a JSON file",
		Args:  cobra.NoArgs,
		RunE:  runReviewCommand,
	}
	reviewCmd.Flags().StringVarP(&reviewFile, "file", "f", "", "Path to the record JSON (- for stdin)")
	_ = reviewCmd.MarkFlagRequired("file")

	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "List the available personas",
		Args:  cobra.NoArgs,
		RunE:  runPersonasCommand,
	}

	root.AddCommand(serveCmd, askCmd, consultCmd, reviewCmd, personasCmd)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
