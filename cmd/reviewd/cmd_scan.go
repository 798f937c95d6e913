// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/reviewd/services/review/scan"
)

var flagScanMaxLines int

// # Description
//
// Walks a repository and prints the file manifest the orchestrator would
// build for it: path, size, and class (code, doc, or deferred) per
// file, truncated to --max-lines.
//
// # Examples
//
//	reviewd scan .
//	reviewd scan https://example.com/org/repo.git --max-lines 800
var scanCmd = &cobra.Command{
	Use:   "scan REPO-PATH-OR-URL",
	Short: "Print the file manifest reviewd would build for a repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repoRoot, cleanup, err := resolveRepoArg(context.Background(), args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "reviewd:", err)
			os.Exit(exitValidationError)
		}
		defer cleanup()

		manifest, err := scan.Scan(repoRoot, flagScanMaxLines, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reviewd: scanning repository:", err)
			os.Exit(exitFatal)
		}
		fmt.Println(manifest.Text(flagScanMaxLines))
	},
}

func init() {
	scanCmd.Flags().IntVar(&flagScanMaxLines, "max-lines", 400, "truncate the printed manifest to this many lines")
}
