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
	"github.com/spf13/cobra"
)

// # Description
//
// Runs a single tool-driven patch-acceptance pass over a repository: one
// iteration round, with the same persistent flags iterate honors. Forces the API
// transport (the browser bridge has no equivalent lightweight entry point)
// and pins --iterations to 1; everything else about the pass, including
// the plan-first preflight, follows the same state machine iterate drives.
//
// # Examples
//
//	reviewd api INSTRUCTIONS.md .
//	reviewd api INSTRUCTIONS.md . --cmd "go test ./..." --timeout 300
//
// # Exit Codes
//
// Same contract as iterate; see its doc comment.
//
// # Limitations
//
// --branch-prefix, --remote, and --no-push are persistent root flags and
// apply here exactly as they do to iterate; the single working branch this
// produces is pushed to the configured remote unless --no-push is set.
// --mode and --iterations are accepted but overridden to api and 1.
var apiCmd = &cobra.Command{
	Use:   "api INSTRUCTIONS-FILE REPO-PATH-OR-URL",
	Short: "Run one tool-driven patch-acceptance pass against --iterations=1",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := resolvedConfig
		cfg.Mode = "api"
		cfg.Iterations = 1
		runOrchestratorCommand("api", args[0], args[1], cfg)
	},
}
