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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/reviewd/pkg/config"
	"github.com/jinterlante1206/reviewd/pkg/logging"
)

// --- Global Command Variables ---
//
// Every subcommand reads the same resolved config.Config, loaded once in
// rootCmd's PersistentPreRun from reviewd.yaml plus the environment, then
// overridden field-by-field by any flag the user actually set on this
// invocation. Keeping the resolved value immutable after PersistentPreRun
// means multiple Orchestrators can be constructed in one process (as the
// test suite does) without a process-wide singleton to reset.
var (
	flagConfigPath   string
	flagMode         string
	flagModel        string
	flagAPITimeout   int
	flagIterations   int
	flagBranchPrefix string
	flagRemote       string
	flagNoPush       bool
	flagRunCmd       string
	flagCmdTimeout   int
	flagAuto         bool
	flagLogJSON      bool
	flagQuiet        bool
	flagMetricsFile  string

	resolvedConfig config.Config
	logger         *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "reviewd",
		Short: "Drive an LLM through an edit-run-fix review loop over a repository",
		Long: `reviewd runs an LLM-driven code review loop against a git repository:
it plans, proposes file patches one at a time, applies them to a dedicated
branch, optionally runs a verification command and feeds back failures, and
writes a human-readable summary when done.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reviewd: loading %s: %v\n", flagConfigPath, err)
				os.Exit(exitValidationError)
			}
			applyFlagOverrides(cmd, &cfg)
			resolvedConfig = cfg

			logger = logging.New(logging.Config{
				Level:          logging.LevelInfo,
				LogDir:         cfg.LogDir,
				Service:        "reviewd",
				JSON:           cfg.LogJSON,
				Quiet:          flagQuiet,
				MaxBacklogDays: cfg.MaxBacklogDays,
			})
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "reviewd.yaml", "path to a reviewd.yaml config file")
	pf.StringVar(&flagMode, "mode", "", "transport mode: api or browser (default from config)")
	pf.StringVar(&flagModel, "model", "", "model name for the api transport")
	pf.IntVar(&flagAPITimeout, "api-timeout", 0, "seconds to wait for one model exchange")
	pf.IntVar(&flagIterations, "iterations", 0, "number of iteration rounds, 1-3")
	pf.StringVar(&flagBranchPrefix, "branch-prefix", "", "iteration branch name prefix")
	pf.StringVar(&flagRemote, "remote", "", "git remote to push the final branch to")
	pf.BoolVar(&flagNoPush, "no-push", false, "never push the final branch")
	pf.StringVar(&flagRunCmd, "cmd", "", "verification command to run after each iteration")
	pf.IntVar(&flagCmdTimeout, "timeout", 0, "seconds before the verification command is killed")
	pf.BoolVar(&flagAuto, "auto", false, "run without interactive confirmation prompts")
	pf.BoolVar(&flagLogJSON, "log-json", false, "emit JSON-line logs instead of text")
	pf.BoolVar(&flagQuiet, "quiet", false, "suppress stderr log output when a log directory is configured")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus text-format metrics here when the run finishes")

	rootCmd.AddCommand(iterateCmd, apiCmd, scanCmd, validateCmd, schemaCmd, versionCmd)
}

// applyFlagOverrides copies any flag the user actually set on this
// invocation over the YAML/env-resolved config, per the "CLI flags always
// win" precedence rule. cmd.Flags().Changed distinguishes "left at its
// zero value" from "explicitly set to the zero value" (e.g. --iterations 0
// would otherwise be indistinguishable from "not passed").
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Mode = flagMode
	}
	if changed("model") {
		cfg.Model = flagModel
	}
	if changed("api-timeout") {
		cfg.APITimeout = secondsToDuration(flagAPITimeout)
	}
	if changed("iterations") {
		cfg.Iterations = flagIterations
	}
	if changed("branch-prefix") {
		cfg.BranchPrefix = flagBranchPrefix
	}
	if changed("remote") {
		cfg.Remote = flagRemote
	}
	if changed("no-push") {
		cfg.NoPush = flagNoPush
	}
	if changed("cmd") {
		cfg.RunCmd = flagRunCmd
	}
	if changed("timeout") {
		cfg.CommandTimeout = secondsToDuration(flagCmdTimeout)
	}
	if changed("log-json") {
		cfg.LogJSON = flagLogJSON
	}
}
