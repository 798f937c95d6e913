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
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/reviewd/pkg/config"
	"github.com/jinterlante1206/reviewd/services/review/orchestrator"
	"github.com/jinterlante1206/reviewd/services/review/patch"
	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/runner"
	"github.com/jinterlante1206/reviewd/services/review/state"
)

// # Description
//
// Runs the full edit-run-fix review loop against a repository: plan-first,
// then up to --iterations rounds of patch acceptance, each optionally
// followed by an error-fix loop against --cmd.
//
// # Examples
//
//	reviewd iterate INSTRUCTIONS.md .
//	reviewd iterate INSTRUCTIONS.md https://example.com/org/repo.git --cmd "go test ./..."
//	reviewd iterate INSTRUCTIONS.md . --iterations 3 --mode browser --no-push
//
// # Exit Codes
//
//	0 - the run reached Finalize and committed a reviewed branch
//	2 - validation error in user input (bad path, bad iteration count)
//	3 - the model produced output the safety predicate rejected
//	4 - transport exhausted its retries and the run aborted
//	5 - the verification command never passed within the error-round budget
//	1 - any other fatal error
var iterateCmd = &cobra.Command{
	Use:   "iterate INSTRUCTIONS-FILE REPO-PATH-OR-URL",
	Short: "Run the edit-run-fix review loop against a repository",
	Args:  cobra.ExactArgs(2),
	Run:   runIterateCommand,
}

func runIterateCommand(cmd *cobra.Command, args []string) {
	runOrchestratorCommand("iterate", args[0], args[1], resolvedConfig)
}

// runOrchestratorCommand wires up and runs one Orchestrator pass for the
// given config, then exits the process with the code the run's outcome
// maps to. Shared by iterate and api, which differ only in which config
// fields the caller has already pinned (api pins Mode and Iterations
// before calling in; see cmd_api.go).
func runOrchestratorCommand(label, instructionsPath, repoArg string, cfg config.Config) {
	if err := validateIterations(cfg.Iterations); err != nil {
		fmt.Fprintln(os.Stderr, "reviewd:", err)
		os.Exit(exitValidationError)
	}

	ctx := context.Background()
	repoRoot, cleanup, err := resolveRepoArg(ctx, repoArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reviewd:", err)
		os.Exit(exitValidationError)
	}
	defer cleanup()

	tp, err := buildTransport(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reviewd: building transport:", err)
		os.Exit(exitFatal)
	}
	defer tp.Close()

	gitClient, err := patch.NewGitClient(repoRoot, cfg.CommandTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reviewd: opening repository:", err)
		os.Exit(exitValidationError)
	}
	applier := patch.NewApplier(repoRoot, gitClient, logger.Slog())
	cmdRunner := runner.NewDefaultRunner(logger.Slog())

	store, err := state.Open(repoRoot, historyDirFor(repoRoot))
	if err != nil {
		fmt.Fprintln(os.Stderr, "reviewd: opening state store:", err)
		os.Exit(exitFatal)
	}
	defer store.Close()

	orch := orchestrator.New(orchestrator.Config{
		RepoRoot:            repoRoot,
		InstructionsPath:    instructionsPath,
		APITimeout:          cfg.APITimeout,
		Iterations:          cfg.Iterations,
		BranchPrefix:        cfg.BranchPrefix,
		Remote:              cfg.Remote,
		PushAtEnd:           !cfg.NoPush,
		RunCmd:              cfg.RunCmd,
		CommandTimeout:      cfg.CommandTimeout,
		TailBytes:           cfg.TailBytes,
		ConversationWindow:  cfg.ConversationWindow,
		BlueprintCharBudget: cfg.PromptCharBudget,
	}, tp, gitClient, applier, cmdRunner, store, logger.Slog())

	result, runErr := orch.Run(ctx)
	writeMetricsFile(orch)

	if runErr == nil {
		logger.Info(label+" finished", "outcome", result.Outcome, "branch", result.Branch, "iterations", result.IterationsCompleted)
		os.Exit(exitSuccess)
	}

	logger.Error(label+" aborted", "error", runErr.Error())
	os.Exit(exitCodeFor(runErr))
}

// writeMetricsFile dumps the run's Prometheus registry in text exposition
// format to --metrics-file, if set. A CLI run has no scrape endpoint to
// expose a registry on, so the textfile-collector convention (write once
// at exit, let node_exporter or a sidecar pick it up) is the fit instead
// of serving promhttp.Handler.
func writeMetricsFile(orch *orchestrator.Orchestrator) {
	if flagMetricsFile == "" {
		return
	}
	families, err := orch.Metrics().Gather()
	if err != nil {
		logger.Warn("gathering metrics", "error", err.Error())
		return
	}
	f, err := os.Create(flagMetricsFile)
	if err != nil {
		logger.Warn("opening metrics file", "path", flagMetricsFile, "error", err.Error())
		return
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			logger.Warn("encoding metric family", "name", mf.GetName(), "error", err.Error())
			return
		}
	}
}

// exitCodeFor translates an aborted run's terminal error into the exit
// codes the CLI surface promises.
func exitCodeFor(err error) int {
	rerr, ok := review.AsReviewError(err)
	if !ok {
		return exitFatal
	}
	switch rerr.Kind {
	case review.KindUnsafePath, review.KindForbiddenMode, review.KindProtocolViolation:
		return exitSafetyViolation
	case review.KindTransportAuth, review.KindTransportUIFailure,
		review.KindTransportTimeout, review.KindTransportTransient:
		return exitTransportExhausted
	case review.KindCommandFailed, review.KindCommandTimeout, review.KindBudgetExceeded:
		return exitVerificationNeverPassed
	case review.KindConfigError:
		return exitValidationError
	default:
		return exitFatal
	}
}
