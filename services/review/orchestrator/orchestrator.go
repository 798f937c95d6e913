// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator implements the Iteration Orchestrator (C8), the
// control core driving bootstrap, blueprint preflight, plan-first,
// per-iteration patch acceptance, the error-fix loop, and finalize.
// Grounded on original_source/gpt_review/workflow.py's phase sequence and
// services/orchestrator/orchestrator.go's Config/New/Run shape.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/reviewd/services/review/blueprint"
	"github.com/jinterlante1206/reviewd/services/review/patch"
	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/runner"
	"github.com/jinterlante1206/reviewd/services/review/scan"
	"github.com/jinterlante1206/reviewd/services/review/state"
	"github.com/jinterlante1206/reviewd/services/review/transport"
	"github.com/jinterlante1206/reviewd/services/review/validate"
)

const (
	defaultManifestLines       = 300
	defaultBlueprintCharBudget = 1500
	reviewInstructionsPath     = "REVIEW_INSTRUCTIONS.md"
)

// Config is everything a run needs beyond the wired components themselves.
type Config struct {
	RepoRoot         string
	InstructionsPath string

	APITimeout time.Duration
	Iterations int // bounded 1..3

	BranchPrefix string
	Remote       string
	PushAtEnd    bool

	RunCmd         string
	CommandTimeout time.Duration
	CommandGrace   time.Duration
	TailBytes      int

	MaxPatchesPerIteration int
	MaxErrorRounds         int
	MaxSchemaRetries       int
	MaxTransientRetries    int
	ConversationWindow     int
	BlueprintCharBudget    int
}

// withDefaults fills in the same conservative defaults cmd/reviewd applies
// when a flag is left unset, so tests and direct callers don't have to
// restate them.
func (c Config) withDefaults() Config {
	if c.Iterations < 1 {
		c.Iterations = 1
	}
	if c.Iterations > 3 {
		c.Iterations = 3
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "iteration"
	}
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 2 * time.Minute
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Minute
	}
	if c.CommandGrace <= 0 {
		c.CommandGrace = 5 * time.Second
	}
	if c.TailBytes <= 0 {
		c.TailBytes = 64 * 1024
	}
	if c.MaxPatchesPerIteration <= 0 {
		c.MaxPatchesPerIteration = 40
	}
	if c.MaxErrorRounds <= 0 {
		c.MaxErrorRounds = 3
	}
	if c.MaxSchemaRetries <= 0 {
		c.MaxSchemaRetries = 3
	}
	if c.MaxTransientRetries <= 0 {
		c.MaxTransientRetries = 3
	}
	if c.ConversationWindow <= 0 {
		c.ConversationWindow = 6
	}
	if c.BlueprintCharBudget <= 0 {
		c.BlueprintCharBudget = defaultBlueprintCharBudget
	}
	return c
}

// Outcome is the terminal state a run ends in.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// RunResult summarizes a completed or aborted run.
type RunResult struct {
	Outcome             Outcome
	RunID               string
	Branch              string
	FinalCommit         string
	IterationsCompleted int
	Reason              string // set when Outcome is OutcomeAborted
}

// Orchestrator wires together every other component and drives the
// bootstrap -> blueprint preflight -> plan-first -> iterate -> finalize
// state machine. It exclusively owns the State Store and Conversation;
// every other component is read-only with respect to shared state.
type Orchestrator struct {
	cfg       Config
	runID     string
	transport transport.Transport
	git       patch.GitClient
	applier   *patch.Applier
	runner    runner.Runner
	store     *state.Store
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics

	conv *review.Conversation
	step int
}

// New constructs an Orchestrator. None of the component arguments may be
// nil; cfg is defaulted via withDefaults.
func New(cfg Config, tp transport.Transport, git patch.GitClient, applier *patch.Applier, run runner.Runner, store *state.Store, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		runID:     uuid.NewString(),
		transport: tp,
		git:       git,
		applier:   applier,
		runner:    run,
		store:     store,
		log:       log,
		tracer:    otel.Tracer("github.com/jinterlante1206/reviewd/services/review/orchestrator"),
		metrics:   newMetrics(),
	}
}

// Metrics exposes the run's private Prometheus registry so cmd/reviewd can
// dump or push it at exit; the orchestrator never starts an HTTP server
// of its own.
func (o *Orchestrator) Metrics() *prometheus.Registry {
	return o.metrics.registry
}

// Run drives the full state machine to Done or Aborted. It never panics on
// a component error; every failure is translated into a RunResult plus a
// non-nil error, with the repository left in a fully committed state.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	ctx, span := o.tracer.Start(ctx, "reviewd.orchestrator.run")
	defer span.End()
	o.log.Info("run starting", "run_id", o.runID, "repo_root", o.cfg.RepoRoot)

	instructions, err := readInstructions(o.cfg.InstructionsPath)
	if err != nil {
		return o.aborted(err), err
	}

	branch, err := o.bootstrap(ctx)
	if err != nil {
		return o.aborted(err), err
	}
	o.conv = &review.Conversation{Window: o.cfg.ConversationWindow}

	if err := o.blueprintPreflight(ctx, instructions); err != nil {
		return o.abortedOn(branch, 0, err), err
	}
	blueprintSummary := blueprint.Summarize(o.cfg.RepoRoot, o.cfg.BlueprintCharBudget)

	manifest, err := scan.Scan(o.cfg.RepoRoot, defaultManifestLines, nil)
	if err != nil {
		wrapped := review.NewError(review.KindConfigError, "scan repository: "+err.Error(), nil)
		return o.abortedOn(branch, 0, wrapped), wrapped
	}

	plan, err := o.planFirst(ctx, manifest, blueprintSummary, instructions)
	if err != nil {
		return o.abortedOn(branch, 0, err), err
	}

	completed := 0
	for n := 1; n <= o.cfg.Iterations; n++ {
		if err := o.runIteration(ctx, n, manifest); err != nil {
			return o.abortedOn(branch, completed, err), err
		}
		if err := o.errorFixLoop(ctx, n); err != nil {
			return o.abortedOn(branch, completed, err), err
		}
		completed = n
	}

	if err := o.finalize(ctx, plan); err != nil {
		return o.abortedOn(branch, completed, err), err
	}

	head, _ := o.git.HeadCommit(ctx)
	o.log.Info("run finished", "run_id", o.runID, "branch", branch, "iterations_completed", completed)
	return &RunResult{
		Outcome:             OutcomeDone,
		RunID:               o.runID,
		Branch:              branch,
		FinalCommit:         head,
		IterationsCompleted: completed,
	}, nil
}

func (o *Orchestrator) aborted(err error) *RunResult {
	return &RunResult{Outcome: OutcomeAborted, RunID: o.runID, Reason: err.Error()}
}

func (o *Orchestrator) abortedOn(branch string, completed int, err error) *RunResult {
	head, _ := o.git.HeadCommit(context.Background())
	o.log.Error("run aborted", "run_id", o.runID, "branch", branch, "error", err.Error())
	return &RunResult{
		Outcome:             OutcomeAborted,
		RunID:               o.runID,
		Branch:              branch,
		FinalCommit:         head,
		IterationsCompleted: completed,
		Reason:              err.Error(),
	}
}

var branchSuffixPattern = regexp.MustCompile(`^\*?\s*(.+?)(\d+)$`)

// bootstrap resolves the iteration branch by scanning existing branches for
// the highest prefix+N suffix and checking out prefix+(N+1), then loads any
// resume record left by a prior, interrupted run. Grounded on workflow.py's
// _ensure_branch.
func (o *Orchestrator) bootstrap(ctx context.Context) (string, error) {
	_, span := o.tracer.Start(ctx, "reviewd.orchestrator.bootstrap")
	defer span.End()

	if !o.git.IsRepository() {
		return "", review.NewError(review.KindConfigError, "not a git repository: "+o.cfg.RepoRoot, nil)
	}
	branches, err := o.git.ListBranches(ctx)
	if err != nil {
		return "", review.NewError(review.KindGitIndexCorrupt, "list branches: "+err.Error(), nil)
	}
	next := nextBranchSuffix(branches, o.cfg.BranchPrefix)
	branch := fmt.Sprintf("%s%d", o.cfg.BranchPrefix, next)
	if err := o.git.CheckoutNewBranch(ctx, branch); err != nil {
		return "", review.NewError(review.KindGitIndexCorrupt, "checkout branch "+branch+": "+err.Error(), nil)
	}

	if rec, ok := o.store.LoadResume(); ok {
		o.step = rec.Step
		o.log.Info("resuming from prior state", "step", rec.Step, "last_file", rec.LastFile, "commit", rec.CommitID)
	}
	return branch, nil
}

// nextBranchSuffix finds the highest existing prefix+N branch and returns
// N+1, or 1 if none exist.
func nextBranchSuffix(branches []string, prefix string) int {
	max := 0
	for _, b := range branches {
		m := branchSuffixPattern.FindStringSubmatch(b)
		if m == nil || m[1] != prefix {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// blueprintPreflight ensures the canonical documents directory exists and,
// for each of the four canonical documents still missing, requests its
// generation through the transport via the normal patch protocol (one
// file per reply) and applies/commits it via C2, recording each commit in
// resume state. Grounded on orchestrator.py's _generate_blueprints, with
// the original's single batched generate_blueprints tool call replaced by
// one ordinary submit_patch turn per missing document.
func (o *Orchestrator) blueprintPreflight(ctx context.Context, instructions string) error {
	ctx, span := o.tracer.Start(ctx, "reviewd.orchestrator.blueprint_preflight")
	defer span.End()

	if err := blueprint.EnsureDir(o.cfg.RepoRoot); err != nil {
		return review.NewError(review.KindConfigError, "ensure blueprint directory: "+err.Error(), nil)
	}
	missing := blueprint.Status(o.cfg.RepoRoot).Missing()
	if len(missing) == 0 {
		return nil
	}
	o.log.Info("canonical documents missing, requesting generation", "missing", blueprint.MissingRelPaths(blueprint.Status(o.cfg.RepoRoot)))

	for _, doc := range missing {
		if err := o.ensureBlueprintDoc(ctx, instructions, doc); err != nil {
			return err
		}
	}
	return nil
}

// ensureBlueprintDoc drives one request/apply/commit round for a single
// missing canonical document.
func (o *Orchestrator) ensureBlueprintDoc(ctx context.Context, instructions string, doc review.BlueprintFile) error {
	payload, err := o.requestPatch(ctx, buildBlueprintPrompt(instructions, doc))
	if err != nil {
		return err
	}
	if payload.Op != review.OpCreate || payload.File != doc.Path {
		return review.NewError(review.KindProtocolViolation,
			fmt.Sprintf("blueprint generation for %q returned an unexpected patch (op=%s file=%s)", doc.Path, payload.Op, payload.File), nil)
	}

	result, err := o.applier.Apply(ctx, payload)
	if err != nil {
		return err
	}
	o.step++
	o.metrics.patches.WithLabelValues(string(payload.Op)).Inc()
	return o.store.SaveResume(review.ResumeRecord{
		LastFile:  payload.File,
		CommitID:  result.CommitID,
		Step:      o.step,
		Timestamp: time.Now(),
	})
}

// planFirst requires a structured plan envelope rather than a patch, and
// persists it via the State Store before any file is touched.
func (o *Orchestrator) planFirst(ctx context.Context, manifest *scan.Manifest, blueprintSummary, instructions string) (review.IterationPlan, error) {
	ctx, span := o.tracer.Start(ctx, "reviewd.orchestrator.plan_first")
	defer span.End()

	prompt := buildPlanPrompt(instructions, manifest, blueprintSummary)
	reply, err := o.requestPlanText(ctx, prompt)
	if err != nil {
		return review.IterationPlan{}, err
	}

	var plan review.IterationPlan
	if err := json.Unmarshal([]byte(extractJSONObject(reply.Text)), &plan); err != nil {
		return review.IterationPlan{}, review.NewError(review.KindProtocolViolation,
			"plan-first reply was not a valid plan envelope: "+err.Error(), nil)
	}
	if err := o.store.SaveInitialPlan(plan); err != nil {
		return review.IterationPlan{}, err
	}
	return plan, nil
}

// runIteration drives the patch-acceptance cycle for one iteration round,
// restricting eligible files per scan.ClassifyForIteration.
func (o *Orchestrator) runIteration(ctx context.Context, n int, manifest *scan.Manifest) error {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("reviewd.orchestrator.iteration.%d", n))
	defer span.End()
	o.metrics.iterations.Inc()

	eligible := scan.ClassifyForIteration(manifest, n)
	_, err := o.applyPatchSeries(ctx, buildIterationPrompt(n, eligible), o.cfg.MaxPatchesPerIteration)
	return err
}

// errorFixLoop runs the configured verification command after an
// iteration's Completed status and, on failure, solicits fixes until the
// command passes or the error-round cap is reached. A no-op when no
// verification command is configured.
func (o *Orchestrator) errorFixLoop(ctx context.Context, n int) error {
	if o.cfg.RunCmd == "" {
		return nil
	}
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("reviewd.orchestrator.error_fix.%d", n))
	defer span.End()

	for round := 0; ; round++ {
		result, err := o.runner.Run(ctx, o.cfg.RunCmd, o.cfg.RepoRoot, o.cfg.CommandTimeout, o.cfg.CommandGrace, o.cfg.TailBytes)
		if err != nil {
			return err
		}
		o.metrics.commandRuns.WithLabelValues(strconv.FormatBool(result.Success())).Observe(result.Duration.Seconds())
		if result.Success() {
			return nil
		}
		if round >= o.cfg.MaxErrorRounds {
			return review.NewError(review.KindCommandFailed,
				fmt.Sprintf("verification command still failing after %d error-fix rounds in iteration %d", round, n), nil)
		}
		o.metrics.errorRounds.Inc()
		if _, err := o.applyPatchSeries(ctx, buildErrorFixPrompt(result), o.cfg.MaxPatchesPerIteration); err != nil {
			return err
		}
	}
}

// finalize synthesizes a human-facing review-instructions document,
// commits it into the repository through the same validate-then-apply
// pipeline every model-proposed patch goes through, persists the review
// plan artifact, and optionally pushes the final branch. Grounded on
// workflow.py's _generate_final_instructions, which builds a
// create/update patch for REVIEW_INSTRUCTIONS.md and runs it through
// apply_patch rather than only recording a summary in state.
func (o *Orchestrator) finalize(ctx context.Context, plan review.IterationPlan) error {
	ctx, span := o.tracer.Start(ctx, "reviewd.orchestrator.finalize")
	defer span.End()

	reply, err := o.requestPlanText(ctx, buildFinalizePrompt(plan))
	if err != nil {
		return err
	}
	final := review.IterationPlan{
		Overview:            reply.Text,
		SuggestedRunCommand: plan.SuggestedRunCommand,
		Classification:      plan.Classification,
		EstimatedIterations: plan.EstimatedIterations,
	}
	if err := o.store.SaveReviewPlan(final); err != nil {
		return err
	}

	if err := o.commitReviewInstructions(ctx, reply.Text); err != nil {
		return err
	}

	if !o.cfg.PushAtEnd {
		return nil
	}
	branch, err := o.git.CurrentBranch(ctx)
	if err != nil {
		return review.NewError(review.KindGitIndexCorrupt, "determine current branch for push: "+err.Error(), nil)
	}
	if err := o.git.Push(ctx, o.cfg.Remote, branch); err != nil {
		return review.NewError(review.KindGitIndexCorrupt, "push "+branch+" to "+o.cfg.Remote+": "+err.Error(), nil)
	}
	return nil
}

// commitReviewInstructions writes body into REVIEW_INSTRUCTIONS.md at the
// repo root and commits it through C1 (validate) and C2 (apply), exactly
// as any model-proposed patch would be, rather than letting the finalize
// summary live only in the state store's plan twins.
func (o *Orchestrator) commitReviewInstructions(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		o.log.Warn("finalize reply was empty, skipping REVIEW_INSTRUCTIONS.md commit")
		return nil
	}

	op := review.OpCreate
	if _, err := os.Stat(filepath.Join(o.cfg.RepoRoot, reviewInstructionsPath)); err == nil {
		op = review.OpUpdate
	}
	raw, err := json.Marshal(struct {
		Op     string `json:"op"`
		File   string `json:"file"`
		Body   string `json:"body"`
		Status string `json:"status"`
	}{Op: string(op), File: reviewInstructionsPath, Body: body, Status: string(review.StatusCompleted)})
	if err != nil {
		return review.NewError(review.KindConfigError, "marshal review-instructions patch: "+err.Error(), nil)
	}

	payload, err := validate.Validate(raw)
	if err != nil {
		return err
	}
	result, err := o.applier.Apply(ctx, payload)
	if err != nil {
		return err
	}
	o.step++
	o.metrics.patches.WithLabelValues(string(payload.Op)).Inc()
	return o.store.SaveResume(review.ResumeRecord{
		LastFile:  payload.File,
		CommitID:  result.CommitID,
		Step:      o.step,
		Timestamp: time.Now(),
	})
}

// applyPatchSeries drives the patch acceptance cycle for one opening
// prompt: request, validate (by virtue of the transport returning an
// already-validated payload or a schema error), apply, and either send
// "continue" or stop once the model reports status=completed.
// Shared by both the iteration loop and the error-fix loop.
func (o *Orchestrator) applyPatchSeries(ctx context.Context, firstPrompt string, cap int) (int, error) {
	prompt := firstPrompt
	applied := 0
	failedFiles := map[string]int{}

	for {
		if applied >= cap {
			return applied, review.NewError(review.KindBudgetExceeded,
				fmt.Sprintf("exceeded maximum patch count (%d) for this round", cap), nil)
		}

		payload, err := o.requestPatch(ctx, prompt)
		if err != nil {
			return applied, err
		}

		result, applyErr := o.applier.Apply(ctx, payload)
		if applyErr != nil {
			rerr, _ := review.AsReviewError(applyErr)
			if rerr != nil && rerr.Kind.Fatal() {
				return applied, applyErr
			}
			failedFiles[payload.File]++
			if failedFiles[payload.File] > 1 {
				return applied, review.NewError(review.KindPreconditionFailure,
					fmt.Sprintf("repeated precondition failure applying %q, ending round", payload.File), nil)
			}
			prompt = fmt.Sprintf("Applying your last patch to %q failed: %s. Please resubmit a corrected patch for the same file.",
				payload.File, applyErr.Error())
			continue
		}

		applied++
		o.metrics.patches.WithLabelValues(string(payload.Op)).Inc()
		o.step++
		if err := o.store.SaveResume(review.ResumeRecord{
			LastFile:  payload.File,
			CommitID:  result.CommitID,
			Step:      o.step,
			Timestamp: time.Now(),
		}); err != nil {
			return applied, err
		}

		if payload.Status == review.StatusCompleted {
			return applied, nil
		}
		prompt = "continue"
	}
}

// requestPatch drives one patch-mode exchange, retrying in place for two
// distinct recoverable failure shapes: schema-level rejections (sent back
// to the model as a structured retry prompt, bounded by MaxSchemaRetries)
// and transient transport failures that came back exhausted even after the
// transport's own internal retries (paused and retried whole-turn, bounded
// by MaxTransientRetries).
func (o *Orchestrator) requestPatch(ctx context.Context, prompt string) (*review.PatchPayload, error) {
	schemaAttempts, transientAttempts := 0, 0

	for {
		reply, err := o.transport.Exchange(ctx, o.conv, transport.Request{
			Mode: transport.ModePatch, Prompt: prompt, Deadline: o.cfg.APITimeout,
		})
		if err == nil {
			o.conv.Append(review.Turn{Role: review.RoleUser, Text: prompt})
			o.conv.Append(review.Turn{Role: review.RoleAssistant, Call: reply.Patch})
			return reply.Patch, nil
		}

		rerr, ok := review.AsReviewError(err)
		if !ok {
			return nil, err
		}

		switch {
		case rerr.Kind.Fatal():
			return nil, err

		case isSchemaRetryable(rerr.Kind):
			schemaAttempts++
			if schemaAttempts > o.cfg.MaxSchemaRetries {
				return nil, review.NewError(review.KindProtocolViolation,
					"model failed to produce a valid patch after repeated retries: "+rerr.Message, nil)
			}
			o.conv.Append(review.Turn{Role: review.RoleUser, Text: prompt})
			o.conv.Append(review.Turn{Role: review.RoleAssistant, Text: "<rejected: " + string(rerr.Kind) + ">"})
			prompt = fmt.Sprintf("Your last reply was rejected (%s): %s. Resubmit a single corrected submit_patch call.",
				rerr.Kind, rerr.Message)

		case isTransientTransport(rerr.Kind):
			transientAttempts++
			if transientAttempts > o.cfg.MaxTransientRetries {
				return nil, err
			}
			o.log.Warn("transient transport failure, retrying turn", "attempt", transientAttempts, "kind", rerr.Kind)
			select {
			case <-time.After(backoffPause(transientAttempts)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			return nil, err
		}
	}
}

// requestPlanText drives one plan-text exchange (plan-first, finalize),
// retrying only on transient transport failures.
func (o *Orchestrator) requestPlanText(ctx context.Context, prompt string) (*transport.Reply, error) {
	transientAttempts := 0
	for {
		reply, err := o.transport.Exchange(ctx, o.conv, transport.Request{
			Mode: transport.ModePlanText, Prompt: prompt, Deadline: o.cfg.APITimeout,
		})
		if err == nil {
			o.conv.Append(review.Turn{Role: review.RoleUser, Text: prompt})
			o.conv.Append(review.Turn{Role: review.RoleAssistant, Text: reply.Text})
			return reply, nil
		}

		rerr, ok := review.AsReviewError(err)
		if !ok || rerr.Kind.Fatal() || !isTransientTransport(rerr.Kind) {
			return nil, err
		}
		transientAttempts++
		if transientAttempts > o.cfg.MaxTransientRetries {
			return nil, err
		}
		o.log.Warn("transient transport failure, retrying turn", "attempt", transientAttempts, "kind", rerr.Kind)
		select {
		case <-time.After(backoffPause(transientAttempts)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isSchemaRetryable(k review.Kind) bool {
	switch k {
	case review.KindMalformedEnvelope, review.KindSchemaViolation, review.KindUnsafePath,
		review.KindForbiddenMode, review.KindMissingContent:
		return true
	default:
		return false
	}
}

func isTransientTransport(k review.Kind) bool {
	return k == review.KindTransportTransient || k == review.KindTransportTimeout
}

// backoffPause is a short, capped linear pause between orchestrator-level
// whole-turn retries; C6's own exponential-backoff-with-jitter already
// covers the retry budget beneath a single Exchange call, so this only
// needs to avoid hammering a transport that just exhausted its own budget.
func backoffPause(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}
