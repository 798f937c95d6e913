// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/reviewd/services/review/patch"
	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/runner"
	"github.com/jinterlante1206/reviewd/services/review/state"
	"github.com/jinterlante1206/reviewd/services/review/transport"
)

// fakeTransport replays a fixed queue of responses in order, the way the
// patch package's fakeGit replays canned behavior instead of hitting a
// real network or browser.
type fakeTransport struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	reply *transport.Reply
	err   error
}

func (f *fakeTransport) Exchange(ctx context.Context, conv *review.Conversation, req transport.Request) (*transport.Reply, error) {
	if f.calls >= len(f.responses) {
		return nil, review.NewError(review.KindProtocolViolation, "fakeTransport: no more queued responses", nil)
	}
	r := f.responses[f.calls]
	f.calls++
	return r.reply, r.err
}
func (f *fakeTransport) Cancel()      {}
func (f *fakeTransport) Close() error { return nil }

// fakeGit is a minimal in-memory patch.GitClient, mirroring the patch
// package's own test fake.
type fakeGit struct {
	branches []string
	branch   string
}

func (f *fakeGit) StatusPorcelain(ctx context.Context, path string) (string, error) { return "", nil }
func (f *fakeGit) IsTracked(ctx context.Context, path string) bool                  { return false }
func (f *fakeGit) DiffCached(ctx context.Context, path string) (string, error)      { return "", nil }
func (f *fakeGit) Add(ctx context.Context, paths ...string) error                   { return nil }
func (f *fakeGit) RemoveCached(ctx context.Context, path string) error              { return nil }
func (f *fakeGit) Move(ctx context.Context, src, dst string) error                  { return nil }
func (f *fakeGit) Commit(ctx context.Context, message string) error                 { return nil }
func (f *fakeGit) HasStagedChanges(ctx context.Context) (bool, error)               { return true, nil }
func (f *fakeGit) ResetMixed(ctx context.Context, paths ...string) error            { return nil }
func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error)                { return f.branch, nil }
func (f *fakeGit) HeadCommit(ctx context.Context) (string, error)                   { return "deadbeef", nil }
func (f *fakeGit) IsRepository() bool                                              { return true }
func (f *fakeGit) ListBranches(ctx context.Context) ([]string, error)              { return f.branches, nil }
func (f *fakeGit) CheckoutNewBranch(ctx context.Context, name string) error {
	f.branch = name
	f.branches = append(f.branches, name)
	return nil
}
func (f *fakeGit) Push(ctx context.Context, remote, branch string) error { return nil }

var _ patch.GitClient = (*fakeGit)(nil)

// fakeRunner replays a fixed queue of command results.
type fakeRunner struct {
	calls   int
	results []review.CommandResult
}

func (f *fakeRunner) Run(ctx context.Context, cmdline, cwd string, timeout, grace time.Duration, tailBytes int) (review.CommandResult, error) {
	if f.calls >= len(f.results) {
		return review.CommandResult{}, review.NewError(review.KindCommandFailed, "fakeRunner: no more queued results", nil)
	}
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

var _ runner.Runner = (*fakeRunner)(nil)

func strp(s string) *string { return &s }

// blueprintResponses canned-replays the four canonical-document creation
// turns blueprintPreflight now drives before plan-first, in canonical
// order, so tests that exercise a full Run don't have to hand-roll the
// patch payloads for an empty .reviewd/blueprints directory.
func blueprintResponses() []fakeResponse {
	paths := []string{
		".reviewd/blueprints/WHITEPAPER.md",
		".reviewd/blueprints/BUILD_GUIDE.md",
		".reviewd/blueprints/SYSTEM_DESIGN.md",
		".reviewd/blueprints/PROJECT_INSTRUCTIONS.md",
	}
	responses := make([]fakeResponse, len(paths))
	for i, p := range paths {
		responses[i] = fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: p, Body: strp("placeholder content"), Status: review.StatusCompleted,
		}}}
	}
	return responses
}

// withBlueprints prepends blueprintResponses to an existing response queue.
func withBlueprints(responses ...fakeResponse) []fakeResponse {
	return append(blueprintResponses(), responses...)
}

func newTestOrchestrator(t *testing.T, tp *fakeTransport, rn *fakeRunner, cfg Config) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	instructions := filepath.Join(dir, "INSTRUCTIONS.md")
	require.NoError(t, os.WriteFile(instructions, []byte("Review this repo for bugs.\n"), 0o644))

	git := &fakeGit{}
	applier := patch.NewApplier(dir, git, nil)
	store, err := state.Open(dir, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg.RepoRoot = dir
	cfg.InstructionsPath = instructions
	orch := New(cfg, tp, git, applier, rn, store, nil)
	return orch, dir
}

func TestOrchestrator_SingleIterationHappyPath(t *testing.T) {
	tp := &fakeTransport{responses: withBlueprints(
		fakeResponse{reply: &transport.Reply{Text: `{"overview":"looks fine","suggested_run_command":"go test ./...","estimated_iterations":1}`}},
		fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: "a.txt", Body: strp("hello"), Status: review.StatusCompleted,
		}}},
		fakeResponse{reply: &transport.Reply{Text: "Summary: created a.txt."}},
	)}
	orch, dir := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.Equal(t, 1, result.IterationsCompleted)
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "REVIEW_INSTRUCTIONS.md"))
	assert.FileExists(t, filepath.Join(dir, ".reviewd/blueprints/WHITEPAPER.md"))
}

func TestOrchestrator_SchemaRejectionRetriesThenSucceeds(t *testing.T) {
	tp := &fakeTransport{responses: withBlueprints(
		fakeResponse{reply: &transport.Reply{Text: `{"overview":"ok","estimated_iterations":1}`}},
		fakeResponse{err: review.NewError(review.KindSchemaViolation, "missing required field", nil)},
		fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: "b.txt", Body: strp("hi"), Status: review.StatusCompleted,
		}}},
		fakeResponse{reply: &transport.Reply{Text: "done"}},
	)}
	orch, dir := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.FileExists(t, filepath.Join(dir, "b.txt"))
}

func TestOrchestrator_FatalTransportErrorAbortsRun(t *testing.T) {
	tp := &fakeTransport{responses: []fakeResponse{
		{err: review.NewError(review.KindTransportAuth, "invalid API key", nil)},
	}}
	orch, _ := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1})

	result, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, result.Outcome)
	rerr, ok := review.AsReviewError(err)
	require.True(t, ok)
	assert.Equal(t, review.KindTransportAuth, rerr.Kind)
}

func TestOrchestrator_ErrorFixLoopRunsUntilCommandSucceeds(t *testing.T) {
	tp := &fakeTransport{responses: withBlueprints(
		fakeResponse{reply: &transport.Reply{Text: `{"overview":"ok","estimated_iterations":1}`}},
		fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: "c.txt", Body: strp("v1"), Status: review.StatusCompleted,
		}}},
		fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpUpdate, File: "c.txt", Body: strp("v2"), Status: review.StatusCompleted,
		}}},
		fakeResponse{reply: &transport.Reply{Text: "fixed the failing test"}},
	)}
	rn := &fakeRunner{results: []review.CommandResult{
		{ExitCode: 1, Tail: "FAIL: TestX"},
		{ExitCode: 0},
	}}
	orch, dir := newTestOrchestrator(t, tp, rn, Config{Iterations: 1, RunCmd: "go test ./..."})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	data, readErr := os.ReadFile(filepath.Join(dir, "c.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "v2\n", string(data))
}

func TestOrchestrator_PatchCapEndsIterationWithBudgetExceeded(t *testing.T) {
	tp := &fakeTransport{responses: withBlueprints(
		fakeResponse{reply: &transport.Reply{Text: `{"overview":"ok","estimated_iterations":1}`}},
		fakeResponse{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: "d.txt", Body: strp("only one allowed"), Status: review.StatusInProgress,
		}}},
	)}
	orch, _ := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1, MaxPatchesPerIteration: 1})

	result, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, result.Outcome)
	rerr, ok := review.AsReviewError(err)
	require.True(t, ok)
	assert.Equal(t, review.KindBudgetExceeded, rerr.Kind)
}

func TestOrchestrator_BlueprintPreflightSkipsWhenAllDocumentsPresent(t *testing.T) {
	tp := &fakeTransport{}
	orch, dir := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1})
	orch.conv = &review.Conversation{Window: 6}

	bpDir := filepath.Join(dir, ".reviewd/blueprints")
	require.NoError(t, os.MkdirAll(bpDir, 0o755))
	for _, name := range []string{"WHITEPAPER.md", "BUILD_GUIDE.md", "SYSTEM_DESIGN.md", "PROJECT_INSTRUCTIONS.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(bpDir, name), []byte("already here\n"), 0o644))
	}

	require.NoError(t, orch.blueprintPreflight(context.Background(), "instructions"))
	assert.Equal(t, 0, tp.calls)
}

func TestOrchestrator_BlueprintPreflightRejectsMismatchedFile(t *testing.T) {
	tp := &fakeTransport{responses: []fakeResponse{
		{reply: &transport.Reply{Patch: &review.PatchPayload{
			Op: review.OpCreate, File: "wrong/path.md", Body: strp("oops"), Status: review.StatusCompleted,
		}}},
	}}
	orch, dir := newTestOrchestrator(t, tp, &fakeRunner{}, Config{Iterations: 1})
	orch.conv = &review.Conversation{Window: 6}

	bpDir := filepath.Join(dir, ".reviewd/blueprints")
	require.NoError(t, os.MkdirAll(bpDir, 0o755))
	for _, name := range []string{"BUILD_GUIDE.md", "SYSTEM_DESIGN.md", "PROJECT_INSTRUCTIONS.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(bpDir, name), []byte("already here\n"), 0o644))
	}

	err := orch.blueprintPreflight(context.Background(), "instructions")
	require.Error(t, err)
	rerr, ok := review.AsReviewError(err)
	require.True(t, ok)
	assert.Equal(t, review.KindProtocolViolation, rerr.Kind)
}

func TestOrchestrator_CommitReviewInstructionsCreatesFile(t *testing.T) {
	orch, dir := newTestOrchestrator(t, &fakeTransport{}, &fakeRunner{}, Config{Iterations: 1})
	orch.conv = &review.Conversation{Window: 6}

	require.NoError(t, orch.commitReviewInstructions(context.Background(), "# Review\n\nAll good.\n"))

	data, err := os.ReadFile(filepath.Join(dir, "REVIEW_INSTRUCTIONS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "All good.")
}

func TestOrchestrator_CommitReviewInstructionsUpdatesExistingFile(t *testing.T) {
	orch, dir := newTestOrchestrator(t, &fakeTransport{}, &fakeRunner{}, Config{Iterations: 1})
	orch.conv = &review.Conversation{Window: 6}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "REVIEW_INSTRUCTIONS.md"), []byte("stale\n"), 0o644))

	require.NoError(t, orch.commitReviewInstructions(context.Background(), "fresh content\n"))

	data, err := os.ReadFile(filepath.Join(dir, "REVIEW_INSTRUCTIONS.md"))
	require.NoError(t, err)
	assert.Equal(t, "fresh content\n", string(data))
}

func TestOrchestrator_CommitReviewInstructionsSkipsEmptyBody(t *testing.T) {
	orch, dir := newTestOrchestrator(t, &fakeTransport{}, &fakeRunner{}, Config{Iterations: 1})
	orch.conv = &review.Conversation{Window: 6}

	require.NoError(t, orch.commitReviewInstructions(context.Background(), "   "))
	assert.NoFileExists(t, filepath.Join(dir, "REVIEW_INSTRUCTIONS.md"))
}

func TestNextBranchSuffix(t *testing.T) {
	assert.Equal(t, 1, nextBranchSuffix(nil, "iteration"))
	assert.Equal(t, 3, nextBranchSuffix([]string{"main", "iteration1", "iteration2"}, "iteration"))
	assert.Equal(t, 2, nextBranchSuffix([]string{"iteration1", "other7"}, "iteration"))
}
