// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GitClient is the narrow git-plumbing surface the applier needs. It is an
// interface so tests can substitute a fake without a real repository.
type GitClient interface {
	// StatusPorcelain returns `git status --porcelain -- <path>` output for
	// exactly one pathspec (empty string means clean or untracked-absent).
	StatusPorcelain(ctx context.Context, path string) (string, error)
	IsTracked(ctx context.Context, path string) bool
	// DiffCached returns the unified diff of path as currently staged
	// against HEAD, for human-review logging only.
	DiffCached(ctx context.Context, path string) (string, error)
	Add(ctx context.Context, paths ...string) error
	RemoveCached(ctx context.Context, path string) error
	Move(ctx context.Context, src, dst string) error
	Commit(ctx context.Context, message string) error
	HasStagedChanges(ctx context.Context) (bool, error)
	ResetMixed(ctx context.Context, paths ...string) error
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)
	IsRepository() bool
	// ListBranches returns local branch names (no leading "* " marker).
	ListBranches(ctx context.Context) ([]string, error)
	// CheckoutNewBranch creates (or resets, via -B) and checks out name.
	CheckoutNewBranch(ctx context.Context, name string) error
	Push(ctx context.Context, remote, branch string) error
}

// DefaultGitClient shells out to the git binary, the way
// transaction/git.go's DefaultGitClient does, generalized here to an
// exact-pathspec staging discipline (no `-A` on parent directories, no
// wildcard adds).
type DefaultGitClient struct {
	repoRoot string
	timeout  time.Duration
}

// NewGitClient returns a client rooted at an absolute repoRoot.
func NewGitClient(repoRoot string, timeout time.Duration) (*DefaultGitClient, error) {
	if !filepath.IsAbs(repoRoot) {
		return nil, fmt.Errorf("repo root must be absolute: %s", repoRoot)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DefaultGitClient{repoRoot: repoRoot, timeout: timeout}, nil
}

func (g *DefaultGitClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.repoRoot}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (g *DefaultGitClient) runOK(ctx context.Context, args ...string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.repoRoot}, args...)...)
	return cmd.Run() == nil
}

func (g *DefaultGitClient) IsRepository() bool {
	_, err := g.run(context.Background(), "rev-parse", "--git-dir")
	return err == nil
}

func (g *DefaultGitClient) StatusPorcelain(ctx context.Context, path string) (string, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--", path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (g *DefaultGitClient) IsTracked(ctx context.Context, path string) bool {
	return g.runOK(ctx, "ls-files", "--error-unmatch", "--", path)
}

func (g *DefaultGitClient) DiffCached(ctx context.Context, path string) (string, error) {
	return g.run(ctx, "diff", "--cached", "--", path)
}

// Add stages exactly the given pathspecs. Never passes -A or a directory
// wildcard: every caller supplies the precise file paths affected.
func (g *DefaultGitClient) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

func (g *DefaultGitClient) RemoveCached(ctx context.Context, path string) error {
	_, err := g.run(ctx, "rm", "--cached", "--force", "--", path)
	return err
}

func (g *DefaultGitClient) Move(ctx context.Context, src, dst string) error {
	_, err := g.run(ctx, "mv", "--", src, dst)
	return err
}

func (g *DefaultGitClient) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

func (g *DefaultGitClient) HasStagedChanges(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "-C", g.repoRoot, "diff", "--cached", "--quiet")
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

// ResetMixed un-stages exactly the given paths, leaving working-tree
// content untouched. Used to guarantee "no partial commit left in the
// index" on any apply-time error.
func (g *DefaultGitClient) ResetMixed(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"reset", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

func (g *DefaultGitClient) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *DefaultGitClient) HeadCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", nil // unborn HEAD: treat as empty, not an error
	}
	return strings.TrimSpace(out), nil
}

func (g *DefaultGitClient) ListBranches(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "branch", "--list", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (g *DefaultGitClient) CheckoutNewBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-B", name)
	return err
}

func (g *DefaultGitClient) Push(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "push", "-u", remote, branch)
	return err
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
