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
	"os/exec"
	"strings"
	"time"
)

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// looksLikeCloneURL distinguishes a local path argument from something git
// clone would accept (https://, git@, ssh://, git://).
func looksLikeCloneURL(arg string) bool {
	for _, prefix := range []string{"https://", "http://", "git://", "ssh://", "git@"} {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}
	return false
}

// resolveRepoArg turns a local-path-or-clone-URL positional argument into a
// local directory, cloning into a temp directory (removed at exit) when
// the argument is a URL. The returned cleanup func is always safe to call.
func resolveRepoArg(ctx context.Context, arg string) (root string, cleanup func(), err error) {
	if !looksLikeCloneURL(arg) {
		info, statErr := os.Stat(arg)
		if statErr != nil {
			return "", func() {}, fmt.Errorf("repo path %q: %w", arg, statErr)
		}
		if !info.IsDir() {
			return "", func() {}, fmt.Errorf("repo path %q is not a directory", arg)
		}
		return arg, func() {}, nil
	}

	dir, mkErr := os.MkdirTemp("", "reviewd-clone-")
	if mkErr != nil {
		return "", func() {}, fmt.Errorf("create temp clone directory: %w", mkErr)
	}
	cleanup = func() { os.RemoveAll(dir) }

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", arg, dir)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if runErr := cmd.Run(); runErr != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("clone %q: %w", arg, runErr)
	}
	return dir, cleanup, nil
}

// validateIterations enforces the inclusive [1,3] bound at CLI parse time,
// per the closed ConfigError kind rather than silently clamping.
func validateIterations(n int) error {
	if n < 1 || n > 3 {
		return fmt.Errorf("--iterations must be between 1 and 3, got %d", n)
	}
	return nil
}
