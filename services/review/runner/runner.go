// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner implements the Command Runner (C7): it executes the
// user-supplied verification command under a hard wall-clock timeout,
// merges stdout/stderr, and returns a byte-capped tail. The runner never
// interprets the command's content. Grounded on
// cmd/aleutian/process_manager.go's ProcessManager interface/mock idiom.
package runner

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// Runner executes a verification command. Implementations must be safe for
// sequential reuse across iterations; concurrent calls are not required.
type Runner interface {
	Run(ctx context.Context, cmdline, cwd string, timeout, grace time.Duration, tailBytes int) (review.CommandResult, error)
}

// DefaultRunner executes real subprocesses via os/exec under a dedicated
// process group, so a timeout can signal the whole tree rather than just
// the shell.
type DefaultRunner struct {
	log *slog.Logger
}

// NewDefaultRunner constructs a DefaultRunner.
func NewDefaultRunner(log *slog.Logger) *DefaultRunner {
	if log == nil {
		log = slog.Default()
	}
	return &DefaultRunner{log: log}
}

// tailBuffer retains only the last N bytes written to it, discarding
// earlier bytes to bound memory for long-running commands.
type tailBuffer struct {
	cap int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n, _ := t.buf.Write(p)
	if excess := t.buf.Len() - t.cap; t.cap > 0 && excess > 0 {
		t.buf.Next(excess)
	}
	return n, nil
}

// Run spawns cmdline in a subshell under cwd. On timeout it signals the
// entire process group with SIGTERM and, after grace, SIGKILL. The
// returned tail is bounded to tailBytes; exit code is -1 when the process
// was killed rather than exiting on its own.
func (r *DefaultRunner) Run(ctx context.Context, cmdline, cwd string, timeout, grace time.Duration, tailBytes int) (review.CommandResult, error) {
	if tailBytes <= 0 {
		tailBytes = 64 * 1024
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdline)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := &tailBuffer{cap: tailBytes}
	cmd.Stdout = tail
	cmd.Stderr = tail

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return review.CommandResult{}, review.NewError(review.KindCommandFailed, "failed to start command: "+err.Error(), nil)
	}

	g, gctx := errgroup.WithContext(runCtx)
	done := make(chan error, 1)
	waited := make(chan struct{})
	g.Go(func() error {
		done <- cmd.Wait()
		close(waited)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			r.killProcessGroup(cmd, grace)
		case <-waited:
		}
		return nil
	})
	waitErr := <-done
	_ = g.Wait()

	duration := time.Since(start)
	timedOut := runCtx.Err() == context.DeadlineExceeded

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := review.CommandResult{
		ExitCode: exitCode,
		Duration: duration,
		Tail:     tail.buf.String(),
		TimedOut: timedOut,
	}
	r.log.Debug("verification command finished", "exit_code", exitCode, "duration", duration, "timed_out", timedOut)
	return result, nil
}

// killProcessGroup sends SIGTERM to the whole process group, then SIGKILL
// after grace if it hasn't exited.
func (r *DefaultRunner) killProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	<-timer.C
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

var _ Runner = (*DefaultRunner)(nil)
