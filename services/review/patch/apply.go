// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patch implements the Patch Applier (C2): applying one validated
// PatchPayload to the working tree with exact-pathspec staging and a
// canonical commit message, never a wildcard/add-all stage.
package patch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	diffpkg "github.com/sourcegraph/go-diff/diff"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// Applier applies validated payloads to a single repository root.
type Applier struct {
	root string
	git  GitClient
	log  *slog.Logger
}

// NewApplier constructs an Applier. git must not be nil.
func NewApplier(root string, git GitClient, log *slog.Logger) *Applier {
	if git == nil {
		panic("patch.NewApplier: git client must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Applier{root: root, git: git, log: log}
}

// Result describes the outcome of a successful Apply call.
type Result struct {
	CommitID string
	NoOp     bool
	Paths    []string // exact pathspecs staged (empty when NoOp)
}

// Apply performs the operation named by payload against the working tree,
// committing with exact pathspec staging. On any precondition failure, it
// returns a *review.Error and guarantees no staged-but-uncommitted state is
// left behind (any partial stage is reset before returning).
func (a *Applier) Apply(ctx context.Context, payload *review.PatchPayload) (*Result, error) {
	src := filepath.Join(a.root, filepath.FromSlash(payload.File))
	if err := a.ensureInside(src); err != nil {
		return nil, err
	}

	if payload.Op != review.OpCreate {
		dirty, err := a.hasLocalChanges(ctx, payload.File)
		if err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, err.Error(), nil)
		}
		if dirty {
			return nil, review.NewError(review.KindPreconditionFailure,
				fmt.Sprintf("refusing to %s %q: local modifications detected", payload.Op, payload.File), nil)
		}
	}

	switch payload.Op {
	case review.OpCreate, review.OpUpdate:
		return a.applyWrite(ctx, payload, src)
	case review.OpDelete:
		return a.applyDelete(ctx, payload, src)
	case review.OpRename:
		return a.applyRename(ctx, payload, src)
	case review.OpChmod:
		return a.applyChmod(ctx, payload, src)
	default:
		return nil, review.NewError(review.KindSchemaViolation, "unknown op "+string(payload.Op), nil)
	}
}

func (a *Applier) ensureInside(target string) error {
	rel, err := filepath.Rel(a.root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return review.NewError(review.KindUnsafePath, "path escapes repository root", map[string]string{"path": target})
	}
	return nil
}

func (a *Applier) hasLocalChanges(ctx context.Context, relPath string) (bool, error) {
	out, err := a.git.StatusPorcelain(ctx, relPath)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func normalizeText(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}

func (a *Applier) applyWrite(ctx context.Context, payload *review.PatchPayload, src string) (*Result, error) {
	exists := fileExists(src)
	if payload.Op == review.OpCreate && exists {
		return nil, review.NewError(review.KindPreconditionFailure, "create target already exists", map[string]string{"path": payload.File})
	}
	if payload.Op == review.OpUpdate && !exists {
		return nil, review.NewError(review.KindPreconditionFailure, "update target does not exist", map[string]string{"path": payload.File})
	}

	if payload.Op == review.OpUpdate {
		if noop, err := a.isNoOp(src, payload); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, err.Error(), nil)
		} else if noop {
			a.log.Info("update is a no-op, skipping commit", "path", payload.File)
			return &Result{NoOp: true}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "mkdir parent: "+err.Error(), nil)
	}

	var after []byte
	if payload.BodyB64 != nil {
		data, err := base64.StdEncoding.DecodeString(*payload.BodyB64)
		if err != nil {
			return nil, review.NewError(review.KindSchemaViolation, "invalid body_b64", nil)
		}
		after = data
	} else {
		text := ""
		if payload.Body != nil {
			text = *payload.Body
		}
		after = []byte(normalizeText(text))
	}

	if err := os.WriteFile(src, after, 0o644); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "write file: "+err.Error(), nil)
	}

	if err := a.git.Add(ctx, payload.File); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "stage: "+err.Error(), nil)
	}

	a.logDiff(ctx, payload.File)

	msg := fmt.Sprintf("GPT %s: %s", payload.Op, payload.File)
	if err := a.commitOrReset(ctx, msg, payload.File); err != nil {
		return nil, err
	}
	commit, _ := a.git.HeadCommit(ctx)
	return &Result{CommitID: commit, Paths: []string{payload.File}}, nil
}

func (a *Applier) isNoOp(src string, payload *review.PatchPayload) (bool, error) {
	current, err := os.ReadFile(src)
	if err != nil {
		return false, nil
	}
	if payload.BodyB64 != nil {
		decoded, err := base64.StdEncoding.DecodeString(*payload.BodyB64)
		if err != nil {
			return false, err
		}
		return string(current) == string(decoded), nil
	}
	if payload.Body != nil {
		return string(current) == normalizeText(*payload.Body), nil
	}
	return false, nil
}

func (a *Applier) applyDelete(ctx context.Context, payload *review.PatchPayload, src string) (*Result, error) {
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil, review.NewError(review.KindPreconditionFailure, "delete target does not exist", map[string]string{"path": payload.File})
	}
	if err == nil && info.IsDir() {
		return nil, review.NewError(review.KindPreconditionFailure, "delete target is a directory", map[string]string{"path": payload.File})
	}

	if err := os.Remove(src); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "remove file: "+err.Error(), nil)
	}
	if a.git.IsTracked(ctx, payload.File) {
		if err := a.git.RemoveCached(ctx, payload.File); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, "git rm --cached: "+err.Error(), nil)
		}
	} else {
		if err := a.git.Add(ctx, payload.File); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, "stage deletion: "+err.Error(), nil)
		}
	}

	msg := fmt.Sprintf("GPT delete: %s", payload.File)
	if err := a.commitOrReset(ctx, msg, payload.File); err != nil {
		return nil, err
	}
	commit, _ := a.git.HeadCommit(ctx)
	return &Result{CommitID: commit, Paths: []string{payload.File}}, nil
}

func (a *Applier) applyRename(ctx context.Context, payload *review.PatchPayload, src string) (*Result, error) {
	dst := filepath.Join(a.root, filepath.FromSlash(payload.Target))
	if err := a.ensureInside(dst); err != nil {
		return nil, err
	}
	if !fileExists(src) {
		return nil, review.NewError(review.KindPreconditionFailure, "rename source does not exist", map[string]string{"path": payload.File})
	}
	if fileExists(dst) {
		return nil, review.NewError(review.KindPreconditionFailure, "rename target already exists", map[string]string{"path": payload.Target})
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "mkdir parent: "+err.Error(), nil)
	}

	if a.git.IsTracked(ctx, payload.File) {
		if err := a.git.Move(ctx, payload.File, payload.Target); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, "git mv: "+err.Error(), nil)
		}
	} else {
		if err := os.Rename(src, dst); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, "rename: "+err.Error(), nil)
		}
		if err := a.git.Add(ctx, payload.File, payload.Target); err != nil {
			return nil, review.NewError(review.KindGitIndexCorrupt, "stage rename: "+err.Error(), nil)
		}
	}

	msg := fmt.Sprintf("GPT rename: %s -> %s", payload.File, payload.Target)
	paths := []string{payload.File, payload.Target}
	if err := a.commitOrReset(ctx, msg, paths...); err != nil {
		return nil, err
	}
	commit, _ := a.git.HeadCommit(ctx)
	return &Result{CommitID: commit, Paths: paths}, nil
}

func (a *Applier) applyChmod(ctx context.Context, payload *review.PatchPayload, src string) (*Result, error) {
	if !fileExists(src) {
		return nil, review.NewError(review.KindPreconditionFailure, "chmod target does not exist", map[string]string{"path": payload.File})
	}
	switch payload.Mode {
	case "644", "0644", "755", "0755":
	default:
		return nil, review.NewError(review.KindForbiddenMode, "mode must be one of 644, 755, 0644, 0755", map[string]string{"mode": payload.Mode})
	}
	desired, err := strconv.ParseInt(payload.Mode, 8, 32)
	if err != nil {
		return nil, review.NewError(review.KindForbiddenMode, "invalid mode", map[string]string{"mode": payload.Mode})
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "stat: "+err.Error(), nil)
	}
	if info.Mode().Perm() == os.FileMode(desired) {
		a.log.Info("mode already matches, skipping chmod", "path", payload.File, "mode", payload.Mode)
		return &Result{NoOp: true}, nil
	}

	if err := os.Chmod(src, os.FileMode(desired)); err != nil {
		// Open Question decision (DESIGN.md): a chmod error never aborts
		// the patch; it is logged with the requested mode and staging and
		// committing proceed as usual.
		a.log.Warn("chmod had no filesystem effect on this platform", "path", payload.File, "mode", payload.Mode, "error", err.Error())
	}

	if err := a.git.Add(ctx, payload.File); err != nil {
		return nil, review.NewError(review.KindGitIndexCorrupt, "stage chmod: "+err.Error(), nil)
	}
	msg := fmt.Sprintf("GPT chmod %s: %s", payload.Mode, payload.File)
	if err := a.commitOrReset(ctx, msg, payload.File); err != nil {
		return nil, err
	}
	commit, _ := a.git.HeadCommit(ctx)
	return &Result{CommitID: commit, Paths: []string{payload.File}}, nil
}

// commitOrReset commits staged paths, or resets them back out of the index
// on failure, guaranteeing no partial commit is ever left staged.
func (a *Applier) commitOrReset(ctx context.Context, message string, paths ...string) error {
	staged, err := a.git.HasStagedChanges(ctx)
	if err != nil {
		_ = a.git.ResetMixed(ctx, paths...)
		return review.NewError(review.KindGitIndexCorrupt, "check staged changes: "+err.Error(), nil)
	}
	if !staged {
		a.log.Info("no index changes detected, skipping commit", "message", message)
		return nil
	}
	if err := a.git.Commit(ctx, message); err != nil {
		_ = a.git.ResetMixed(ctx, paths...)
		return review.NewError(review.KindGitIndexCorrupt, "commit: "+err.Error(), nil)
	}
	a.log.Info("committed", "message", message)
	return nil
}

// logDiff parses the unified diff of the just-staged change and logs a
// compact hunk/line-count summary for the human review trail. Parsing
// failures are logged and ignored — diff output is advisory, never a
// precondition for applying.
func (a *Applier) logDiff(ctx context.Context, relPath string) {
	raw, err := a.git.DiffCached(ctx, relPath)
	if err != nil || strings.TrimSpace(raw) == "" {
		return
	}
	fd, err := diffpkg.ParseFileDiff([]byte(raw))
	if err != nil {
		a.log.Debug("could not parse staged diff for logging", "path", relPath, "error", err.Error())
		return
	}
	added, removed := 0, 0
	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	a.log.Debug("applied diff", "path", relPath, "hunks", len(fd.Hunks), "lines_added", added, "lines_removed", removed)
}

func fileExists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
