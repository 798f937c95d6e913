// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scan implements the Repo Scanner (C3): a deterministic,
// size-bounded manifest of repository files with a syntactic
// code/doc/deferred classification, grounded on
// original_source/gpt_review/workflow.py's DEFAULT_IGNORES and iteration
// gating.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// DefaultIgnores mirrors workflow.py's DEFAULT_IGNORES tuple.
var DefaultIgnores = []string{
	".git", ".hg", ".svn", ".idea", ".vscode",
	"__pycache__", "node_modules", "venv", ".venv", "env",
	".mypy_cache", ".ruff_cache", "dist", "build", ".tox", ".pytest_cache",
}

// deferredExtensions, deferredTopDirs and deferredBasenames gate which files are held back for
// the final iteration: docs, setup/installation, and examples.
var deferredExtensions = map[string]bool{
	".md": true, ".rst": true, ".txt": true,
}

var deferredTopDirs = map[string]bool{
	"docs": true, "doc": true, "examples": true, "example": true, "setup": true,
}

var deferredBasenames = map[string]bool{
	"readme.md": true, "install.md": true, "setup.py": true, "setup.cfg": true,
}

// codeExtensions is the set of extensions classified as code/config rather
// than doc/deferred.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".rs": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".rb": true, ".sh": true, ".yaml": true, ".yml": true, ".json": true,
	".toml": true, ".mod": true, ".sum": true,
}

// Entry is one file in the manifest with its classification.
type Entry struct {
	Path  string
	Class review.FileClass
	Size  int64
}

// Manifest is the deterministic output of Scan.
type Manifest struct {
	Entries   []Entry
	Truncated bool
}

// CodeAndConfig returns entries classified code or doc (iteration 1/2
// targets).
func (m Manifest) CodeAndConfig() []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if e.Class == review.ClassCode || e.Class == review.ClassDoc {
			out = append(out, e)
		}
	}
	return out
}

// DocsAndExtras returns deferred entries (iteration 3 targets).
func (m Manifest) DocsAndExtras() []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if e.Class == review.ClassDeferred {
			out = append(out, e)
		}
	}
	return out
}

// Text renders a deterministic, human-readable manifest listing, bounded
// to maxLines (0 means unbounded). Used to ground prompts.
func (m Manifest) Text(maxLines int) string {
	var sb strings.Builder
	count := 0
	for _, e := range m.Entries {
		if maxLines > 0 && count >= maxLines {
			sb.WriteString(fmt.Sprintf("... (%d more files omitted)\n", len(m.Entries)-count))
			break
		}
		sb.WriteString(fmt.Sprintf("%-8s %8d  %s\n", e.Class, e.Size, e.Path))
		count++
	}
	return sb.String()
}

// Scan walks root, skipping ignored directories, and classifies every
// regular file syntactically (by extension and top-level location). No
// content heuristics are used. The result is sorted by path for
// determinism.
func Scan(root string, maxLines int, ignores []string) (*Manifest, error) {
	if len(ignores) == 0 {
		ignores = DefaultIgnores
	}
	ignoreSet := make(map[string]bool, len(ignores))
	for _, i := range ignores {
		ignoreSet[i] = true
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := filepath.Base(rel)

		if d.IsDir() {
			if ignoreSet[base] {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		entries = append(entries, Entry{
			Path:  rel,
			Class: classify(rel),
			Size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	truncated := false
	if maxLines > 0 && len(entries) > maxLines {
		truncated = true
	}
	return &Manifest{Entries: entries, Truncated: truncated}, nil
}

func classify(relPath string) review.FileClass {
	segments := strings.Split(relPath, "/")
	if len(segments) > 1 && deferredTopDirs[strings.ToLower(segments[0])] {
		return review.ClassDeferred
	}

	base := strings.ToLower(filepath.Base(relPath))
	if deferredBasenames[base] {
		return review.ClassDeferred
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	if deferredExtensions[ext] {
		return review.ClassDeferred
	}
	if codeExtensions[ext] {
		return review.ClassCode
	}
	return review.ClassDoc
}

// ClassifyForIteration returns the file paths eligible for iteration n
// (1-indexed, bounded 1..3): iterations 1-2 restrict to code/doc,
// iteration 3 adds deferred files.
func ClassifyForIteration(m *Manifest, iteration int) []string {
	var out []string
	for _, e := range m.Entries {
		switch {
		case e.Class == review.ClassCode || e.Class == review.ClassDoc:
			out = append(out, e.Path)
		case e.Class == review.ClassDeferred && iteration >= 3:
			out = append(out, e.Path)
		}
	}
	return out
}
