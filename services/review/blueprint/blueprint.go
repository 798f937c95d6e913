// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package blueprint implements the passive half of the Blueprint Manager
// (C4): it knows the four canonical documents' paths and labels, reports
// which are present or missing under a well-known subdirectory of the
// repo, and produces a compact, byte-bounded summary of them for prompt
// context. It never writes to the repository or the network — generating
// a missing document and committing it is the orchestrator's job
// (services/review/orchestrator's blueprintPreflight/ensureBlueprintDoc),
// exactly as original_source/gpt_review/blueprints_util.py disclaims any
// git side-effects of its own. Grounded on blueprints_util.py's
// key/filename tables and summarization shape.
package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// subdir is where canonical documents live, relative to the repo root.
const subdir = ".reviewd/blueprints"

// order fixes iteration order so summaries and Files[4] are deterministic.
var order = []review.BlueprintKind{
	review.BlueprintWhitepaper,
	review.BlueprintBuildGuide,
	review.BlueprintSystemDesign,
	review.BlueprintInstructions,
}

var labels = map[review.BlueprintKind]string{
	review.BlueprintWhitepaper:   "Whitepaper",
	review.BlueprintBuildGuide:   "Build Guide",
	review.BlueprintSystemDesign: "System Design",
	review.BlueprintInstructions: "Project Instructions",
}

var filenames = map[review.BlueprintKind]string{
	review.BlueprintWhitepaper:   "WHITEPAPER.md",
	review.BlueprintBuildGuide:   "BUILD_GUIDE.md",
	review.BlueprintSystemDesign: "SYSTEM_DESIGN.md",
	review.BlueprintInstructions: "PROJECT_INSTRUCTIONS.md",
}

// Dir returns the absolute blueprint directory for repoRoot.
func Dir(repoRoot string) string {
	return filepath.Join(repoRoot, subdir)
}

// RelPath returns the repo-relative POSIX path for a blueprint kind, the
// form expected by the patch protocol's "file" field.
func RelPath(kind review.BlueprintKind) string {
	return filepath.ToSlash(filepath.Join(subdir, filenames[kind]))
}

// Label returns the human-readable heading used in summaries.
func Label(kind review.BlueprintKind) string {
	return labels[kind]
}

// EnsureDir creates the blueprint directory if absent.
func EnsureDir(repoRoot string) error {
	return os.MkdirAll(Dir(repoRoot), 0o755)
}

// Status inspects the filesystem and reports presence/size for all four
// canonical documents. It performs no writes.
func Status(repoRoot string) review.BlueprintSet {
	var set review.BlueprintSet
	for i, kind := range order {
		path := filepath.Join(repoRoot, subdir, filenames[kind])
		info, err := os.Stat(path)
		set.Files[i] = review.BlueprintFile{
			Kind:    kind,
			Path:    RelPath(kind),
			Present: err == nil && !info.IsDir(),
		}
		if err == nil && !info.IsDir() {
			set.Files[i].Size = info.Size()
		}
	}
	return set
}

// Summarize renders a compact Markdown digest of the four documents,
// each section capped at maxCharsPerDoc, suitable for prompt context.
// Missing documents render as "<missing>".
func Summarize(repoRoot string, maxCharsPerDoc int) string {
	var sb strings.Builder
	for _, kind := range order {
		path := filepath.Join(repoRoot, subdir, filenames[kind])
		body := readTextSafe(path)
		sb.WriteString(fmt.Sprintf("## %s\n", labels[kind]))
		if strings.TrimSpace(body) == "" {
			sb.WriteString("<missing>\n\n")
			continue
		}
		if maxCharsPerDoc > 0 && len(body) > maxCharsPerDoc {
			body = body[:maxCharsPerDoc] + "\n...\n"
		}
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

func readTextSafe(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// NormalizeMarkdown converts CRLF/CR to LF and appends a trailing newline
// when non-empty text lacks one. Empty text stays empty, and existing
// trailing blank lines are kept.
func NormalizeMarkdown(text string) string {
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	if t == "" || strings.HasSuffix(t, "\n") {
		return t
	}
	return t + "\n"
}

// MissingRelPaths is a convenience wrapper returning just the repo-relative
// paths of missing documents, sorted by path.
func MissingRelPaths(set review.BlueprintSet) []string {
	missing := set.Missing()
	sort.Slice(missing, func(i, j int) bool { return missing[i].Path < missing[j].Path })
	out := make([]string, 0, len(missing))
	for _, f := range missing {
		out = append(out, f.Path)
	}
	return out
}
