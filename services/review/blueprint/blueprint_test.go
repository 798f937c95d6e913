// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blueprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

func TestStatus_AllMissingInFreshRepo(t *testing.T) {
	root := t.TempDir()
	set := Status(root)
	assert.Len(t, set.Missing(), 4)
}

func TestStatus_DetectsPresentDocuments(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDir(root))
	require.NoError(t, os.WriteFile(filepath.Join(Dir(root), "WHITEPAPER.md"), []byte("# hello\n"), 0o644))

	set := Status(root)
	missing := set.Missing()
	assert.Len(t, missing, 3)
	for _, f := range set.Files {
		if f.Kind == review.BlueprintWhitepaper {
			assert.True(t, f.Present)
			assert.Greater(t, f.Size, int64(0))
		}
	}
}

func TestSummarize_RendersMissingAndPresentSections(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDir(root))
	require.NoError(t, os.WriteFile(filepath.Join(Dir(root), "BUILD_GUIDE.md"), []byte("step one\nstep two\n"), 0o644))

	summary := Summarize(root, 1000)
	assert.Contains(t, summary, "## Whitepaper")
	assert.Contains(t, summary, "<missing>")
	assert.Contains(t, summary, "## Build Guide")
	assert.Contains(t, summary, "step one")
}

func TestSummarize_TruncatesLongDocuments(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDir(root))
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(Dir(root), "SYSTEM_DESIGN.md"), long, 0o644))

	summary := Summarize(root, 100)
	assert.Contains(t, summary, "...")
}

func TestNormalizeMarkdown_EnsuresTrailingNewline(t *testing.T) {
	assert.Equal(t, "line one\n", NormalizeMarkdown("line one"))
	assert.Equal(t, "line one\n", NormalizeMarkdown("line one\r\n"))
	assert.Equal(t, "", NormalizeMarkdown(""))
}

func TestMissingRelPaths_SortedAndBlueprintRelative(t *testing.T) {
	root := t.TempDir()
	set := Status(root)
	paths := MissingRelPaths(set)
	require.Len(t, paths, 4)
	assert.Contains(t, paths[0], ".reviewd/blueprints/")
}
