// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

func writeFile(t *testing.T, root, rel, contents string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
}

func TestScan_ClassifiesAndIgnores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "docs/guide.md", "# guide\n")
	writeFile(t, dir, "node_modules/pkg/index.js", "ignored\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")

	m, err := Scan(dir, 0, nil)
	require.NoError(t, err)

	var paths []string
	for _, e := range m.Entries {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "main.go")
	assert.Contains(t, paths, "docs/guide.md")
	assert.NotContains(t, paths, "node_modules/pkg/index.js")
	assert.NotContains(t, paths, ".git/HEAD")

	for _, e := range m.Entries {
		if e.Path == "main.go" {
			assert.Equal(t, review.ClassCode, e.Class)
		}
		if e.Path == "docs/guide.md" {
			assert.Equal(t, review.ClassDeferred, e.Class)
		}
	}
}

func TestClassifyForIteration_DeferredOnlyAtThree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "docs/guide.md", "# guide\n")

	m, err := Scan(dir, 0, nil)
	require.NoError(t, err)

	one := ClassifyForIteration(m, 1)
	assert.Contains(t, one, "main.go")
	assert.NotContains(t, one, "docs/guide.md")

	three := ClassifyForIteration(m, 3)
	assert.Contains(t, three, "main.go")
	assert.Contains(t, three, "docs/guide.md")
}

func TestManifest_TextTruncates(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, dir, filepath.Join("pkg", string(rune('a'+i))+".go"), "package pkg\n")
	}
	m, err := Scan(dir, 0, nil)
	require.NoError(t, err)
	text := m.Text(2)
	assert.Contains(t, text, "more files omitted")
}
