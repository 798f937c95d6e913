// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.level.String())
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, -4, int(LevelDebug.toSlogLevel()))
	assert.Equal(t, 0, int(LevelInfo.toSlogLevel()))
	assert.Equal(t, 4, int(LevelWarn.toSlogLevel()))
	assert.Equal(t, 8, int(LevelError.toSlogLevel()))
	assert.Equal(t, 0, int(Level(99).toSlogLevel()), "unknown level defaults to Info")
}

func TestNew_QuietWithoutLogDirProducesUsableLogger(t *testing.T) {
	logger := New(Config{Level: LevelInfo, Quiet: true})
	require.NotNil(t, logger)
	require.NotNil(t, logger.Slog())
	// Quiet with no LogDir means zero handlers, which New falls back to a
	// stderr text handler for rather than a nil slog.Logger.
	logger.Info("message with no destination configured")
	require.NoError(t, logger.Close())
}

func TestNew_FileLoggingWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "reviewd-test",
		Quiet:   true,
	})
	logger.Info("run starting", "run_id", "abc123")
	logger.Warn("transient transport failure, retrying turn", "attempt", 2)
	require.NoError(t, logger.Close())

	filename := "reviewd-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run starting", first["msg"])
	assert.Equal(t, "abc123", first["run_id"])
	assert.Equal(t, "reviewd-test", first["service"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "WARN", second["level"])
}

func TestNew_LevelFiltersBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "svc", Quiet: true})
	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("this one should appear")
	require.NoError(t, logger.Close())

	filename := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, string(data), "this one should appear")
}

func TestNew_CreatesLogDirWithTildeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	logger := New(Config{LogDir: "~/.reviewd/logs", Service: "svc", Quiet: true})
	defer logger.Close()

	entries, err := os.ReadDir(filepath.Join(home, ".reviewd", "logs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNew_MaxBacklogDaysPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "svc_2000-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("stale\n"), 0o644))

	logger := New(Config{LogDir: dir, Service: "svc", MaxBacklogDays: 1, Quiet: true})
	defer logger.Close()

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "file older than MaxBacklogDays should be pruned")

	today := filepath.Join(dir, "svc_"+time.Now().Format("2006-01-02")+".log")
	_, err = os.Stat(today)
	assert.NoError(t, err, "today's file should survive its own creation")
}

func TestNew_ZeroMaxBacklogDaysDisablesPruning(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "svc_2000-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("stale\n"), 0o644))

	logger := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	defer logger.Close()

	_, err := os.Stat(old)
	assert.NoError(t, err, "pruning is opt-in via MaxBacklogDays")
}

func TestDefault_ReturnsUsableLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	logger.Info("default logger works")
	assert.NoError(t, logger.Close())
}

func TestLogger_WithAddsAttributesAndSharesFile(t *testing.T) {
	dir := t.TempDir()
	parent := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	child := parent.With("run_id", "r-1")
	child.Info("iteration started")
	require.NoError(t, parent.Close())

	filename := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "r-1", entry["run_id"])
}

func TestLogger_CloseOnChildIsNoOp(t *testing.T) {
	dir := t.TempDir()
	parent := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	child := parent.With("k", "v")
	assert.NoError(t, child.Close())
	// parent's file must still be writable after the child's no-op Close.
	parent.Info("still alive")
	require.NoError(t, parent.Close())
}

func TestLogger_CloseWithoutFileIsNoOp(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
}

func TestLogger_SlogReturnsUnderlyingLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger.Slog())
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cases := []struct {
		in   string
		want string
	}{
		{"~/.reviewd/logs", filepath.Join(home, ".reviewd", "logs")},
		{"/var/log/reviewd", "/var/log/reviewd"},
		{"relative/path", "relative/path"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, expandPath(tc.in))
	}
}

func TestPruneBacklog_SkipsMalformedAndDirectoryEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc_not-a-date.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_2000-01-01.log"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "svc_2000-01-01.log"), 0o755))

	assert.NotPanics(t, func() { pruneBacklog(dir, "svc", 1) })

	// None of these should have been removed: wrong prefix, malformed
	// date, or a directory masquerading as a log file.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMultiHandler_FansOutToFileDestination(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "svc"})
	defer logger.Close()
	// Exercises the two-handler (stderr + file) branch of New without
	// asserting on stderr content, which isn't capturable deterministically
	// here; the file destination is enough to confirm the fan-out ran.
	logger.Info("fanned out")

	filename := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fanned out")
}
