// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunner_SuccessCapturesOutput(t *testing.T) {
	r := NewDefaultRunner(nil)
	result, err := r.Run(context.Background(), "echo hello", t.TempDir(), 5*time.Second, time.Second, 0)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Contains(t, result.Tail, "hello")
}

func TestDefaultRunner_NonZeroExit(t *testing.T) {
	r := NewDefaultRunner(nil)
	result, err := r.Run(context.Background(), "exit 3", t.TempDir(), 5*time.Second, time.Second, 0)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, 3, result.ExitCode)
}

func TestDefaultRunner_TimeoutKillsProcessGroup(t *testing.T) {
	r := NewDefaultRunner(nil)
	result, err := r.Run(context.Background(), "sleep 30", t.TempDir(), 200*time.Millisecond, 100*time.Millisecond, 0)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.False(t, result.Success())
}

func TestDefaultRunner_TailIsBoundedByCapacity(t *testing.T) {
	r := NewDefaultRunner(nil)
	result, err := r.Run(context.Background(), "yes x | head -c 10000", t.TempDir(), 5*time.Second, time.Second, 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Tail), 100)
}
