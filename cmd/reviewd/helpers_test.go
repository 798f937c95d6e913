// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

func TestLooksLikeCloneURL(t *testing.T) {
	tests := []struct {
		arg  string
		want bool
	}{
		{"https://github.com/org/repo.git", true},
		{"http://example.com/repo.git", true},
		{"git://example.com/repo.git", true},
		{"ssh://git@example.com/repo.git", true},
		{"git@github.com:org/repo.git", true},
		{".", false},
		{"/abs/path/to/repo", false},
		{"../relative/repo", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksLikeCloneURL(tt.arg), tt.arg)
	}
}

func TestValidateIterations(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		require.NoError(t, validateIterations(n))
	}
	for _, n := range []int{0, -1, 4, 10} {
		require.Error(t, validateIterations(n))
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		kind review.Kind
		want int
	}{
		{review.KindUnsafePath, exitSafetyViolation},
		{review.KindForbiddenMode, exitSafetyViolation},
		{review.KindProtocolViolation, exitSafetyViolation},
		{review.KindTransportAuth, exitTransportExhausted},
		{review.KindTransportTimeout, exitTransportExhausted},
		{review.KindTransportTransient, exitTransportExhausted},
		{review.KindTransportUIFailure, exitTransportExhausted},
		{review.KindCommandFailed, exitVerificationNeverPassed},
		{review.KindCommandTimeout, exitVerificationNeverPassed},
		{review.KindBudgetExceeded, exitVerificationNeverPassed},
		{review.KindConfigError, exitValidationError},
	}
	for _, tt := range tests {
		err := &review.Error{Kind: tt.kind, Message: "test"}
		assert.Equal(t, tt.want, exitCodeFor(err), tt.kind)
	}

	assert.Equal(t, exitFatal, exitCodeFor(errors.New("not a review error")))
}
