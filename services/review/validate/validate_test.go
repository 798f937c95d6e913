// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

func TestValidate_UnsafePathRejection(t *testing.T) {
	_, err := Validate([]byte(`{"op":"update","file":"../secret","body":"x","status":"in_progress"}`))
	require.Error(t, err)
	rerr, ok := review.AsReviewError(err)
	require.True(t, ok)
	assert.Equal(t, review.KindUnsafePath, rerr.Kind)
}

func TestValidate_CreateAccepted(t *testing.T) {
	p, err := Validate([]byte(`{"op":"create","file":"a/b.txt","body":"hello","status":"in_progress"}`))
	require.NoError(t, err)
	assert.Equal(t, review.OpCreate, p.Op)
	require.NotNil(t, p.Body)
	assert.Equal(t, "hello", *p.Body)
}

func TestValidate_RejectsBothBodyFields(t *testing.T) {
	_, err := Validate([]byte(`{"op":"create","file":"a.txt","body":"x","body_b64":"eA==","status":"in_progress"}`))
	require.Error(t, err)
	rerr, _ := review.AsReviewError(err)
	assert.Equal(t, review.KindMissingContent, rerr.Kind)
}

func TestValidate_RejectsNeitherBodyField(t *testing.T) {
	_, err := Validate([]byte(`{"op":"update","file":"a.txt","status":"in_progress"}`))
	require.Error(t, err)
	rerr, _ := review.AsReviewError(err)
	assert.Equal(t, review.KindMissingContent, rerr.Kind)
}

func TestValidate_ChmodAllowList(t *testing.T) {
	_, err := Validate([]byte(`{"op":"chmod","file":"a.sh","mode":"700","status":"in_progress"}`))
	require.Error(t, err)
	rerr, _ := review.AsReviewError(err)
	assert.Equal(t, review.KindForbiddenMode, rerr.Kind)

	p, err := Validate([]byte(`{"op":"chmod","file":"a.sh","mode":"0755","status":"in_progress"}`))
	require.NoError(t, err)
	assert.Equal(t, "755", p.Mode)
}

func TestValidate_RenameRequiresBothPaths(t *testing.T) {
	p, err := Validate([]byte(`{"op":"rename","file":"src.txt","target":"dst.txt","status":"in_progress"}`))
	require.NoError(t, err)
	assert.Equal(t, "dst.txt", p.Target)

	_, err = Validate([]byte(`{"op":"rename","file":"src.txt","target":"../dst.txt","status":"in_progress"}`))
	require.Error(t, err)
}

func TestValidate_RejectsUnknownKeys(t *testing.T) {
	_, err := Validate([]byte(`{"op":"delete","file":"a.txt","status":"in_progress","extra":"nope"}`))
	require.Error(t, err)
	rerr, _ := review.AsReviewError(err)
	assert.Equal(t, review.KindMalformedEnvelope, rerr.Kind)
}

func TestValidate_RejectsMultipleObjects(t *testing.T) {
	_, err := Validate([]byte(`{"op":"delete","file":"a.txt","status":"in_progress"}{"op":"delete","file":"b.txt","status":"in_progress"}`))
	require.Error(t, err)
}

func TestValidate_RejectsProseWrapper(t *testing.T) {
	_, err := Validate([]byte("Sure, here's the patch:\n```json\n{\"op\":\"delete\",\"file\":\"a.txt\",\"status\":\"in_progress\"}\n```"))
	require.Error(t, err)
}

func TestValidate_RejectsBadBase64(t *testing.T) {
	_, err := Validate([]byte(`{"op":"create","file":"a.bin","body_b64":"not-base64!!","status":"in_progress"}`))
	require.Error(t, err)
}
