// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchSchema_RequiredFieldsAndOpEnum(t *testing.T) {
	schema := PatchSchema()

	assert.Equal(t, "object", schema["type"])
	assert.False(t, schema["additionalProperties"].(bool))

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Contains(t, required, "op")
	assert.Contains(t, required, "status")

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	op, ok := props["op"].(map[string]any)
	require.True(t, ok)
	opEnum, ok := op["enum"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"create", "update", "delete", "rename", "chmod"}, opEnum)

	status, ok := props["status"].(map[string]any)
	require.True(t, ok)
	statusEnum, ok := status["enum"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"in_progress", "completed"}, statusEnum)
}
