// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate implements the Path & Payload Validator (C1): pure,
// deterministic parsing and safety-checking of a model-proposed patch
// envelope. No filesystem I/O happens here.
package validate

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

var safeModes = map[string]string{
	"644": "644", "0644": "644",
	"755": "755", "0755": "755",
}

// rawEnvelope mirrors the wire shape; Validate decodes into it with
// DisallowUnknownFields so unknown keys are rejected.
type rawEnvelope struct {
	Op      string  `json:"op"`
	File    string  `json:"file"`
	Body    *string `json:"body"`
	BodyB64 *string `json:"body_b64"`
	Target  string  `json:"target"`
	Mode    string  `json:"mode"`
	Status  string  `json:"status"`
}

// Validate parses raw as a single JSON object and checks it against the
// patch-payload schema and the path safety predicate.
//
// # Description
//
// Raw text must be exactly one JSON object with no surrounding prose, code
// fences, or additional objects; anything else fails with
// KindMalformedEnvelope. Required keys depend on op; unknown top-level
// keys are rejected.
//
// # Outputs
//
// On success, a fully populated *review.PatchPayload. On failure, a
// *review.Error whose Kind is one of MalformedEnvelope, SchemaViolation,
// UnsafePath, ForbiddenMode, MissingContent.
func Validate(raw []byte) (*review.PatchPayload, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, review.NewError(review.KindMalformedEnvelope, "empty payload", nil)
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var env rawEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, review.NewError(review.KindMalformedEnvelope, "not a single JSON object: "+err.Error(), nil)
	}
	if dec.More() {
		return nil, review.NewError(review.KindMalformedEnvelope, "trailing content after JSON object", nil)
	}

	op := review.Op(env.Op)
	switch op {
	case review.OpCreate, review.OpUpdate, review.OpDelete, review.OpRename, review.OpChmod:
	default:
		return nil, review.NewError(review.KindSchemaViolation, "unknown op "+env.Op, nil)
	}

	status := review.Status(env.Status)
	switch status {
	case review.StatusInProgress, review.StatusCompleted:
	default:
		return nil, review.NewError(review.KindSchemaViolation, "status must be in_progress or completed", nil)
	}

	if err := checkSafePath(env.File, "file"); err != nil {
		return nil, err
	}

	payload := &review.PatchPayload{
		Op:     op,
		File:   env.File,
		Status: status,
	}

	switch op {
	case review.OpCreate, review.OpUpdate:
		hasBody := env.Body != nil
		hasB64 := env.BodyB64 != nil
		if hasBody == hasB64 {
			return nil, review.NewError(review.KindMissingContent,
				"exactly one of body/body_b64 is required for "+env.Op, nil)
		}
		if hasB64 {
			if _, err := base64.StdEncoding.DecodeString(*env.BodyB64); err != nil {
				return nil, review.NewError(review.KindSchemaViolation, "body_b64 is not valid base64", nil)
			}
		}
		payload.Body = env.Body
		payload.BodyB64 = env.BodyB64

	case review.OpDelete:
		// file only; nothing further to check.

	case review.OpRename:
		if err := checkSafePath(env.Target, "target"); err != nil {
			return nil, err
		}
		payload.Target = env.Target

	case review.OpChmod:
		canon, ok := safeModes[env.Mode]
		if !ok {
			return nil, review.NewError(review.KindForbiddenMode,
				"mode must be one of 644, 755, 0644, 0755", map[string]string{"mode": env.Mode})
		}
		payload.Mode = canon
	}

	return payload, nil
}

// checkSafePath is the only place path acceptance is decided for any
// file/target field.
func checkSafePath(p, field string) error {
	if p == "" {
		return review.NewError(review.KindUnsafePath, field+" must not be empty", nil)
	}
	if strings.HasPrefix(p, "/") {
		return review.NewError(review.KindUnsafePath, field+" must not be absolute", map[string]string{"path": p})
	}
	if strings.Contains(p, "\\") {
		return review.NewError(review.KindUnsafePath, field+" must not contain backslashes", map[string]string{"path": p})
	}
	segments := strings.Split(p, "/")
	for _, seg := range segments {
		if seg == ".." {
			return review.NewError(review.KindUnsafePath, field+" must not contain .. segments", map[string]string{"path": p})
		}
	}
	if segments[0] == ".git" {
		return review.NewError(review.KindUnsafePath, field+" must not target .git", map[string]string{"path": p})
	}
	if normalize(p) != p {
		return review.NewError(review.KindUnsafePath, field+" is not in normalized form", map[string]string{"path": p})
	}
	return nil
}

// normalize collapses "./" segments and duplicate slashes without
// resolving ".." (that case is already rejected above), mirroring POSIX
// path normalization so parse(serialize(p)) == p holds for every
// accepted path.
func normalize(p string) string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
