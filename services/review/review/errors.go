// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package review

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications every component in this
// module reports through. Recoverable kinds are translated into
// model-facing retry prompts or internal retry decisions by the
// Orchestrator; fatal kinds abort the run.
type Kind string

const (
	KindMalformedEnvelope   Kind = "malformed_envelope"
	KindSchemaViolation     Kind = "schema_violation"
	KindUnsafePath          Kind = "unsafe_path"
	KindForbiddenMode       Kind = "forbidden_mode"
	KindMissingContent      Kind = "missing_content"
	KindPreconditionFailure Kind = "precondition_failure"
	KindTransportTimeout    Kind = "transport_timeout"
	KindTransportTransient  Kind = "transport_transient"
	KindTransportAuth       Kind = "transport_auth"
	KindTransportUIFailure  Kind = "transport_ui_failure"
	KindProtocolViolation   Kind = "protocol_violation"
	KindCommandFailed       Kind = "command_failed"
	KindCommandTimeout      Kind = "command_timeout"
	KindGitIndexCorrupt     Kind = "git_index_corrupt"
	KindResourceInUse       Kind = "resource_in_use"
	KindConfigError         Kind = "config_error"
	KindBudgetExceeded      Kind = "budget_exceeded"
)

// Fatal reports whether errors of this kind abort the run rather than
// being translated into a retry.
func (k Kind) Fatal() bool {
	switch k {
	case KindTransportAuth, KindTransportUIFailure, KindProtocolViolation,
		KindGitIndexCorrupt, KindResourceInUse, KindConfigError:
		return true
	default:
		return false
	}
}

// Error is the structured error type every component returns. It carries
// enough information for the Orchestrator to decide retry vs abort and to
// build a model-facing retry prompt without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil review error>"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs an *Error with optional key/value details.
func NewError(kind Kind, message string, details map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// AsReviewError unwraps err into *Error if possible.
func AsReviewError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
