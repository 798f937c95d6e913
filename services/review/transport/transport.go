// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport defines the Transport Interface (C6): a single
// request/reply capability to the LLM with deadline, retry, and
// cancellation semantics, grounded on
// services/code_buddy/agent/llm/client.go's Client interface and
// original_source/gpt_review/api_client.py's submit_patch tool contract.
//
// Two realizations implement Transport: http.go (OpenAI chat-completions
// with tool-calling) and browser.go (interactive web-chat automation). The
// Orchestrator never inspects which one it holds.
package transport

import (
	"context"
	"time"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// Mode selects what shape of reply a Request expects.
type Mode string

const (
	// ModePatch requires the model to reply with exactly one structured
	// patch envelope (submit_patch tool call).
	ModePatch Mode = "patch"
	// ModePlanText asks for a free-text reply that the caller parses itself
	// (the plan-first JSON object, the finalize summary).
	ModePlanText Mode = "plan_text"
)

// Request is one outbound exchange.
type Request struct {
	Mode    Mode
	Prompt  string
	Deadline time.Duration
}

// Reply is one inbound exchange result. Exactly one of Patch/Text is set,
// matching the Request's Mode.
type Reply struct {
	Patch *review.PatchPayload
	Text  string
}

// Transport is the single capability every realization implements.
//
// Thread Safety: implementations must be safe for sequential reuse across
// a run; concurrent calls on the same Transport are not required to be
// supported, since the orchestrator drives it single-threaded.
type Transport interface {
	// Exchange sends req against conversation history and returns one
	// reply. On timeout, returns a *review.Error with KindTransportTimeout
	// and leaves conversation unmodified by the in-flight turn.
	Exchange(ctx context.Context, conv *review.Conversation, req Request) (*Reply, error)

	// Cancel aborts any in-flight Exchange within a bounded quiescence
	// interval. Safe to call even when no exchange is in flight.
	Cancel()

	// Close releases any resources held by the transport (connections,
	// locked user-data directories, browser sessions).
	Close() error
}

// RetryPolicy configures the exponential-backoff-with-jitter retry loop
// (WithRetry) the HTTP realization applies to TransportTransient/
// TransportTimeout errors. The browser realization does not retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	WallClock   time.Duration // ceiling that dominates when attempts are still below MaxAttempts
}

// DefaultRetryPolicy bounds retries by both a retry count and a
// wall-clock ceiling; the ceiling dominates when the model is very slow.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		WallClock:   5 * time.Minute,
	}
}
