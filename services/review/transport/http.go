// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"

	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/validate"
)

const submitPatchToolName = "submit_patch"

// HTTPConfig configures the OpenAI chat-completions realization.
type HTTPConfig struct {
	Model     string
	BaseURL   string // empty uses the SDK default
	APIKeyEnv string // defaults to OPENAI_API_KEY
	Retry     RetryPolicy
}

// HTTPTransport drives a remote HTTP chat API, requiring the model to
// invoke the submit_patch tool for patch-mode requests. Grounded on
// original_source/gpt_review/api_client.py's OpenAIClient and
// services/code_buddy/agent/llm/client.go's Client/ToolChoice shapes.
type HTTPTransport struct {
	cfg    HTTPConfig
	client *openai.Client
	key    *memguard.Enclave
	log    *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// NewHTTPTransport resolves the API key (env var, falling back to a
// Podman-secret file the way services/llm/openai_llm.go does) and locks it
// in guarded memory for the lifetime of the transport.
func NewHTTPTransport(cfg HTTPConfig, log *slog.Logger) (*HTTPTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		data, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(data))
			log.Info("read API key from Podman secret", "path", secretPath)
		} else {
			return nil, review.NewError(review.KindConfigError, cfg.APIKeyEnv+" is not set and no secret file found", nil)
		}
	}

	enclave := memguard.NewEnclave([]byte(apiKey))
	buf, err := enclave.Open()
	if err != nil {
		return nil, review.NewError(review.KindConfigError, "failed to seal API key: "+err.Error(), nil)
	}
	keyCopy := buf.String()
	buf.Destroy()

	var clientConfig openai.ClientConfig
	if cfg.BaseURL != "" {
		clientConfig = openai.DefaultConfig(keyCopy)
		clientConfig.BaseURL = cfg.BaseURL
	} else {
		clientConfig = openai.DefaultConfig(keyCopy)
	}

	return &HTTPTransport{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		key:    enclave,
		log:    log,
	}, nil
}

// PatchSchema returns the exact JSON Schema the submit_patch tool argument
// must satisfy, exported so cmd/reviewd's schema subcommand can print the
// real wire contract instead of a hand-duplicated copy. Mirrors
// original_source/gpt_review/api_client.py's _submit_patch_tool().
func PatchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type": "string",
				"enum": []string{"create", "update", "delete", "rename", "chmod"},
			},
			"file":     map[string]any{"type": "string"},
			"body":     map[string]any{"type": "string"},
			"body_b64": map[string]any{"type": "string"},
			"target":   map[string]any{"type": "string"},
			"mode": map[string]any{
				"type":    "string",
				"pattern": `^[0-7]{3,4}$`,
			},
			"status": map[string]any{
				"type": "string",
				"enum": []string{"in_progress", "completed"},
			},
		},
		"required":             []string{"op", "status"},
		"additionalProperties": false,
	}
}

func submitPatchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        submitPatchToolName,
			Description: "Submit exactly one file-level patch operation.",
			Parameters:  PatchSchema(),
		},
	}
}

func systemPrompt() string {
	return "You are an automated code reviewer. For every turn that expects a patch, " +
		"call the submit_patch tool exactly once with a single file operation. " +
		"Never reply with prose instead of the tool call."
}

// Exchange implements Transport.
func (t *HTTPTransport) Exchange(ctx context.Context, conv *review.Conversation, req Request) (*Reply, error) {
	t.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	t.mu.Unlock()
	defer cancel()

	if req.Deadline > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, req.Deadline)
		defer timeoutCancel()
	}

	return WithRetry(ctx, t.cfg.Retry, func(ctx context.Context) (*Reply, error) {
		return t.exchangeOnce(ctx, conv, req)
	})
}

func (t *HTTPTransport) exchangeOnce(ctx context.Context, conv *review.Conversation, req Request) (*Reply, error) {
	messages := buildMessages(conv, req.Prompt)

	request := openai.ChatCompletionRequest{
		Model:       t.cfg.Model,
		Messages:    messages,
		Temperature: 0,
	}

	if req.Mode == ModePatch {
		request.Tools = []openai.Tool{submitPatchTool()}
		request.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: submitPatchToolName},
		}
	}

	resp, err := t.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, review.NewError(review.KindTransportTransient, "empty choices in response", nil)
	}

	choice := resp.Choices[0]
	if req.Mode == ModePlanText {
		return &Reply{Text: choice.Message.Content}, nil
	}

	// ModePatch: the model is required to invoke submit_patch. Anything
	// else is a ProtocolViolation, per api_client.py's
	// call_submit_patch() raising "Assistant did not call the required
	// tool 'submit_patch'."
	for _, call := range choice.Message.ToolCalls {
		if call.Function.Name != submitPatchToolName {
			continue
		}
		payload, err := validate.Validate([]byte(call.Function.Arguments))
		if err != nil {
			return nil, err
		}
		return &Reply{Patch: payload}, nil
	}

	return nil, review.NewError(review.KindProtocolViolation,
		"assistant did not call the required tool 'submit_patch'", nil)
}

// buildMessages converts the bounded conversation history plus the new
// prompt into the wire message list under a token-thrift rule: system
// prompt + last N pairs + current user message, nothing implicit.
func buildMessages(conv *review.Conversation, prompt string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(conv.Turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(),
	})
	for _, turn := range conv.Turns {
		role := openai.ChatMessageRoleUser
		switch turn.Role {
		case review.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case review.RoleTool:
			role = openai.ChatMessageRoleTool
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return messages
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return review.NewError(review.KindTransportAuth, err.Error(), nil)
		case apiErr.HTTPStatusCode >= 500:
			return review.NewError(review.KindTransportTransient, err.Error(), nil)
		default:
			return review.NewError(review.KindTransportTransient, err.Error(), nil)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return review.NewError(review.KindTransportTimeout, err.Error(), nil)
	}
	return review.NewError(review.KindTransportTransient, err.Error(), nil)
}

// Cancel implements Transport.
func (t *HTTPTransport) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
}

// Close implements Transport; releases the guarded API key.
func (t *HTTPTransport) Close() error {
	if buf, err := t.key.Open(); err == nil {
		buf.Destroy()
	}
	return nil
}
