// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
)

// Completer abstracts the model-inference collaborator so tests can
// substitute a fake.
//
// Thread Safety: implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends a system and user prompt and returns the raw
	// model response text. The response is requested as a JSON object.
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIClient is the production Completer backed by the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds a Completer from the loaded LLM settings.
// The API key comes from the environment via config.Load; a missing
// key is a configuration error, not something to retry.
func NewOpenAIClient(cfg config.LLM, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoAPIKey, config.EnvAPIKey)
	}
	logger.Info("initializing model client", "model", cfg.Model)
	return &OpenAIClient{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Complete implements Completer.
func (o *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	o.logger.Debug("requesting completion", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	o.logger.Debug("completion received", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// classifyModelErr maps model-call errors to retry classes: rate
// limits, server errors, and timeouts are transient; client-side
// request errors are not worth repeating.
func classifyModelErr(err error) retry.Class {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return retry.Retryable
		}
		return retry.Fatal
	}
	// Network-level failures and timeouts arrive as plain errors.
	return retry.Retryable
}
