/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package capture

import (
	"context"

	"github.com/openai/openai-go"

	"agentwatch.dev/agentwatch"
	"agentwatch.dev/agentwatch/telemetry"
)

// OpenAI adapts chat completion responses.
var OpenAI = Provider[openai.ChatCompletion]{
	Name:     "openai",
	SpanName: "openai.chat.completions",
	Payload:  OpenAIPayload,
	Tokens: func(resp *openai.ChatCompletion) (string, int64, int64, bool) {
		return resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, true
	},
}

// OpenAIPayload extracts the llm_call payload from a chat completion
// response. Nil-safe.
func OpenAIPayload(resp *openai.ChatCompletion) telemetry.Payload {
	if resp == nil {
		return telemetry.Payload{"provider": "openai"}
	}
	p := telemetry.Payload{
		"provider":      "openai",
		"model":         resp.Model,
		"input_tokens":  resp.Usage.PromptTokens,
		"output_tokens": resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		p["stop_reason"] = resp.Choices[0].FinishReason
	}
	return p
}

// OpenAIChatCompletion spans one chat completion call.
func OpenAIChatCompletion(ctx context.Context, c *agentwatch.Client, call func(context.Context) (*openai.ChatCompletion, error), opts ...agentwatch.RecordOption) (*openai.ChatCompletion, error) {
	return OpenAI.Call(ctx, c, call, opts...)
}
