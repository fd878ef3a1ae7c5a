/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package capture

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"

	"agentwatch.dev/agentwatch"
	"agentwatch.dev/agentwatch/telemetry"
)

// Anthropic adapts Messages API responses.
var Anthropic = Provider[anthropic.Message]{
	Name:     "anthropic",
	SpanName: "anthropic.messages",
	Payload:  AnthropicPayload,
	Tokens: func(msg *anthropic.Message) (string, int64, int64, bool) {
		return string(msg.Model), msg.Usage.InputTokens, msg.Usage.OutputTokens, true
	},
}

// AnthropicPayload extracts the llm_call payload from a Messages API
// response. Nil-safe.
func AnthropicPayload(msg *anthropic.Message) telemetry.Payload {
	if msg == nil {
		return telemetry.Payload{"provider": "anthropic"}
	}
	return telemetry.Payload{
		"provider":      "anthropic",
		"model":         string(msg.Model),
		"stop_reason":   string(msg.StopReason),
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
	}
}

// AnthropicMessages spans one Messages API call.
func AnthropicMessages(ctx context.Context, c *agentwatch.Client, call func(context.Context) (*anthropic.Message, error), opts ...agentwatch.RecordOption) (*anthropic.Message, error) {
	return Anthropic.Call(ctx, c, call, opts...)
}
