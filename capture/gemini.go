/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package capture

import (
	"context"

	"google.golang.org/genai"

	"agentwatch.dev/agentwatch"
	"agentwatch.dev/agentwatch/telemetry"
)

// Gemini adapts generate-content responses. The model name is bound up
// front; the response does not carry it.
func Gemini(model string) Provider[genai.GenerateContentResponse] {
	return Provider[genai.GenerateContentResponse]{
		Name:     "gemini",
		SpanName: "gemini.generate_content",
		Payload: func(resp *genai.GenerateContentResponse) telemetry.Payload {
			p := GeminiPayload(resp)
			p["model"] = model
			return p
		},
		Tokens: func(resp *genai.GenerateContentResponse) (string, int64, int64, bool) {
			if resp.UsageMetadata == nil {
				return "", 0, 0, false
			}
			return model,
				int64(resp.UsageMetadata.PromptTokenCount),
				int64(resp.UsageMetadata.CandidatesTokenCount),
				true
		},
	}
}

// GeminiPayload extracts the llm_call payload from a generate-content
// response. Nil-safe, including a nil UsageMetadata.
func GeminiPayload(resp *genai.GenerateContentResponse) telemetry.Payload {
	p := telemetry.Payload{"provider": "gemini"}
	if resp == nil {
		return p
	}
	if resp.UsageMetadata != nil {
		p["input_tokens"] = int64(resp.UsageMetadata.PromptTokenCount)
		p["output_tokens"] = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) > 0 {
		p["stop_reason"] = string(resp.Candidates[0].FinishReason)
	}
	return p
}

// GeminiGenerateContent spans one generate-content call.
func GeminiGenerateContent(ctx context.Context, c *agentwatch.Client, model string, call func(context.Context) (*genai.GenerateContentResponse, error), opts ...agentwatch.RecordOption) (*genai.GenerateContentResponse, error) {
	return Gemini(model).Call(ctx, c, call, opts...)
}
