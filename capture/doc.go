/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package capture adapts model-provider SDK responses into llm_call
// events. Provider is the capability each integration implements over
// its SDK's response type; the built-in adapters cover the Anthropic,
// OpenAI, and Gemini SDKs with call wrappers that span the request and
// attach model, token usage, and stop reason, plus payload extractors
// for callers that manage spans themselves.
//
//	msg, err := capture.AnthropicMessages(ctx, client, func(ctx context.Context) (*anthropic.Message, error) {
//		return sdk.Messages.New(ctx, params)
//	})
//
// Token usage is additionally recorded to the genai.token.* meters.
package capture
