/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package capture

import (
	"context"

	"agentwatch.dev/agentwatch"
	"agentwatch.dev/agentwatch/telemetry"
)

// Provider is the capability a model integration implements: given one
// call's response it yields the llm_call payload and, when available,
// token usage. The core never depends on a specific SDK; each adapter
// in this package is a Provider over its SDK's response type.
type Provider[Resp any] struct {
	// Name identifies the provider ("anthropic", "openai", "gemini").
	Name string
	// SpanName names the recorded span ("anthropic.messages").
	SpanName string
	// Payload extracts the llm_call payload. Must be nil-safe.
	Payload func(*Resp) telemetry.Payload
	// Tokens extracts model and token usage, ok=false when the
	// response carries none.
	Tokens func(*Resp) (model string, input, output int64, ok bool)
}

// Call spans one model invocation. The response and error pass through
// unchanged; the span closes on every exit path with the extracted
// payload, and token usage is recorded to the meters. With no active
// session the call is a plain passthrough.
func (p Provider[Resp]) Call(ctx context.Context, c *agentwatch.Client, call func(context.Context) (*Resp, error), opts ...agentwatch.RecordOption) (*Resp, error) {
	sctx, span := c.StartSpan(ctx, telemetry.KindLLMCall, p.SpanName, nil, opts...)
	if !span.Valid() {
		return call(ctx)
	}
	resp, err := call(sctx)
	c.Close(sctx, span, agentwatch.Outcome{Err: err, Result: p.Payload(resp)})
	if resp != nil && p.Tokens != nil {
		if model, input, output, ok := p.Tokens(resp); ok {
			c.RecordTokens(ctx, model, input, output)
		}
	}
	return resp, err
}
