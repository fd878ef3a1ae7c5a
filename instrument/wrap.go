/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package instrument

import (
	"context"
	"fmt"

	"agentwatch.dev/agentwatch"
	"agentwatch.dev/agentwatch/telemetry"
)

// WrapFunc returns fn wrapped in a span of the given kind and name. The
// span opens before fn runs and closes on every exit path: normal
// return, error return, and panic. A panic is recorded as the span's
// error outcome and then re-raised unchanged.
func WrapFunc[In, Out any](c *agentwatch.Client, kind telemetry.Kind, name string, fn func(context.Context, In) (Out, error), opts ...agentwatch.RecordOption) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (out Out, err error) {
		sctx, span := c.StartSpan(ctx, kind, name, nil, opts...)
		if !span.Valid() {
			return fn(ctx, in)
		}
		defer func() {
			if r := recover(); r != nil {
				c.Close(sctx, span, agentwatch.Outcome{Err: fmt.Errorf("panic: %v", r)})
				panic(r)
			}
			c.Close(sctx, span, agentwatch.Outcome{Err: err})
		}()
		return fn(sctx, in)
	}
}

// Run records a span around a single invocation. Same close guarantees
// as WrapFunc, for call sites that do not want a reusable wrapper.
func Run[Out any](ctx context.Context, c *agentwatch.Client, kind telemetry.Kind, name string, fn func(context.Context) (Out, error), opts ...agentwatch.RecordOption) (out Out, err error) {
	sctx, span := c.StartSpan(ctx, kind, name, nil, opts...)
	if !span.Valid() {
		return fn(ctx)
	}
	defer func() {
		if r := recover(); r != nil {
			c.Close(sctx, span, agentwatch.Outcome{Err: fmt.Errorf("panic: %v", r)})
			panic(r)
		}
		c.Close(sctx, span, agentwatch.Outcome{Err: err})
	}()
	return fn(sctx)
}

// WrapTool is WrapFunc fixed to tool-call events.
func WrapTool[In, Out any](c *agentwatch.Client, name string, fn func(context.Context, In) (Out, error), opts ...agentwatch.RecordOption) func(context.Context, In) (Out, error) {
	return WrapFunc(c, telemetry.KindTool, name, fn, opts...)
}

// Agent is a named identity whose recordings are attributed to it.
// Multi-agent programs create one per cooperating agent so the
// collector can tell their events apart within a shared session.
type Agent struct {
	client *agentwatch.Client
	name   string
}

// NewAgent binds a name to a client.
func NewAgent(c *agentwatch.Client, name string) *Agent {
	return &Agent{client: c, name: name}
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// Record records an instantaneous event attributed to this agent.
func (a *Agent) Record(ctx context.Context, kind telemetry.Kind, name string, payload telemetry.Payload, opts ...agentwatch.RecordOption) *agentwatch.EventHandle {
	return a.client.Record(ctx, kind, name, payload, a.withIdentity(opts)...)
}

// StartSpan opens a span attributed to this agent.
func (a *Agent) StartSpan(ctx context.Context, kind telemetry.Kind, name string, payload telemetry.Payload, opts ...agentwatch.RecordOption) (context.Context, *agentwatch.EventHandle) {
	return a.client.StartSpan(ctx, kind, name, payload, a.withIdentity(opts)...)
}

// Close closes a span opened through this agent.
func (a *Agent) Close(ctx context.Context, h *agentwatch.EventHandle, outcome agentwatch.Outcome) {
	a.client.Close(ctx, h, outcome)
}

func (a *Agent) withIdentity(opts []agentwatch.RecordOption) []agentwatch.RecordOption {
	// Identity first so an explicit WithAgent at the call site wins.
	return append([]agentwatch.RecordOption{agentwatch.WithAgent(a.name)}, opts...)
}
