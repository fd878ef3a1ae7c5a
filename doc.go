/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package agentwatch is a telemetry SDK for AI agent applications. It
// records what an agent run did (actions, tool calls, model calls,
// errors) into sessions, and exports the events in batches to a
// collector over HTTP without ever blocking or failing the
// instrumented program.
//
//	cfg, _ := agentwatch.FromEnv(ctx)
//	client, err := agentwatch.New(ctx, cfg)
//	if err != nil {
//		clog.FromContext(ctx).With("error", err).Warn("telemetry disabled")
//	}
//	defer client.Shutdown(ctx)
//
//	ctx, sess := client.BeginSession(ctx, "experiment=baseline")
//	ctx, span := client.StartSpan(ctx, telemetry.KindAction, "plan", nil)
//	// ... agent work, nested recording through ctx ...
//	client.Close(ctx, span, agentwatch.Outcome{Result: map[string]any{"steps": 3}})
//	client.EndSession(ctx, sess, session.EndSuccess)
//
// Recording is O(1) and lossy under pressure: when the in-memory queue
// is full the oldest events are evicted and counted. Every recorded
// event is accounted exactly once, so for any ended session
// Recorded == Sent + Dropped.
package agentwatch
