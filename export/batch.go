/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package export buffers recorded events in a bounded queue and drains
// them to a transport in ordered batches from a single background
// worker, with retry, backpressure eviction, and loss accounting.
package export

import (
	"context"
	"time"

	"agentwatch.dev/agentwatch/telemetry"
)

// Result is the tri-state outcome of one transport send.
type Result int

const (
	// ResultDelivered means the collector accepted the batch.
	ResultDelivered Result = iota
	// ResultRetryable means the send failed transiently (network error,
	// timeout, 5xx, rate limit) and may be retried.
	ResultRetryable
	// ResultFatal means the send was rejected permanently (bad
	// credentials, malformed request); retrying the batch cannot help.
	ResultFatal
)

// String returns a log-friendly name for the result.
func (r Result) String() string {
	switch r {
	case ResultDelivered:
		return "delivered"
	case ResultRetryable:
		return "retryable_failure"
	case ResultFatal:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Transport serializes one batch, performs the network call with a
// bounded timeout, and classifies the outcome. A single attempt only;
// the pipeline owns the retry policy.
type Transport interface {
	Send(ctx context.Context, b *Batch) (Result, error)
}

// Batch is one export unit: an ordered slice of events plus a sequence
// number. Immutable once formed; destroyed after a successful send or
// after retries are exhausted.
type Batch struct {
	Seq       uint64
	CreatedAt time.Time
	Events    []*telemetry.Event
}

// Sink receives per-session accounting from the pipeline. Implemented
// by the session registry wiring in the client.
type Sink interface {
	// EventsSent is called once per session represented in a delivered
	// batch.
	EventsSent(sessionID string, n int64)
	// EventsDropped is called when events are permanently lost, with the
	// reason ("evicted", "retries_exhausted", "fatal", "abandoned").
	EventsDropped(sessionID string, n int64, reason string)
	// FatalTransport is called when a batch is rejected permanently.
	FatalTransport(ctx context.Context, err error)
}

// countBySession groups batch accounting so the sink is called once per
// owning session.
func countBySession(events []*telemetry.Event) map[string]int64 {
	counts := make(map[string]int64)
	for _, ev := range events {
		counts[ev.SessionID]++
	}
	return counts
}
