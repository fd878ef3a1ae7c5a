/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package agentwatch

import (
	"sync/atomic"

	oteltrace "go.opentelemetry.io/otel/trace"

	"agentwatch.dev/agentwatch/execctx"
	"agentwatch.dev/agentwatch/session"
	"agentwatch.dev/agentwatch/telemetry"
)

// SessionHandle refers to a begun session. A zero or invalid handle is
// safe to use everywhere; operations on it are no-ops.
type SessionHandle struct {
	sess *session.Session
}

// Valid reports whether the handle refers to a live session.
func (h *SessionHandle) Valid() bool {
	return h != nil && h.sess != nil
}

// ID returns the session id, empty for invalid handles.
func (h *SessionHandle) ID() string {
	if !h.Valid() {
		return ""
	}
	return h.sess.ID
}

// Tags returns the session's deduplicated tags, nil for invalid handles.
func (h *SessionHandle) Tags() []string {
	if !h.Valid() {
		return nil
	}
	return h.sess.Tags
}

// Stats returns the session's event accounting snapshot.
func (h *SessionHandle) Stats() session.Stats {
	if !h.Valid() {
		return session.Stats{}
	}
	return h.sess.Stats()
}

// EventHandle refers to a recorded event. Span-shaped handles stay open
// until Close; instantaneous ones are closed at creation. An invalid
// handle (no active session at record time) absorbs all operations.
type EventHandle struct {
	ev    *telemetry.Event
	sess  *session.Session
	scope *execctx.Scope
	span  oteltrace.Span

	closed atomic.Bool
}

// Valid reports whether the event was actually recorded.
func (h *EventHandle) Valid() bool {
	return h != nil && h.ev != nil
}

// SpanID returns the event's span id, empty for invalid handles.
func (h *EventHandle) SpanID() string {
	if !h.Valid() {
		return ""
	}
	return h.ev.SpanID
}

// EventID returns the event id, empty for invalid handles.
func (h *EventHandle) EventID() string {
	if !h.Valid() {
		return ""
	}
	return h.ev.ID
}

// Outcome carries the result of a closing span back into its event
// payload. Err wins over Result when both are set.
type Outcome struct {
	Err    error
	Result any
}

func (o Outcome) payload() telemetry.Payload {
	switch {
	case o.Err != nil:
		return telemetry.Payload{"error": o.Err.Error()}
	case o.Result != nil:
		return telemetry.Payload{"result": o.Result}
	default:
		return nil
	}
}

type recordOpts struct {
	session   *SessionHandle
	parent    string
	agentName string
}

// RecordOption customizes a single Record or StartSpan call.
type RecordOption func(*recordOpts)

// WithSession attaches the event to an explicit session instead of
// resolving one from the execution context.
func WithSession(h *SessionHandle) RecordOption {
	return func(o *recordOpts) { o.session = h }
}

// WithParentSpan sets an explicit parent span id. This is the only way
// to correlate across execution contexts; parentage is never inferred
// between tasks.
func WithParentSpan(spanID string) RecordOption {
	return func(o *recordOpts) { o.parent = spanID }
}

// WithAgent stamps the event with a logical agent identity.
func WithAgent(name string) RecordOption {
	return func(o *recordOpts) { o.agentName = name }
}
