/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package execctx carries the per-task execution scope (session id plus
// the stack of open spans) through context.Context. Scopes are owned by
// exactly one goroutine; cross-goroutine work detaches a child scope so
// parentage is explicit rather than inferred.
package execctx

import (
	"context"

	"agentwatch.dev/agentwatch/telemetry"
)

// contextKey is used for storing the execution scope in context.Context.
type contextKey struct{}

// Scope is the per-task stack of open spans. It is exclusively owned by
// the goroutine carrying its context and must never be shared; spawn
// child goroutines with Detach so each task gets its own scope.
type Scope struct {
	SessionID string
	// parent anchors the scope under a span owned by another task.
	// It is only consulted when the local stack is empty.
	parent string
	stack  []*telemetry.Event
}

// NewScope creates a scope rooted at the given session.
func NewScope(sessionID string) *Scope {
	return &Scope{SessionID: sessionID}
}

// With returns a context carrying the given scope.
func With(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the scope carried by the context, or nil.
func FromContext(ctx context.Context) *Scope {
	if s, ok := ctx.Value(contextKey{}).(*Scope); ok {
		return s
	}
	return nil
}

// Detach returns a context whose scope is a fresh copy rooted at the
// caller's currently open span. Use this when handing work to another
// goroutine: spans opened by that task nest under the caller's span but
// are tracked on the task's own stack. Cross-task parentage is always
// explicit, never inferred.
func Detach(ctx context.Context) context.Context {
	s := FromContext(ctx)
	if s == nil {
		return ctx
	}
	child := &Scope{SessionID: s.SessionID, parent: s.ParentSpanID()}
	return With(ctx, child)
}

// Push records a newly opened span.
func (s *Scope) Push(ev *telemetry.Event) {
	s.stack = append(s.stack, ev)
}

// Peek returns the most recently opened span still on the stack.
func (s *Scope) Peek() (*telemetry.Event, bool) {
	if len(s.stack) == 0 {
		return nil, false
	}
	return s.stack[len(s.stack)-1], true
}

// Pop removes and returns the most recently opened span. The second
// return reports whether the popped span is the one the caller expected;
// when false the caller closed out of order and the recorder closes the
// actual top instead.
func (s *Scope) Pop(expected *telemetry.Event) (*telemetry.Event, bool) {
	if len(s.stack) == 0 {
		return nil, false
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top, top == expected
}

// Depth returns the number of open spans on the stack.
func (s *Scope) Depth() int {
	return len(s.stack)
}

// ParentSpanID resolves the span id a new event should nest under, or
// empty when the scope has no open span.
func (s *Scope) ParentSpanID() string {
	if top, ok := s.Peek(); ok {
		return top.SpanID
	}
	return s.parent
}
