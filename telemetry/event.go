/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what an event observed.
type Kind string

const (
	KindAction  Kind = "action"
	KindTool    Kind = "tool"
	KindLLMCall Kind = "llm_call"
	KindError   Kind = "error"
	KindGeneric Kind = "generic"
)

// ExportState tracks where an event is in the export pipeline.
// Transitions are owned exclusively by the export pipeline.
type ExportState int32

const (
	StatePending ExportState = iota
	StateBatched
	StateSent
	StateDroppedOverflow
)

// String returns the wire name of the export state.
func (s ExportState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBatched:
		return "batched"
	case StateSent:
		return "sent"
	case StateDroppedOverflow:
		return "dropped_overflow"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Event is one observed occurrence within a session. Span-shaped events
// carry both StartedAt and EndedAt; instantaneous events leave EndedAt
// equal to StartedAt.
type Event struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	SpanID       string    `json:"span_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	AgentName    string    `json:"agent_name,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Payload      Payload   `json:"payload,omitempty"`
	Truncated    bool      `json:"truncated,omitempty"`

	state atomic.Int32

	mu sync.Mutex // protects EndedAt and Payload between close and batching
}

// NewEvent creates an event owned by the given session, stamped now.
func NewEvent(sessionID string, kind Kind, name string, payload Payload) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Name:      name,
		SpanID:    newSpanID(),
		StartedAt: now,
		EndedAt:   now,
		Payload:   payload,
	}
}

// ExportState returns the current export state.
func (e *Event) ExportState() ExportState {
	return ExportState(e.state.Load())
}

// SetExportState records a state transition. Only the export pipeline
// (and session finalization for abandoned events) may call this.
func (e *Event) SetExportState(s ExportState) {
	e.state.Store(int32(s))
}

// Finish stamps the end of a span-shaped event and merges the outcome
// into its payload.
func (e *Event) Finish(outcome Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EndedAt = time.Now().UTC()
	if len(outcome) == 0 {
		return
	}
	if e.Payload == nil {
		e.Payload = make(Payload, len(outcome))
	}
	for k, v := range outcome {
		e.Payload[k] = v
	}
}

// Duration returns how long the event has been (or was) open.
func (e *Event) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EndedAt.After(e.StartedAt) {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return 0
}

// newSpanID generates a 16 hex character span identifier, following the
// W3C trace context span-id width.
func newSpanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Extremely unlikely; fall back to a time-derived id.
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
