/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package session tracks units of agent work: lifecycle state machine,
// per-session event accounting, and the process-wide registry used to
// resolve the current session for unannotated call sites.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a session.
type Status int32

const (
	StatusInitializing Status = iota
	StatusRunning
	StatusEnding
	StatusEnded
	StatusFailed
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusEnding:
		return "ending"
	case StatusEnded:
		return "ended"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// EndState is the terminal outcome tag of a session.
type EndState string

const (
	EndSuccess       EndState = "success"
	EndFail          EndState = "fail"
	EndIndeterminate EndState = "indeterminate"
)

// Stats is the per-session event accounting surfaced at session end.
// Recorded == Sent + Dropped + Pending at all times (conservation).
type Stats struct {
	Recorded int64
	Sent     int64
	Dropped  int64
	Pending  int64
}

// Session is one logical unit of agent work.
type Session struct {
	ID        string
	Tags      []string
	StartedAt time.Time

	mu       sync.Mutex
	status   Status
	endState EndState
	endedAt  time.Time
	recorded int64
	sent     int64
	dropped  int64

	// done is closed exactly once when the session reaches a terminal
	// status; concurrent enders wait on it instead of re-running
	// teardown.
	done chan struct{}
}

func newSession(tags []string) *Session {
	return &Session{
		ID:        generateSessionID(),
		Tags:      dedupeTags(tags),
		StartedAt: time.Now().UTC(),
		status:    StatusInitializing,
		done:      make(chan struct{}),
	}
}

// run transitions Initializing -> Running. Called by the registry
// immediately after registration.
func (s *Session) run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusInitializing {
		s.status = StatusRunning
	}
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// EndState returns the terminal outcome, empty until the session ends.
func (s *Session) EndState() EndState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endState
}

// EndedAt returns the termination time, zero until terminal.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Stats returns a snapshot of the session's event accounting.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Recorded: s.recorded,
		Sent:     s.sent,
		Dropped:  s.dropped,
		Pending:  s.recorded - s.sent - s.dropped,
	}
}

// Accept reports whether the session may attach new events. Late events
// arriving after end has begun are rejected by the recorder.
func (s *Session) Accept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning
}

// EventRecorded accounts for one event attached to the session.
func (s *Session) EventRecorded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded++
}

// EventsSent accounts for n events confirmed delivered. Resolutions
// landing after the session terminated are ignored: Finalize already
// wrote those events off, and counting them again would break
// conservation.
func (s *Session) EventsSent(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.sent += n
}

// EventsDropped accounts for n events permanently lost (overflow
// eviction, exhausted retries, or abandoned at flush timeout). Like
// EventsSent, late resolutions after termination are ignored.
func (s *Session) EventsDropped(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.dropped += n
}

// BeginEnding transitions Running -> Ending. Returns false when another
// caller already began (or finished) teardown; that caller owns the
// flush and this one should Wait.
func (s *Session) BeginEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning && s.status != StatusInitializing {
		return false
	}
	s.status = StatusEnding
	return true
}

// Finalize moves the session to its terminal status and writes off any
// still-pending events as dropped, in the same critical section as the
// transition so a delivery racing the ender is counted exactly once:
// either it lands before the write-off and shrinks it, or it arrives
// after termination and is ignored. Returns the number written off.
// Ended when every event was accounted for in time, Failed when the
// flush erred or events had to be written off. Idempotent.
func (s *Session) Finalize(end EndState, failed bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return 0
	}
	pending := s.recorded - s.sent - s.dropped
	if pending > 0 {
		s.dropped += pending
	} else {
		pending = 0
	}
	if failed || pending > 0 {
		s.status = StatusFailed
	} else {
		s.status = StatusEnded
	}
	s.endState = end
	s.endedAt = time.Now().UTC()
	close(s.done)
	return pending
}

// Wait blocks until the session reaches a terminal status or the
// context expires.
func (s *Session) Wait(ctx context.Context) {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

// generateSessionID produces a sortable, human-scannable id:
// YYYYMMDD-HHMMSS-RRRR with a random hex suffix.
func generateSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return time.Now().UTC().Format("20060102-150405.000000")
	}
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), hex.EncodeToString(b))
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
