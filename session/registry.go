/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"sync"

	"github.com/chainguard-dev/clog"
)

// Registry tracks every live session in the process. It is safe for
// concurrent use from arbitrary call sites.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// order preserves begin order so Current can resolve the most
	// recently begun active session for unannotated call sites.
	order []string

	fatalOnce sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Begin creates a session, transitions it to Running, and registers it
// as the current session for implicit lookup.
func (r *Registry) Begin(tags ...string) *Session {
	s := newSession(tags)
	s.run()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	return s
}

// Get returns the session with the given id, if still registered.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Current returns the most recently begun session that can still accept
// events, or nil when none is active.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if s, ok := r.sessions[r.order[i]]; ok && s.Accept() {
			return s
		}
	}
	return nil
}

// Active returns every registered session not yet terminal, in begin
// order. Used by the shutdown hook to finalize abandoned sessions.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok && !s.Status().Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// Evict removes a terminal session from the registry. The session must
// already have every event in a terminal export state; callers finalize
// before evicting.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	for i, got := range r.order {
		if got == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// NoteFatalTransport surfaces a fatal transport failure (for example an
// authentication rejection) exactly once, so repeated sends do not mask
// a configuration error behind retry noise.
func (r *Registry) NoteFatalTransport(ctx context.Context, err error) {
	r.fatalOnce.Do(func() {
		log := clog.FromContext(ctx)
		if err != nil {
			log = log.With("error", err.Error())
		}
		log.Error("Collector rejected export permanently; check endpoint and API key")
	})
}
