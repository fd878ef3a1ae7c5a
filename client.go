/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package agentwatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"agentwatch.dev/agentwatch/execctx"
	"agentwatch.dev/agentwatch/export"
	"agentwatch.dev/agentwatch/metrics"
	"agentwatch.dev/agentwatch/session"
	"agentwatch.dev/agentwatch/telemetry"
	"agentwatch.dev/agentwatch/transport"
)

const instrumentationName = "agentwatch.dev/agentwatch"

// Client is the process-wide entry point: it owns the session registry,
// the event recorder, and the background export pipeline. All methods
// are safe for concurrent use from arbitrary goroutines, and none of
// them ever panics or returns an error into instrumented code paths.
type Client struct {
	cfg      Config
	disabled bool

	reg    *session.Registry
	pipe   *export.Pipeline
	met    *metrics.Recorder
	tracer oteltrace.Tracer

	// baseCtx scopes the background worker and accounting callbacks; it
	// survives cancellation of the context New was called with.
	baseCtx context.Context

	mu   sync.Mutex
	open map[*telemetry.Event]*EventHandle

	droppedNoSession atomic.Int64
	droppedLate      atomic.Int64
	totalRecorded    atomic.Int64
	totalSent        atomic.Int64
	totalDropped     atomic.Int64

	noSessionOnce sync.Once
	shutdownOnce  sync.Once
}

// ClientStats is the process-level accounting snapshot.
type ClientStats struct {
	QueueDepth       int
	Recorded         int64
	Sent             int64
	Dropped          int64
	DroppedNoSession int64
	DroppedLate      int64
}

// New creates and starts a client. On a ConfigurationError the returned
// client is a safe no-op and the error describes why: hosts that treat
// telemetry as optional can log the error and keep the no-op client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	log := clog.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		log.With("error", err.Error()).Warn("Agentwatch disabled: invalid configuration")
		return &Client{disabled: true}, err
	}

	tr, err := transport.NewHTTP(transport.HTTPConfig{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout,
	})
	if err != nil {
		cerr := &ConfigurationError{Reason: err.Error()}
		log.With("error", err.Error()).Warn("Agentwatch disabled: invalid configuration")
		return &Client{disabled: true}, cerr
	}
	return newClient(ctx, cfg, tr)
}

// newClient wires a client around an explicit transport. Split out so
// tests can substitute an in-memory transport.
func newClient(ctx context.Context, cfg Config, tr export.Transport) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		reg:     session.NewRegistry(),
		met:     metrics.NewRecorder(instrumentationName),
		baseCtx: context.WithoutCancel(ctx),
		open:    make(map[*telemetry.Event]*EventHandle),
		tracer: otel.Tracer(instrumentationName,
			oteltrace.WithInstrumentationVersion(transport.SDKVersion)),
	}
	pipe, err := export.NewPipeline(cfg.pipelineConfig(), tr, &registrySink{c: c})
	if err != nil {
		return &Client{disabled: true}, &ConfigurationError{Reason: err.Error()}
	}
	c.pipe = pipe
	c.pipe.Start(c.baseCtx)
	return c, nil
}

// Enabled reports whether the client records anything at all.
func (c *Client) Enabled() bool {
	return c != nil && !c.disabled
}

// Stats returns the process-level accounting snapshot.
func (c *Client) Stats() ClientStats {
	if !c.Enabled() {
		return ClientStats{}
	}
	return ClientStats{
		QueueDepth:       c.pipe.QueueDepth(),
		Recorded:         c.totalRecorded.Load(),
		Sent:             c.totalSent.Load(),
		Dropped:          c.totalDropped.Load(),
		DroppedNoSession: c.droppedNoSession.Load(),
		DroppedLate:      c.droppedLate.Load(),
	}
}

// RecordTokens records model token usage to the OpenTelemetry meters.
// Used by the provider adapters; safe on a disabled client.
func (c *Client) RecordTokens(ctx context.Context, model string, inputTokens, outputTokens int64) {
	if !c.Enabled() {
		return
	}
	c.met.RecordTokens(ctx, model, inputTokens, outputTokens)
}

// BeginSession starts a new session, registers it as current, and
// returns a context carrying its execution scope. Always usable: when
// the client is disabled the handle is invalid but safe.
func (c *Client) BeginSession(ctx context.Context, tags ...string) (context.Context, *SessionHandle) {
	if !c.Enabled() {
		return ctx, &SessionHandle{}
	}
	sess := c.reg.Begin(tags...)
	clog.FromContext(ctx).With("session_id", sess.ID).With("tags", sess.Tags).
		Info("Session started")
	return execctx.With(ctx, execctx.NewScope(sess.ID)), &SessionHandle{sess: sess}
}

// EndSession drives the session to a terminal status: open spans are
// closed, buffered events are flushed within the configured EndTimeout,
// and anything still undelivered is abandoned with accounting. The
// session ends Ended when every event was resolved in time, Failed
// otherwise. Concurrent calls are idempotent; late callers observe the
// terminal state. The returned stats are the final conservation
// snapshot (Recorded == Sent + Dropped).
func (c *Client) EndSession(ctx context.Context, h *SessionHandle, end session.EndState) session.Stats {
	if !c.Enabled() || !h.Valid() {
		return session.Stats{}
	}
	sess := h.sess
	log := clog.FromContext(ctx).With("session_id", sess.ID)

	if !sess.BeginEnding() {
		// Another caller owns teardown; observe its result.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EndTimeout)
		defer cancel()
		sess.Wait(wctx)
		return sess.Stats()
	}

	// Close spans the instrumented code left open, so their events are
	// enqueued and the conservation accounting stays intact.
	for _, oh := range c.openForSession(sess.ID) {
		if oh.closed.Swap(true) {
			continue
		}
		c.untrackOpen(oh)
		log.With("span_id", oh.ev.SpanID).With("name", oh.ev.Name).
			Warn("Span left open at session end, closing")
		c.finishSpan(oh, Outcome{Result: map[string]any{"auto_closed": true}})
	}

	before := sess.Stats()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EndTimeout)
	defer cancel()
	flushErr := c.pipe.Flush(fctx)
	if flushErr != nil {
		c.pipe.Abandon(sess.ID)
	}

	// Finalize writes off events still held by an in-flight batch; the
	// write-off is atomic with the state transition, so a delivery that
	// races session end is counted at most once.
	failed := flushErr != nil || sess.Stats().Dropped > before.Dropped
	sess.Finalize(end, failed)
	c.reg.Evict(sess.ID)
	after := sess.Stats()

	// The one place drop counts surface to the user: a single summary,
	// not a warning storm.
	log.With("end_state", string(end)).
		With("status", sess.Status().String()).
		With("recorded", after.Recorded).
		With("sent", after.Sent).
		With("dropped", after.Dropped).
		Info("Session ended")
	return after
}

// Record validates, stamps, and enqueues an instantaneous event. It is
// O(1) and never blocks on I/O. With no resolvable session the event is
// dropped, counted, and an invalid handle returned; nothing propagates
// into the caller.
func (c *Client) Record(ctx context.Context, kind telemetry.Kind, name string, payload telemetry.Payload, opts ...RecordOption) *EventHandle {
	if !c.Enabled() {
		return &EventHandle{}
	}
	ro := applyOpts(opts)
	sess, scope, ok := c.resolveSession(ctx, ro)
	if !ok {
		return &EventHandle{}
	}

	ev := c.newEvent(ctx, sess, scope, kind, name, payload, ro)
	c.pipe.Enqueue(ev)
	return &EventHandle{ev: ev, sess: sess}
}

// RecordError records an instantaneous Error-kind event.
func (c *Client) RecordError(ctx context.Context, err error, opts ...RecordOption) *EventHandle {
	if err == nil {
		return &EventHandle{}
	}
	return c.Record(ctx, telemetry.KindError, "error", telemetry.Payload{"error": err.Error()}, opts...)
}

// StartSpan opens a span-shaped event: it nests under the current open
// span of the calling task's scope, mirrors to an OpenTelemetry span,
// and stays open until Close. The returned context carries the span for
// nested recording and must be used by the code running inside it.
func (c *Client) StartSpan(ctx context.Context, kind telemetry.Kind, name string, payload telemetry.Payload, opts ...RecordOption) (context.Context, *EventHandle) {
	if !c.Enabled() {
		return ctx, &EventHandle{}
	}
	ro := applyOpts(opts)
	sess, scope, ok := c.resolveSession(ctx, ro)
	if !ok {
		return ctx, &EventHandle{}
	}
	if scope == nil {
		// Explicit-session call site outside any scoped context: give
		// the task its own scope so nesting works from here down.
		scope = execctx.NewScope(sess.ID)
		ctx = execctx.With(ctx, scope)
	}

	ev := c.newEvent(ctx, sess, scope, kind, name, payload, ro)

	otelCtx, span := c.tracer.Start(ctx, "agent."+string(kind), oteltrace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.name", name),
		attribute.String("session.id", sess.ID),
	))
	scope.Push(ev)

	h := &EventHandle{ev: ev, sess: sess, scope: scope, span: span}
	c.trackOpen(h)
	return otelCtx, h
}

// Close stamps the end of a span-shaped event, attaches its outcome,
// and hands it to the export pipeline. Closing twice is a warned no-op.
// Closing out of nesting order closes the most recent open span of the
// task instead and logs a consistency warning; the instrumented program
// is never failed for it.
func (c *Client) Close(ctx context.Context, h *EventHandle, outcome Outcome) {
	if !c.Enabled() || !h.Valid() {
		return
	}
	log := clog.FromContext(ctx)
	if h.closed.Load() {
		log.With("span_id", h.ev.SpanID).Debug("Span closed twice, ignoring")
		return
	}
	if h.scope == nil {
		// Instantaneous events are closed at creation.
		return
	}

	target := h
	popped, inOrder := h.scope.Pop(h.ev)
	if popped == nil {
		log.With("span_id", h.ev.SpanID).Debug("Span closed twice, ignoring")
		return
	}
	if !inOrder {
		log.With("requested", h.ev.Name).With("closing", popped.Name).
			Warn("Span closed out of nesting order; closing most recent open span")
		if t := c.lookupOpen(popped); t != nil {
			target = t
		}
	}
	if target.closed.Swap(true) {
		return
	}
	c.untrackOpen(target)
	c.finishSpan(target, outcome)
}

// Shutdown is the process exit hook: it ends every still-open session
// as Indeterminate and performs one final bounded flush. Anything
// undelivered when the budget elapses is abandoned and reported as a
// local count; the process must not be held hostage by the network.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	var err error
	c.shutdownOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.EndTimeout)
			defer cancel()
		}
		log := clog.FromContext(ctx)

		active := c.reg.Active()
		for _, sess := range active {
			if !sess.BeginEnding() {
				continue
			}
			for _, oh := range c.openForSession(sess.ID) {
				if oh.closed.Swap(true) {
					continue
				}
				c.untrackOpen(oh)
				c.finishSpan(oh, Outcome{Result: map[string]any{"auto_closed": true}})
			}
		}

		err = c.pipe.Stop(ctx)

		for _, sess := range active {
			sess.Finalize(session.EndIndeterminate, err != nil)
			c.reg.Evict(sess.ID)
		}

		st := c.Stats()
		log.With("recorded", st.Recorded).
			With("sent", st.Sent).
			With("dropped", st.Dropped).
			Info("Agentwatch shut down")
	})
	return err
}

// --- internals ---

func applyOpts(opts []RecordOption) recordOpts {
	var ro recordOpts
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// resolveSession finds the owning session for a record call: explicit
// handle first, then the context's scope, then the registry's current
// session. Failures are absorbed and counted, never raised.
func (c *Client) resolveSession(ctx context.Context, ro recordOpts) (*session.Session, *execctx.Scope, bool) {
	scope := execctx.FromContext(ctx)

	var sess *session.Session
	switch {
	case ro.session.Valid():
		sess = ro.session.sess
		if scope != nil && scope.SessionID != sess.ID {
			// The explicit session wins; do not graft spans onto
			// another session's scope.
			scope = nil
		}
	case scope != nil:
		if s, ok := c.reg.Get(scope.SessionID); ok {
			sess = s
		}
	default:
		sess = c.reg.Current()
	}

	if sess == nil {
		c.droppedNoSession.Add(1)
		c.noSessionOnce.Do(func() {
			clog.FromContext(ctx).With("error", ErrNoActiveSession.Error()).
				Warn("Event recorded with no active session; dropping (reported once)")
		})
		return nil, nil, false
	}
	if !sess.Accept() {
		c.droppedLate.Add(1)
		clog.FromContext(ctx).With("session_id", sess.ID).
			Debug("Event recorded after session end, dropping")
		return nil, nil, false
	}
	return sess, scope, true
}

func (c *Client) newEvent(ctx context.Context, sess *session.Session, scope *execctx.Scope, kind telemetry.Kind, name string, payload telemetry.Payload, ro recordOpts) *telemetry.Event {
	capped, truncated := payload.Cap(c.cfg.MaxPayloadBytes)
	if truncated {
		clog.FromContext(ctx).With("event", name).
			With("limit_bytes", c.cfg.MaxPayloadBytes).
			Debug("Event payload truncated to size cap")
	}

	ev := telemetry.NewEvent(sess.ID, kind, name, capped)
	ev.Truncated = truncated
	ev.AgentName = ro.agentName
	switch {
	case ro.parent != "":
		ev.ParentSpanID = ro.parent
	case scope != nil:
		ev.ParentSpanID = scope.ParentSpanID()
	}

	sess.EventRecorded()
	c.totalRecorded.Add(1)
	c.met.RecordEvent(ctx, string(kind))
	return ev
}

// finishSpan completes a span-shaped event and enqueues it for export.
func (c *Client) finishSpan(h *EventHandle, outcome Outcome) {
	out, _ := outcome.payload().Cap(c.cfg.MaxPayloadBytes)
	h.ev.Finish(out)

	if h.span != nil {
		if outcome.Err != nil {
			h.span.RecordError(outcome.Err)
			h.span.SetStatus(codes.Error, outcome.Err.Error())
		} else {
			h.span.SetStatus(codes.Ok, "")
		}
		h.span.End()
	}
	c.pipe.Enqueue(h.ev)
}

func (c *Client) trackOpen(h *EventHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[h.ev] = h
}

func (c *Client) untrackOpen(h *EventHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, h.ev)
}

func (c *Client) lookupOpen(ev *telemetry.Event) *EventHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[ev]
}

func (c *Client) openForSession(sessionID string) []*EventHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*EventHandle
	for ev, h := range c.open {
		if ev.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out
}

// registrySink routes pipeline accounting into the session registry and
// the metrics recorder.
type registrySink struct {
	c *Client
}

func (s *registrySink) EventsSent(sessionID string, n int64) {
	if sess, ok := s.c.reg.Get(sessionID); ok {
		sess.EventsSent(n)
	}
	s.c.totalSent.Add(n)
	s.c.met.RecordSent(s.c.baseCtx, n)
}

func (s *registrySink) EventsDropped(sessionID string, n int64, reason string) {
	if sess, ok := s.c.reg.Get(sessionID); ok {
		sess.EventsDropped(n)
	}
	s.c.totalDropped.Add(n)
	s.c.met.RecordDropped(s.c.baseCtx, n, reason)
}

func (s *registrySink) FatalTransport(ctx context.Context, err error) {
	s.c.reg.NoteFatalTransport(ctx, err)
}
