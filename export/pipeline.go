/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package export

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/semaphore"

	"agentwatch.dev/agentwatch/telemetry"
)

// Config sizes the pipeline's buffering and flush policy.
type Config struct {
	// BatchSize is the flush trigger on queue depth and the maximum
	// events per export request.
	BatchSize int
	// FlushInterval bounds how stale buffered telemetry may become
	// before a flush is forced.
	FlushInterval time.Duration
	// MaxQueueSize bounds memory; when full, the oldest pending event
	// is evicted in favor of the newest.
	MaxQueueSize int
	// Retry is the backoff policy applied to retryable send failures.
	Retry RetryConfig
}

// Validate checks the pipeline configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval)
	}
	if c.MaxQueueSize < c.BatchSize {
		return fmt.Errorf("max queue size (%d) must be at least batch size (%d)", c.MaxQueueSize, c.BatchSize)
	}
	return c.Retry.Validate()
}

// DefaultConfig returns the pipeline policy used when none is
// configured.
func DefaultConfig() Config {
	return Config{
		BatchSize:     512,
		FlushInterval: 5 * time.Second,
		MaxQueueSize:  4096,
		Retry:         DefaultRetryConfig(),
	}
}

// Pipeline buffers recorded events and drains them to the transport
// from a single background worker. Enqueue is O(1) and never performs
// I/O; the worker is the only component that touches the network.
type Pipeline struct {
	cfg       Config
	transport Transport
	sink      Sink

	mu    sync.Mutex
	queue []*telemetry.Event

	// drainSem serializes batch formation and sending between the
	// background worker and explicit Flush callers, preserving batch
	// order. A semaphore rather than a mutex so a bounded Flush gives
	// up at its deadline instead of waiting out a worker mid-retry.
	drainSem *semaphore.Weighted

	seq  atomic.Uint64
	wake chan struct{}

	startOnce  sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	stopWorker context.CancelFunc
	stopped    chan struct{}
}

// NewPipeline creates a pipeline. Start must be called before events
// flow.
func NewPipeline(cfg Config, transport Transport, sink Sink) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	return &Pipeline{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		drainSem:  semaphore.NewWeighted(1),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start launches the background worker. The context scopes the
// worker's logging and outlives individual flushes.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.stopWorker = context.WithCancel(ctx)
		go p.worker(ctx)
	})
}

// Stop halts the worker, flushes what it can within the context budget,
// and abandons whatever is still queued afterwards. The worker's
// in-flight drain is cancelled rather than waited out, so an
// unreachable collector cannot hold shutdown through the full backoff
// schedule; the interrupted batch is requeued and picked up by the
// bounded flush.
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.stopWorker != nil {
			p.stopWorker()
			<-p.stopped
		}
		err = p.Flush(ctx)
		if n := p.Abandon(""); n > 0 {
			clog.FromContext(ctx).With("events", n).
				Warn("Abandoning undelivered events at shutdown")
		}
	})
	return err
}

// Enqueue adds an event to the queue without blocking. When the queue
// is full the oldest pending event is evicted: recency of observability
// data beats completeness when a human is debugging a live run. Returns
// the evicted event, if any.
func (p *Pipeline) Enqueue(ev *telemetry.Event) *telemetry.Event {
	var evicted *telemetry.Event

	p.mu.Lock()
	if len(p.queue) >= p.cfg.MaxQueueSize {
		evicted = p.queue[0]
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, ev)
	depth := len(p.queue)
	p.mu.Unlock()

	if evicted != nil {
		evicted.SetExportState(telemetry.StateDroppedOverflow)
		p.sink.EventsDropped(evicted.SessionID, 1, "evicted")
	}
	if depth >= p.cfg.BatchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return evicted
}

// QueueDepth returns the number of events awaiting export.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Flush synchronously drains everything queued, bounded by the context
// deadline. Batches are formed and sent in enqueue order.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.drain(ctx)
}

// Abandon removes queued events belonging to the given session (or all
// events when sessionID is empty), marks them dropped, and returns the
// count. Used when a bounded flush ran out of time.
func (p *Pipeline) Abandon(sessionID string) int {
	p.mu.Lock()
	var kept, abandoned []*telemetry.Event
	for _, ev := range p.queue {
		if sessionID == "" || ev.SessionID == sessionID {
			abandoned = append(abandoned, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	p.queue = kept
	p.mu.Unlock()

	for sid, n := range countBySession(abandoned) {
		p.sink.EventsDropped(sid, n, "abandoned")
	}
	for _, ev := range abandoned {
		ev.SetExportState(telemetry.StateDroppedOverflow)
	}
	return len(abandoned)
}

func (p *Pipeline) worker(ctx context.Context) {
	defer close(p.stopped)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		case <-p.wake:
		}
		if err := p.drain(ctx); err != nil {
			clog.FromContext(ctx).With("error", err.Error()).
				Warn("Export drain interrupted")
		}
	}
}

// drain cuts the queue into batches and sends them until the queue is
// empty or the context expires. Leftover events stay queued for the
// next trigger; only Abandon discards them.
func (p *Pipeline) drain(ctx context.Context) error {
	if err := p.drainSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.drainSem.Release(1)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := p.cut()
		if batch == nil {
			return nil
		}
		if err := p.send(ctx, batch); err != nil {
			// Context expired mid-batch: requeue at the front so order
			// and accounting are preserved for a later flush.
			p.requeue(batch)
			return err
		}
	}
}

// cut forms the next batch from the queue head, preserving recorded
// order, or returns nil when the queue is empty.
func (p *Pipeline) cut() *Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	n := min(len(p.queue), p.cfg.BatchSize)
	events := make([]*telemetry.Event, n)
	copy(events, p.queue[:n])
	p.queue = p.queue[n:]

	for _, ev := range events {
		ev.SetExportState(telemetry.StateBatched)
	}
	return &Batch{
		Seq:       p.seq.Add(1),
		CreatedAt: time.Now().UTC(),
		Events:    events,
	}
}

func (p *Pipeline) requeue(b *Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range b.Events {
		ev.SetExportState(telemetry.StatePending)
	}
	p.queue = append(b.Events, p.queue...)
}

// send delivers one batch, retrying retryable failures with exponential
// backoff. Delivery is at-least-once on success; on exhausted retries
// or a fatal rejection the batch's events are dropped with accounting.
// Returns an error only when the context expired before the batch was
// resolved either way.
func (p *Pipeline) send(ctx context.Context, b *Batch) error {
	log := clog.FromContext(ctx).With("batch_seq", b.Seq).With("events", len(b.Events))

	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retry.MaxRetries; attempt++ {
		result, err := p.transport.Send(ctx, b)
		switch result {
		case ResultDelivered:
			for _, ev := range b.Events {
				ev.SetExportState(telemetry.StateSent)
			}
			for sid, n := range countBySession(b.Events) {
				p.sink.EventsSent(sid, n)
			}
			return nil

		case ResultFatal:
			p.sink.FatalTransport(ctx, err)
			p.dropBatch(b, "fatal")
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= p.cfg.Retry.MaxRetries {
			break
		}

		backoff := p.cfg.Retry.Backoff(attempt)
		log.With("attempt", attempt+1).
			With("max_retries", p.cfg.Retry.MaxRetries).
			With("backoff", backoff).
			With("error", errString(err)).
			Warn("Export attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	log.With("error", errString(lastErr)).Warn("Export retries exhausted, dropping batch")
	p.dropBatch(b, "retries_exhausted")
	return nil
}

func (p *Pipeline) dropBatch(b *Batch, reason string) {
	for _, ev := range b.Events {
		ev.SetExportState(telemetry.StateDroppedOverflow)
	}
	for sid, n := range countBySession(b.Events) {
		p.sink.EventsDropped(sid, n, reason)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
