/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agentwatch.dev/agentwatch/telemetry"
)

// --- Fakes ---

type fakeTransport struct {
	mu       sync.Mutex
	attempts int
	failures int    // fail this many sends with result before succeeding
	result   Result // result returned while failing
	batches  []*Batch
}

func (f *fakeTransport) Send(_ context.Context, b *Batch) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return f.result, errors.New("injected failure")
	}
	f.batches = append(f.batches, b)
	return ResultDelivered, nil
}

func (f *fakeTransport) sent() []*Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Batch(nil), f.batches...)
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakeSink struct {
	mu      sync.Mutex
	sent    map[string]int64
	dropped map[string]int64
	reasons []string
	fatal   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: map[string]int64{}, dropped: map[string]int64{}}
}

func (s *fakeSink) EventsSent(sid string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[sid] += n
}

func (s *fakeSink) EventsDropped(sid string, n int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[sid] += n
	s.reasons = append(s.reasons, reason)
}

func (s *fakeSink) FatalTransport(context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal++
}

func testConfig() Config {
	return Config{
		BatchSize:     2,
		FlushInterval: time.Hour, // tests flush explicitly
		MaxQueueSize:  4,
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
		},
	}
}

func event(session, name string) *telemetry.Event {
	return telemetry.NewEvent(session, telemetry.KindAction, name, nil)
}

// --- Tests ---

func TestBatchSizeAndOrder(t *testing.T) {
	tr := &fakeTransport{}
	sink := newFakeSink()
	p, err := NewPipeline(testConfig(), tr, sink)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		p.Enqueue(event("s1", name))
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	batches := tr.sent()
	if len(batches) != 2 {
		t.Fatalf("batches: got = %d, wanted = 2", len(batches))
	}
	if got, want := len(batches[0].Events), 2; got != want {
		t.Errorf("first batch size: got = %d, wanted = %d", got, want)
	}
	if got, want := len(batches[1].Events), 1; got != want {
		t.Errorf("second batch size: got = %d, wanted = %d", got, want)
	}
	var names []string
	for _, b := range batches {
		for _, ev := range b.Events {
			names = append(names, ev.Name)
		}
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("event order (-want +got):\n%s", diff)
	}
	if batches[0].Seq >= batches[1].Seq {
		t.Errorf("batch seq order: got = %d then %d", batches[0].Seq, batches[1].Seq)
	}
	if got := sink.sent["s1"]; got != 3 {
		t.Errorf("sent accounting: got = %d, wanted = 3", got)
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	tr := &fakeTransport{}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	events := make([]*telemetry.Event, 6)
	for i, name := range []string{"e0", "e1", "e2", "e3", "e4", "e5"} {
		events[i] = event("s1", name)
		p.Enqueue(events[i])
	}

	// Capacity 4: e0 and e1 are the oldest and must be the evictees.
	if got := p.QueueDepth(); got != 4 {
		t.Fatalf("queue depth: got = %d, wanted = 4", got)
	}
	for _, ev := range events[:2] {
		if got := ev.ExportState(); got != telemetry.StateDroppedOverflow {
			t.Errorf("%s state: got = %v, wanted = %v", ev.Name, got, telemetry.StateDroppedOverflow)
		}
	}
	for _, ev := range events[2:] {
		if got := ev.ExportState(); got != telemetry.StatePending {
			t.Errorf("%s state: got = %v, wanted = %v", ev.Name, got, telemetry.StatePending)
		}
	}
	if got := sink.dropped["s1"]; got != 2 {
		t.Errorf("drop counter: got = %d, wanted = 2", got)
	}

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	var names []string
	for _, b := range tr.sent() {
		for _, ev := range b.Events {
			names = append(names, ev.Name)
		}
	}
	if diff := cmp.Diff([]string{"e2", "e3", "e4", "e5"}, names); diff != "" {
		t.Errorf("survivors (-want +got):\n%s", diff)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	tr := &fakeTransport{failures: 2, result: ResultRetryable}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	ev := event("s1", "flaky")
	p.Enqueue(ev)
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// 2 failures then success: exactly N+1 attempts.
	if got := tr.attemptCount(); got != 3 {
		t.Errorf("attempts: got = %d, wanted = 3", got)
	}
	if got := ev.ExportState(); got != telemetry.StateSent {
		t.Errorf("state: got = %v, wanted = %v", got, telemetry.StateSent)
	}
	// No duplicate event ids across delivered batches.
	seen := map[string]int{}
	for _, b := range tr.sent() {
		for _, got := range b.Events {
			seen[got.ID]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %s delivered %d times, wanted once", id, n)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	tr := &fakeTransport{failures: 10, result: ResultRetryable}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	ev := event("s1", "doomed")
	p.Enqueue(ev)
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := tr.attemptCount(); got != 4 { // initial + 3 retries
		t.Errorf("attempts: got = %d, wanted = 4", got)
	}
	if got := ev.ExportState(); got != telemetry.StateDroppedOverflow {
		t.Errorf("state: got = %v, wanted = %v", got, telemetry.StateDroppedOverflow)
	}
	if got := sink.dropped["s1"]; got != 1 {
		t.Errorf("drop counter: got = %d, wanted = 1", got)
	}
}

func TestFatalShortCircuits(t *testing.T) {
	tr := &fakeTransport{failures: 10, result: ResultFatal}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	p.Enqueue(event("s1", "rejected"))
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := tr.attemptCount(); got != 1 {
		t.Errorf("attempts: got = %d, wanted = 1 (no retries on fatal)", got)
	}
	if sink.fatal != 1 {
		t.Errorf("fatal notifications: got = %d, wanted = 1", sink.fatal)
	}
	if got := sink.dropped["s1"]; got != 1 {
		t.Errorf("drop counter: got = %d, wanted = 1", got)
	}
}

func TestFlushDeadlineRequeues(t *testing.T) {
	tr := &fakeTransport{failures: 100, result: ResultRetryable}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.Retry.MaxRetries = 100
	cfg.Retry.BaseBackoff = 10 * time.Millisecond
	p, _ := NewPipeline(cfg, tr, sink)

	ev := event("s1", "stuck")
	p.Enqueue(ev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Flush(ctx); err == nil {
		t.Fatal("Flush: got = nil, wanted deadline error")
	}

	// The unresolved batch goes back to the queue, still pending.
	if got := p.QueueDepth(); got != 1 {
		t.Errorf("queue depth: got = %d, wanted = 1", got)
	}
	if got := ev.ExportState(); got != telemetry.StatePending {
		t.Errorf("state: got = %v, wanted = %v", got, telemetry.StatePending)
	}

	// Abandoning the session accounts the leftovers as dropped.
	if got := p.Abandon("s1"); got != 1 {
		t.Errorf("abandoned: got = %d, wanted = 1", got)
	}
	if got := ev.ExportState(); got != telemetry.StateDroppedOverflow {
		t.Errorf("state after abandon: got = %v, wanted = %v", got, telemetry.StateDroppedOverflow)
	}
}

func TestAbandonIsSessionScoped(t *testing.T) {
	tr := &fakeTransport{}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	p.Enqueue(event("s1", "mine"))
	p.Enqueue(event("s2", "theirs"))

	if got := p.Abandon("s1"); got != 1 {
		t.Errorf("abandoned: got = %d, wanted = 1", got)
	}
	if got := p.QueueDepth(); got != 1 {
		t.Errorf("queue depth: got = %d, wanted = 1 (other session kept)", got)
	}
	if got := sink.dropped["s2"]; got != 0 {
		t.Errorf("s2 drops: got = %d, wanted = 0", got)
	}
}

func TestWorkerIntervalFlush(t *testing.T) {
	tr := &fakeTransport{}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	p, _ := NewPipeline(cfg, tr, sink)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop(ctx) //nolint:errcheck

	p.Enqueue(event("s1", "solo"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(tr.sent()) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("interval trigger never flushed the queued event")
}

func TestStopBoundedByContext(t *testing.T) {
	// Collector down: every attempt is retryable. Stop must cancel the
	// worker's in-flight drain instead of waiting out the backoff
	// schedule for every queued batch.
	tr := &fakeTransport{failures: 1 << 20, result: ResultRetryable}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.MaxQueueSize = 16
	cfg.Retry.MaxRetries = 2
	cfg.Retry.BaseBackoff = 150 * time.Millisecond
	cfg.Retry.MaxBackoff = time.Second
	p, _ := NewPipeline(cfg, tr, sink)
	p.Start(context.Background())

	const total = 8
	for i := range total {
		p.Enqueue(event("s1", string(rune('a'+i))))
	}
	// Let the worker commit to a send before stopping.
	waitUntil := time.Now().Add(2 * time.Second)
	for tr.attemptCount() == 0 && time.Now().Before(waitUntil) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Stop(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Stop: got = nil, wanted deadline error")
	}
	if elapsed > time.Second {
		t.Errorf("Stop took %v, wanted bounded near the 100ms budget", elapsed)
	}
	if got := p.QueueDepth(); got != 0 {
		t.Errorf("queue depth after stop: got = %d, wanted = 0", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if got := sink.sent["s1"] + sink.dropped["s1"]; got != total {
		t.Errorf("sent+dropped: got = %d, wanted = %d", got, total)
	}
}

func TestConservation(t *testing.T) {
	// Mixed outcome run: some delivered, some evicted. Everything
	// recorded must land in exactly one terminal bucket.
	tr := &fakeTransport{}
	sink := newFakeSink()
	p, _ := NewPipeline(testConfig(), tr, sink)

	const total = 10
	for i := range total {
		p.Enqueue(event("s1", string(rune('a'+i))))
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if got := sink.sent["s1"] + sink.dropped["s1"]; got != total {
		t.Errorf("sent+dropped: got = %d, wanted = %d", got, total)
	}
}
