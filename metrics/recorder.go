/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Recorder provides OpenTelemetry metrics for the export pipeline and
// LLM token usage. Uses graceful degradation: if any counter fails to
// initialize, it logs a warning and uses a no-op counter instead of
// failing entirely.
type Recorder struct {
	meter            metric.Meter
	eventsRecorded   metric.Int64Counter
	eventsSent       metric.Int64Counter
	eventsDropped    metric.Int64Counter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	attrEnricher     AttributeEnricher
}

// NewRecorder creates a Recorder with the specified meter name. The
// meter name should be unified across the SDK (e.g. "agentwatch.dev/agentwatch")
// with event kind, drop reason, and model serving as dimensions.
func NewRecorder(meterName string) *Recorder {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit))
		if err != nil {
			slog.Warn("Failed to create counter, metric will be disabled", "name", name, "error", err, "meter", meterName)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Recorder{
		meter:            meter,
		eventsRecorded:   counter("agentwatch.events.recorded", "The number of events recorded", "{events}"),
		eventsSent:       counter("agentwatch.events.sent", "The number of events confirmed delivered to the collector", "{events}"),
		eventsDropped:    counter("agentwatch.events.dropped", "The number of events permanently lost", "{events}"),
		promptTokens:     counter("genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter("genai.token.completion", "The number of completion tokens used", "{tokens}"),
	}
}

// SetAttributeEnricher sets the attribute enricher called before each
// metric is recorded.
func (m *Recorder) SetAttributeEnricher(enricher AttributeEnricher) {
	m.attrEnricher = enricher
}

func (m *Recorder) enrich(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	if m.attrEnricher == nil {
		return attrs
	}
	return m.attrEnricher(ctx, attrs)
}

// RecordEvent counts one recorded event by kind.
func (m *Recorder) RecordEvent(ctx context.Context, kind string) {
	m.eventsRecorded.Add(ctx, 1, metric.WithAttributes(
		m.enrich(ctx, []attribute.KeyValue{attribute.String("kind", kind)})...))
}

// RecordSent counts events confirmed delivered.
func (m *Recorder) RecordSent(ctx context.Context, n int64) {
	m.eventsSent.Add(ctx, n, metric.WithAttributes(m.enrich(ctx, nil)...))
}

// RecordDropped counts events permanently lost, dimensioned by reason.
func (m *Recorder) RecordDropped(ctx context.Context, n int64, reason string) {
	m.eventsDropped.Add(ctx, n, metric.WithAttributes(
		m.enrich(ctx, []attribute.KeyValue{attribute.String("reason", reason)})...))
}

// RecordTokens counts LLM token usage for the given model.
func (m *Recorder) RecordTokens(ctx context.Context, model string, inputTokens, outputTokens int64) {
	attrs := m.enrich(ctx, []attribute.KeyValue{attribute.String("model", model)})
	m.promptTokens.Add(ctx, inputTokens, metric.WithAttributes(attrs...))
	m.completionTokens.Add(ctx, outputTokens, metric.WithAttributes(attrs...))
}
