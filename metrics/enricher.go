/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics provides OpenTelemetry meters for the SDK's own
// accounting and for generative AI token usage.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// AttributeEnricher enriches metric attributes with additional context.
// Embedding programs can add their own bounded-cardinality labels
// (environment, deployment, agent fleet) without the SDK knowing about
// them. The enricher receives the base attributes and returns the
// enriched set.
type AttributeEnricher func(ctx context.Context, baseAttrs []attribute.KeyValue) []attribute.KeyValue
