/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package transport serializes batches and posts them to the collector.
package transport

import (
	"time"

	"agentwatch.dev/agentwatch/export"
	"agentwatch.dev/agentwatch/telemetry"
)

// SDKName and SDKVersion identify this client to the collector.
const (
	SDKName    = "agentwatch-go"
	SDKVersion = "0.3.0"
)

// ExportRequest is the JSON body POSTed to the collector for one batch.
// Timestamps serialize as RFC 3339 with nanoseconds; the session id on
// each event is the trace correlation id.
type ExportRequest struct {
	BatchSeq uint64             `json:"batch_seq"`
	SentAt   time.Time          `json:"sent_at"`
	SDK      SDKInfo            `json:"sdk"`
	Events   []*telemetry.Event `json:"events"`
}

// SDKInfo identifies the producing SDK.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func newExportRequest(b *export.Batch) ExportRequest {
	return ExportRequest{
		BatchSeq: b.Seq,
		SentAt:   time.Now().UTC(),
		SDK:      SDKInfo{Name: SDKName, Version: SDKVersion},
		Events:   b.Events,
	}
}
