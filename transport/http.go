/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"agentwatch.dev/agentwatch/export"
)

const defaultTimeout = 10 * time.Second

// HTTPConfig configures the collector transport.
type HTTPConfig struct {
	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string
	// APIKey is sent as a bearer credential on every request.
	APIKey string
	// Timeout bounds each send attempt (default: 10s).
	Timeout time.Duration
}

// HTTP posts serialized batches to the collector. It performs exactly
// one attempt per Send; the export pipeline owns retries.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP validates the configuration and creates the transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid collector endpoint %q: %w", cfg.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("collector endpoint %q must be http(s)", cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTP{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Send serializes the batch and performs the network call, classifying
// the outcome into the pipeline's tri-state result.
func (t *HTTP) Send(ctx context.Context, b *export.Batch) (export.Result, error) {
	body, err := json.Marshal(newExportRequest(b))
	if err != nil {
		// A batch that cannot serialize will never serialize; retrying
		// is pointless.
		return export.ResultFatal, fmt.Errorf("serializing batch %d: %w", b.Seq, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return export.ResultFatal, fmt.Errorf("building export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("X-Agentwatch-SDK", SDKName)
	req.Header.Set("X-Agentwatch-SDK-Version", SDKVersion)

	resp, err := t.client.Do(req)
	if err != nil {
		return export.ResultRetryable, fmt.Errorf("posting batch %d: %w", b.Seq, err)
	}
	defer resp.Body.Close()

	// Responses are interpreted only as success/retryable/fatal; a
	// short body excerpt rides along for diagnostics.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return export.ResultDelivered, nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	sendErr := fmt.Errorf("collector returned %s for batch %d: %s", resp.Status, b.Seq, excerpt)

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return export.ResultRetryable, sendErr
	default:
		// Auth rejections and other 4xx cannot succeed on retry.
		return export.ResultFatal, sendErr
	}
}
