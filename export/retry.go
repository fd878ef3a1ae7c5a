/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package export

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// RetryConfig configures retry behavior for export attempts. Collector
// outages and rate limits are the common case, so backoffs lean long.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the
	// first send (default: 3). 0 means do not retry at all.
	MaxRetries int
	// BaseBackoff is the initial backoff duration (default: 1s)
	BaseBackoff time.Duration
	// MaxBackoff is the maximum backoff duration (default: 30s)
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to backoff (default: 250ms)
	MaxJitter time.Duration
}

// Validate checks that the retry configuration has valid values.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if c.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultRetryConfig returns the retry policy used when none is
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Backoff returns the wait before the given retry attempt (0-based):
// BaseBackoff * 2^attempt, capped at MaxBackoff, plus random jitter to
// avoid thundering herds against a recovering collector.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := min(c.BaseBackoff<<attempt, c.MaxBackoff)

	var jitter time.Duration
	if c.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter))); err == nil {
			jitter = time.Duration(n.Int64())
		}
	}
	return backoff + jitter
}
