/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package agentwatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"agentwatch.dev/agentwatch/export"
)

// Config is the SDK configuration surface. Policy knobs (batch size,
// backoff curve, payload cap) are configuration, not contract.
type Config struct {
	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string `env:"AGENTWATCH_ENDPOINT,default=https://collector.agentwatch.dev/v1/events" yaml:"endpoint"`
	// APIKey authenticates the SDK to the collector. Required; without
	// it the client degrades to a no-op rather than crashing the host.
	APIKey string `env:"AGENTWATCH_API_KEY" yaml:"api_key"`

	// BatchSize is the flush trigger on queue depth.
	BatchSize int `env:"AGENTWATCH_BATCH_SIZE,default=512" yaml:"batch_size"`
	// FlushInterval bounds telemetry staleness.
	FlushInterval time.Duration `env:"AGENTWATCH_FLUSH_INTERVAL,default=5s" yaml:"flush_interval"`
	// MaxQueueSize bounds buffered memory; the oldest event is evicted
	// when full.
	MaxQueueSize int `env:"AGENTWATCH_MAX_QUEUE_SIZE,default=4096" yaml:"max_queue_size"`

	// MaxRetries, BaseBackoff, MaxBackoff, and MaxJitter shape the
	// retry policy for retryable export failures.
	MaxRetries  int           `env:"AGENTWATCH_MAX_RETRIES,default=3" yaml:"max_retries"`
	BaseBackoff time.Duration `env:"AGENTWATCH_BASE_BACKOFF,default=1s" yaml:"base_backoff"`
	MaxBackoff  time.Duration `env:"AGENTWATCH_MAX_BACKOFF,default=30s" yaml:"max_backoff"`
	MaxJitter   time.Duration `env:"AGENTWATCH_MAX_JITTER,default=250ms" yaml:"max_jitter"`

	// RequestTimeout bounds each transport attempt.
	RequestTimeout time.Duration `env:"AGENTWATCH_REQUEST_TIMEOUT,default=10s" yaml:"request_timeout"`
	// EndTimeout bounds the final flush performed by EndSession and
	// Shutdown; events unresolved when it elapses are abandoned.
	EndTimeout time.Duration `env:"AGENTWATCH_END_TIMEOUT,default=10s" yaml:"end_timeout"`
	// MaxPayloadBytes caps the serialized size of a single event
	// payload; oversize payloads are truncated, not dropped.
	MaxPayloadBytes int `env:"AGENTWATCH_MAX_PAYLOAD_BYTES,default=65536" yaml:"max_payload_bytes"`
}

// FromEnv builds the configuration from AGENTWATCH_* environment
// variables.
func FromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, fmt.Errorf("processing config: %w", err)
	}
	return cfg, nil
}

// FromFile loads the configuration from a YAML file, with file values
// overriding the environment defaults.
func FromFile(ctx context.Context, path string) (Config, error) {
	cfg, err := FromEnv(ctx)
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration. A missing credential is a
// ConfigurationError, which New treats as "degrade to no-op".
func (c Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigurationError{Reason: "AGENTWATCH_API_KEY is not set"}
	}
	if c.Endpoint == "" {
		return &ConfigurationError{Reason: "collector endpoint is not set"}
	}
	if c.EndTimeout <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("end timeout must be positive, got %v", c.EndTimeout)}
	}
	pipe := c.pipelineConfig()
	if err := pipe.Validate(); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}

func (c Config) pipelineConfig() export.Config {
	return export.Config{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		MaxQueueSize:  c.MaxQueueSize,
		Retry: export.RetryConfig{
			MaxRetries:  c.MaxRetries,
			BaseBackoff: c.BaseBackoff,
			MaxBackoff:  c.MaxBackoff,
			MaxJitter:   c.MaxJitter,
		},
	}
}
