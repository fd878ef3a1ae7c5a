/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package agentwatch

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid or missing SDK configuration.
// It is fatal at startup only in the sense that instrumentation becomes
// a no-op; it is never allowed to crash the host program.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("agentwatch configuration error: %s", e.Reason)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ErrNoActiveSession marks a recording attempt with no session to
// attach to. It is counted and logged, never raised into instrumented
// code; Record returns an invalid handle instead.
var ErrNoActiveSession = errors.New("no active session")
