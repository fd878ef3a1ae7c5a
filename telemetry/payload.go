/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

package telemetry

import (
	"encoding/json"
	"fmt"
)

// TruncationMarker is appended to payload data that was cut to fit the
// configured size cap.
const TruncationMarker = "…(truncated)"

// Payload is kind-specific structured data attached to an event. The
// pipeline treats it as opaque beyond size validation.
type Payload map[string]any

// Cap enforces the per-event serialized size limit. Payloads under the
// limit are returned unchanged. Oversize payloads are replaced with a
// marker payload carrying a prefix of the serialized form, so partial
// observability survives instead of dropping the event wholesale.
// A limit <= 0 disables capping.
func (p Payload) Cap(limit int) (Payload, bool) {
	if limit <= 0 || len(p) == 0 {
		return p, false
	}
	raw, err := json.Marshal(p)
	if err != nil {
		// Unserializable values (channels, funcs) must not break the
		// instrumented program. Record what we can.
		return Payload{
			"payload_error": fmt.Sprintf("unserializable payload: %v", err),
		}, true
	}
	if len(raw) <= limit {
		return p, false
	}
	cut := raw[:limit]
	// Avoid splitting a UTF-8 sequence at the cut point.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return Payload{
		"data":           string(cut) + TruncationMarker,
		"original_bytes": len(raw),
	}, true
}

// SerializedSize returns the JSON-encoded size of the payload, or 0 if
// it cannot be serialized.
func (p Payload) SerializedSize() int {
	if len(p) == 0 {
		return 0
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return len(raw)
}
