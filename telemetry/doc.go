/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

/*
Package telemetry defines the event model shared by the recorder and the
export pipeline.

  - Event: one observed occurrence (action, tool call, LLM call, error)
    within a session, with span identifiers forming a call tree.
  - Payload: kind-specific structured data with serialized size capping.
  - ExportState: pipeline-owned lifecycle (pending, batched, sent,
    dropped) used to uphold the conservation accounting of recorded
    events.

The package has no dependencies on the rest of the SDK so that sessions,
the exporter, and provider adapters can all share it.
*/
package telemetry
