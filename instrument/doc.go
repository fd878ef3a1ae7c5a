/*
Copyright 2026 Agentwatch Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package instrument wraps application functions with span recording.
// Wrappers preserve the exact signature and behavior of the function
// they wrap: arguments, results, errors, and panics all pass through
// unchanged, with a span-shaped event recorded around the call.
//
//	search := instrument.WrapFunc(client, telemetry.KindTool, "search",
//		func(ctx context.Context, q string) ([]string, error) {
//			return index.Lookup(ctx, q)
//		})
//	hits, err := search(ctx, "golang generics")
//
// When the client is disabled or no session is active the wrapper is a
// plain passthrough.
package instrument
