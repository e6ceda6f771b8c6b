// Package services defines shared utilities consumed by the key router,
// health monitor, provider adapters, and pipeline executor.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, step indexes, providers, key IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep the failure
//     taxonomy (configuration, transport, resolution, probe) uniform so callers
//     can branch with errors.Is.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability) stays uniform across the system.
package services
