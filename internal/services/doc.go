// Package services defines the error vocabulary and context annotations shared
// by the process runner, job registry, media pipeline and capture lifecycle.
//
// Key responsibilities:
//   - Sentinel markers plus the Wrap helper so callers can classify failures
//     with errors.Is regardless of how deeply they were wrapped.
//   - Typed errors for spawn failures, validation failures, tool failures,
//     orphaned jobs and timeline anomalies, each carrying the command or
//     record needed to reconstruct what ran.
//   - Retryable, the single classification the capture retry policy consults.
//   - Context helpers that stamp VOD ids, job names, stages and correlation
//     identifiers for logging.
package services
