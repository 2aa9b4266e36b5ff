// Package daemon runs the long-lived recorder process.
//
// It wires configuration, the VOD store, the process runner, the job
// registry, the media pipeline and the capture lifecycle into one lifecycle
// guarded by a flock so only one instance owns the data directory. On start
// it reconciles jobs left by a previous session, then serves the trigger
// inbox, watches adopted jobs and, when enabled, exposes /metrics and a small
// read-only status API.
//
// Keep orchestration here: lifecycle rules live in capture, tool handling in
// media and procexec.
package daemon
