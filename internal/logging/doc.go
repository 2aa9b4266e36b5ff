// Package logging assembles the slog loggers used by the daemon and CLI.
//
// It owns the console and JSON handlers, duplicates daemon output into a JSON
// log file, and exposes context-aware helpers so capture and job code tag each
// record with the VOD, job name, and correlation id. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
