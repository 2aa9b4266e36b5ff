// Package jobs tracks supervised external processes by name.
//
// A Job wraps one running tool: its PID, command line, progress on a 0..1
// scale, metadata and recent output. The Registry is the table of active
// jobs; components receive it by injection. Each job is persisted as a JSON
// record in the pids directory while it runs so a restarted daemon can tell
// still-running work from orphans (see Registry.Reconcile).
package jobs
