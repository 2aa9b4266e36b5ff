// Package procexec spawns external tools and supervises them until exit.
//
// Commands are passed to the OS as an argument vector, never through a shell.
// Every spawned process is registered with its Runner under a process-unique
// sequence id and removed exactly once when it exits. Start returns a Handle
// with a line channel for progress parsers and an awaitable Result; Run is the
// bare form that collects output and waits.
//
// Each process leads its own process group so Stop can terminate helper
// children along with the tool itself.
package procexec
