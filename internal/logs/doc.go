// Package logs reads the daemon log and job output files for the CLI.
//
// Last returns the tail of a file and the offset to continue from; Follow
// streams lines appended after that offset until the context ends. Only
// complete lines are emitted, and a file that shrinks (truncated or
// replaced) is reread from the start.
package logs
