// Package preflight provides readiness checks for the filesystem paths and
// services the recorder depends on.
//
// The daemon runs RunAll before accepting triggers and refuses to start when
// a required directory is unusable. The CLI "deps" command prints the same
// results alongside binary availability. Free space on the storage volume is
// also reported after each remux.
package preflight
