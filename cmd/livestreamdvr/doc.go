// Command livestreamdvr is the recorder CLI. `livestreamdvr daemon` runs the
// capture service in the foreground; the other subcommands inspect the VOD
// store and job records, drop triggers into the daemon's inbox, or run media
// operations directly.
package main
