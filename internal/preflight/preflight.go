package preflight

import (
	"context"
	"time"

	"livestreamdvr/internal/config"
)

// MinFreeBytes is the storage headroom below which RunAll fails the free
// space check. Captures keep running; the result is a warning for operators.
const MinFreeBytes = 2 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Required bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	required := func(r Result) Result {
		r.Required = true
		return r
	}
	results := []Result{
		required(CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir)),
		required(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		required(CheckDirectoryAccess("Job records", cfg.Paths.PidsDir)),
		required(CheckDirectoryAccess("Inbox", cfg.Paths.InboxDir)),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Storage free space", cfg.Paths.StorageDir, MinFreeBytes),
	}
	if cfg.Notifications.NtfyTopic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic, timeout))
	}
	return results
}

// FailedRequired returns the required checks that did not pass.
func FailedRequired(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
