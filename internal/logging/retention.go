package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// RetentionTarget names a directory and the file pattern pruned in it.
// Exclude lists base names inside Dir that are always kept, such as the log
// the current process writes.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes matching files last modified more than retentionDays
// ago and returns how many were removed. retentionDays <= 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		removed += target.prune(logger, cutoff)
	}
	if removed > 0 {
		logger.Info("old logs pruned",
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

func (t RetentionTarget) prune(logger *slog.Logger, cutoff time.Time) int {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return 0
	}
	pattern := strings.TrimSpace(t.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		logger.Warn("invalid log retention pattern", String("pattern", pattern), Error(err))
		return 0
	}
	removed := 0
	for _, path := range matches {
		if slices.Contains(t.Exclude, filepath.Base(path)) {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "old log could not be removed", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
	}
	return removed
}
