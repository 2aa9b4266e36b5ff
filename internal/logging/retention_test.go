package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livestreamdvr/internal/logging"
)

func TestCleanupOldLogsRemovesExpiredMatches(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "capture_a_stdout.log")
	fresh := filepath.Join(dir, "capture_b_stdout.log")
	active := filepath.Join(dir, "capture_c_stdout.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, active, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().Add(-72 * time.Hour)
	for _, path := range []string{old, active, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 1, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "*.log",
		Exclude: []string{filepath.Base(active)},
	})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, err=%v", old, err)
	}
	for _, path := range []string{fresh, active, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-240 * time.Hour)
	_ = os.Chtimes(path, past, past)
	if removed := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}); removed != 0 {
		t.Fatalf("removed = %d with retention disabled", removed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file kept when retention disabled: %v", err)
	}
}
