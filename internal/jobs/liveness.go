package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// processAlive reports whether pid exists. EPERM means it exists but belongs
// to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// processMatches reports whether pid is alive and, when /proc is readable,
// still runs a binary named like bin. A mismatch means the PID was reused.
func processMatches(pid int, bin string) bool {
	if !processAlive(pid) {
		return false
	}
	if bin == "" {
		return true
	}
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil || len(raw) == 0 {
		return true
	}
	want := []byte(filepath.Base(bin))
	for _, arg := range bytes.Split(raw, []byte{0}) {
		if bytes.Equal([]byte(filepath.Base(string(arg))), want) {
			return true
		}
	}
	return false
}

// terminatePID stops a process we did not spawn: SIGTERM to its group (or
// the PID alone), then SIGKILL after grace.
func terminatePID(pid int, grace time.Duration) error {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	send := func(sig unix.Signal) error {
		if err := unix.Kill(-pid, sig); err == nil || errors.Is(err, unix.ESRCH) && !processAlive(pid) {
			return nil
		}
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		return nil
	}
	if err := send(unix.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := send(unix.SIGKILL); err != nil {
		return err
	}
	for i := 0; i < 50; i++ {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d survived SIGKILL", pid)
}

func removeRecord(dir, name string) error {
	err := os.Remove(recordPath(dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
