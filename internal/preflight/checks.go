package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"livestreamdvr/internal/textutil"
)

// CheckNtfy verifies that the ntfy topic URL answers. Any HTTP response
// counts as reachable; only transport failures fail the check.
func CheckNtfy(ctx context.Context, topic string, timeout time.Duration) Result {
	const name = "ntfy"

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, topic, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url (%v)", err)}
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckFreeSpace fails when fewer than minBytes are available under path.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free on %s", textutil.FormatBytes(int64(free)), path)
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(" (need %s)", textutil.FormatBytes(int64(minBytes)))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (host unreachable)"
	}
	return err.Error()
}
