package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/services"
)

// ErrStopped reports that a process ended because Stop was called.
var ErrStopped = errors.New("process stopped")

// ErrKillFailed reports that a process survived SIGKILL for too long.
var ErrKillFailed = errors.New("process did not exit after SIGKILL")

const killTimeout = 5 * time.Second

// Handle is a live process started by a Runner.
type Handle struct {
	runner *Runner
	cmd    Command
	exec   *exec.Cmd
	entry  RunningProcess

	lines  chan Line
	done   chan struct{}
	stdout *LineRing
	stderr *LineRing
	output *bytes.Buffer

	mu       sync.Mutex
	stopping bool
	finished bool
	result   Result
	err      error
}

// ID is the runner-wide sequence id. Ids are never reused within a run.
func (h *Handle) ID() uint64 { return h.entry.ID }

// PID is the OS process id, which is also the process group id.
func (h *Handle) PID() int { return h.entry.PID }

// Command returns the command that was spawned.
func (h *Handle) Command() Command { return h.cmd }

// StartedAt is the spawn time.
func (h *Handle) StartedAt() time.Time { return h.entry.StartedAt }

// Lines delivers output lines as they are read. It is closed once both
// streams reach EOF. Exactly one consumer should drain it; the process
// cannot make progress while the channel is full.
func (h *Handle) Lines() <-chan Line { return h.lines }

// Done is closed after the process has closed and its Result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process closes or ctx is done. The Result is always
// populated once the process has closed. The error is nil for a zero exit,
// wraps ErrStopped after Stop, and is a *services.ToolFailure otherwise.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Stop terminates the process group: SIGTERM, then SIGKILL once grace has
// elapsed. The resulting close is reported as stopped, never as a failure.
// Calling Stop on a closed process is a no-op.
func (h *Handle) Stop(grace time.Duration) error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	h.stopping = true
	h.mu.Unlock()

	if grace <= 0 {
		grace = defaultStopGrace
	}
	h.runner.logger.Info("stopping process",
		logging.String(logging.FieldLabel, h.entry.Label),
		logging.Int(logging.FieldPID, h.entry.PID),
		logging.Duration("grace", grace),
	)
	if err := signalGroup(h.entry.PID, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal %s: %w", h.entry.Label, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	logging.WarnWithContext(h.runner.logger, "process ignored SIGTERM; sending SIGKILL", "process_kill",
		logging.String(logging.FieldLabel, h.entry.Label),
		logging.Int(logging.FieldPID, h.entry.PID),
		logging.String(logging.FieldImpact, "tool output may be truncated"),
	)
	if err := signalGroup(h.entry.PID, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill %s: %w", h.entry.Label, err)
	}
	kill := time.NewTimer(killTimeout)
	defer kill.Stop()
	select {
	case <-h.done:
		return nil
	case <-kill.C:
		return ErrKillFailed
	}
}

func (h *Handle) consume(wg *sync.WaitGroup, rd io.Reader, stream Stream, ring *LineRing) {
	defer wg.Done()
	scanner := newScanner(rd)
	for scanner.Scan() {
		text := scanner.Text()
		ring.Add(text)
		h.lines <- Line{Stream: stream, Text: text, At: time.Now()}
	}
	if err := scanner.Err(); err != nil {
		h.runner.logger.Debug("output scan stopped early",
			logging.String(logging.FieldLabel, h.entry.Label),
			logging.String("stream", string(stream)),
			logging.Error(err),
		)
		// Keep the pipe drained so the tool never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, rd)
	}
}

// finish runs once per process: it waits for both readers, reaps the
// process, publishes the Result, and unregisters the entry.
func (h *Handle) finish(readers *sync.WaitGroup) {
	readers.Wait()
	close(h.lines)
	waitErr := h.exec.Wait()
	ended := time.Now()

	exitCode := 0
	if h.exec.ProcessState != nil {
		exitCode = h.exec.ProcessState.ExitCode()
	} else if waitErr != nil {
		exitCode = -1
	}

	h.mu.Lock()
	h.finished = true
	res := Result{
		Label:     h.entry.Label,
		Bin:       h.cmd.Bin,
		Args:      append([]string(nil), h.cmd.Args...),
		PID:       h.entry.PID,
		ExitCode:  exitCode,
		Stdout:    h.stdout.Lines(),
		Stderr:    h.stderr.Lines(),
		Output:    h.capturedOutput(),
		Stopped:   h.stopping,
		StartedAt: h.entry.StartedAt,
		EndedAt:   ended,
	}
	var outcome string
	switch {
	case res.Stopped:
		outcome = "stopped"
		h.err = fmt.Errorf("%s (pid %d): %w", res.Label, res.PID, ErrStopped)
	case exitCode != 0:
		outcome = "nonzero"
		h.err = &services.ToolFailure{
			Label:    res.Label,
			Bin:      res.Bin,
			Args:     res.Args,
			ExitCode: exitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Message:  ExtractError(res.Stderr),
		}
	default:
		outcome = "ok"
	}
	h.result = res
	h.mu.Unlock()

	h.runner.unregister(h.entry.ID)
	metrics.ObserveProcessExit(res.Label, outcome, res.Runtime())
	h.runner.logger.Debug("process closed",
		logging.String(logging.FieldLabel, res.Label),
		logging.Int(logging.FieldPID, res.PID),
		logging.Int("exit_code", exitCode),
		logging.String("outcome", outcome),
		logging.Duration("runtime", res.Runtime()),
	)
	close(h.done)
}

func (h *Handle) capturedOutput() []byte {
	if h.output == nil {
		return nil
	}
	return bytes.Clone(h.output.Bytes())
}
