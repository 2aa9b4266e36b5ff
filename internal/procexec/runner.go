package procexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/services"
)

const (
	defaultLineBuffer = 256
	defaultMaxLines   = 5000
	defaultStopGrace  = 10 * time.Second
	maxLineBytes      = 1 << 20
)

// Runner spawns external processes and tracks every live one.
type Runner struct {
	logger     *slog.Logger
	lineBuffer int
	maxLines   int
	stopGrace  time.Duration

	mu      sync.Mutex
	nextID  uint64
	running map[uint64]RunningProcess
}

// Option customizes a Runner.
type Option func(*Runner)

// WithMaxLines bounds how many lines per stream a Result retains.
func WithMaxLines(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxLines = n
		}
	}
}

// WithStopGrace sets the SIGTERM to SIGKILL window used when Run's context
// is cancelled.
func WithStopGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stopGrace = d
		}
	}
}

// New constructs a Runner.
func New(logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:     logging.NewComponentLogger(logger, "procexec"),
		lineBuffer: defaultLineBuffer,
		maxLines:   defaultMaxLines,
		stopGrace:  defaultStopGrace,
		running:    make(map[uint64]RunningProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start spawns cmd and returns a Handle for it. Spawn failures return a
// *services.SpawnError carrying the attempted command. The caller must drain
// Handle.Lines until it is closed; the context only guards the spawn itself.
func (r *Runner) Start(ctx context.Context, cmd Command) (*Handle, error) {
	label := cmd.label()
	spawnErr := func(err error) error {
		metrics.IncProcessSpawn(label, "error")
		return &services.SpawnError{Label: label, Bin: cmd.Bin, Args: cmd.Args, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, spawnErr(err)
	}
	if strings.TrimSpace(cmd.Bin) == "" {
		return nil, spawnErr(errors.New("no binary configured"))
	}

	execCmd := exec.Command(cmd.Bin, cmd.Args...)
	execCmd.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), cmd.Env...)
	}
	setProcessGroup(execCmd)

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return nil, spawnErr(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := execCmd.StderrPipe()
	if err != nil {
		return nil, spawnErr(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := execCmd.Start(); err != nil {
		r.logger.Warn("process spawn failed",
			logging.String(logging.FieldLabel, label),
			logging.String("command", cmd.String()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "process_spawn_failed"),
			logging.String(logging.FieldErrorHint, "check the binaries section of the config"),
			logging.String(logging.FieldImpact, "operation did not run"),
		)
		return nil, spawnErr(err)
	}
	metrics.IncProcessSpawn(label, "ok")

	started := time.Now()
	entry := r.register(execCmd.Process.Pid, label, cmd, started)

	h := &Handle{
		runner: r,
		cmd:    cmd,
		exec:   execCmd,
		entry:  entry,
		lines:  make(chan Line, r.lineBuffer),
		done:   make(chan struct{}),
		stdout: NewLineRing(r.maxLines),
		stderr: NewLineRing(r.maxLines),
	}

	r.logger.Debug("process started",
		logging.String(logging.FieldLabel, label),
		logging.Int(logging.FieldPID, entry.PID),
		logging.Int64("process_id", int64(entry.ID)),
		logging.String("command", cmd.String()),
	)

	var stdoutReader io.Reader = stdout
	if cmd.CaptureOutput {
		h.output = &bytes.Buffer{}
		stdoutReader = io.TeeReader(stdout, h.output)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go h.consume(&readers, stdoutReader, Stdout, h.stdout)
	go h.consume(&readers, stderr, Stderr, h.stderr)
	go h.finish(&readers)
	return h, nil
}

// Run spawns cmd, waits for it to close, and returns its collected output.
// A non-zero exit returns a *services.ToolFailure alongside the Result. If
// ctx is cancelled first the process is stopped and ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	h, err := r.Start(ctx, cmd)
	if err != nil {
		return Result{Label: cmd.label(), Bin: cmd.Bin, Args: cmd.Args, ExitCode: -1}, err
	}
	go func() {
		for range h.Lines() {
		}
	}()

	res, err := h.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		_ = h.Stop(r.stopGrace)
		res, _ = h.Wait(context.Background())
		return res, ctxErr
	}
	return res, err
}

// Running returns the live processes ordered by sequence id.
func (r *Runner) Running() []RunningProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunningProcess, 0, len(r.running))
	for _, p := range r.running {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup finds a live process by OS pid.
func (r *Runner) Lookup(pid int) (RunningProcess, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.running {
		if p.PID == pid {
			return p, true
		}
	}
	return RunningProcess{}, false
}

func (r *Runner) register(pid int, label string, cmd Command, started time.Time) RunningProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry := RunningProcess{
		ID:        r.nextID,
		PID:       pid,
		Label:     label,
		Bin:       cmd.Bin,
		Args:      append([]string(nil), cmd.Args...),
		StartedAt: started,
	}
	r.running[entry.ID] = entry
	metrics.SetRunningProcesses(len(r.running))
	return entry
}

func (r *Runner) unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
	metrics.SetRunningProcesses(len(r.running))
}

func newScanner(rd io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	scanner.Split(splitLines)
	return scanner
}
