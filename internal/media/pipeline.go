package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/deps"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
)

// JobOptions customise the supervised job behind an operation.
type JobOptions struct {
	// JobName overrides the derived "<op>_<output>" name.
	JobName  string
	Metadata map[string]any
	// OnProgress receives every parsed fraction, in output order, before the
	// operation returns.
	OnProgress func(fraction float64)
}

// Result describes a produced artifact.
type Result struct {
	Output   string
	Size     int64
	Cached   bool
	ExitCode int
	Stdout   []string
	Stderr   []string
	Runtime  time.Duration
}

// Pipeline runs media tools as supervised jobs.
type Pipeline struct {
	cfg      *config.Config
	runner   *procexec.Runner
	registry *jobs.Registry
	logger   *slog.Logger
}

// New constructs a Pipeline.
func New(cfg *config.Config, runner *procexec.Runner, registry *jobs.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		runner:   runner,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "media"),
	}
}

type invocation struct {
	op       string
	name     string
	cmd      procexec.Command
	output   string
	progress *DurationProgress
	opts     JobOptions
}

func (p *Pipeline) run(ctx context.Context, inv invocation) (Result, error) {
	ctx = services.WithJob(ctx, inv.name)
	logger := logging.WithContext(ctx, p.logger).With(logging.String("operation", inv.op))
	sampler := logging.NewProgressSampler(0.1)
	meta := map[string]any{jobs.MetaKind: inv.op}
	for k, v := range inv.opts.Metadata {
		meta[k] = v
	}

	job, err := p.registry.Supervise(ctx, p.runner, jobs.SuperviseRequest{
		Name:     inv.name,
		Command:  inv.cmd,
		Metadata: meta,
		LogName:  inv.name,
		OnLine: func(j *jobs.Job, line procexec.Line) {
			if strings.Contains(line.Text, "moving the moov atom") {
				logger.Info("moving moov atom to the start of the file")
			}
			if inv.progress == nil {
				return
			}
			fraction, ok := inv.progress.Feed(line.Text)
			if !ok {
				return
			}
			j.SetProgress(fraction)
			if inv.opts.OnProgress != nil {
				inv.opts.OnProgress(fraction)
			}
			if sampler.ShouldLog(fraction, inv.op) {
				logger.Debug("progress", logging.Float64("fraction", fraction))
			}
		},
	})
	if err != nil {
		metrics.IncPipelineOp(inv.op, "spawn_error")
		return Result{Output: inv.output}, fmt.Errorf("%s: %w", inv.op, err)
	}

	res, waitErr := job.Wait(ctx)
	if waitErr != nil && ctx.Err() != nil && errors.Is(waitErr, ctx.Err()) {
		if err := job.Stop(p.cfg.StopGrace()); err != nil {
			logger.Warn("stop after cancel failed", logging.Error(err))
		}
		res, _ = job.Wait(context.Background())
		removeIfEmpty(inv.output)
		metrics.IncPipelineOp(inv.op, "cancelled")
		return resultFrom(inv.output, 0, res), ctx.Err()
	}
	if errors.Is(waitErr, procexec.ErrStopped) {
		removeIfEmpty(inv.output)
		metrics.IncPipelineOp(inv.op, "stopped")
		return resultFrom(inv.output, 0, res), waitErr
	}

	size, exists := artifactSize(inv.output)
	if exists && size > 0 {
		if waitErr != nil {
			logging.WarnWithContext(logger, "tool exited non-zero but produced output", "tool_exit_ignored",
				logging.Int("exit_code", res.ExitCode),
				logging.String("output", inv.output),
				logging.Error(waitErr),
				logging.String(logging.FieldImpact, "output kept; verify it plays back"),
			)
		}
		metrics.IncPipelineOp(inv.op, "ok")
		return resultFrom(inv.output, size, res), nil
	}

	if exists {
		if err := os.Remove(inv.output); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("empty output not removed", logging.String("output", inv.output), logging.Error(err))
		}
	}
	if waitErr == nil {
		msg := "no output produced"
		if extracted := procexec.ExtractError(res.Stderr); extracted != "" {
			msg += ": " + extracted
		}
		waitErr = &services.ToolFailure{
			Label:    inv.cmd.Label,
			Bin:      inv.cmd.Bin,
			Args:     inv.cmd.Args,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Message:  msg,
		}
	}
	metrics.IncPipelineOp(inv.op, "failed")
	logging.ErrorWithContext(logger, "media operation failed", "media_failed",
		logging.Int(logging.FieldPID, res.PID),
		logging.String("command", inv.cmd.String()),
		logging.Error(waitErr),
	)
	return resultFrom(inv.output, 0, res), fmt.Errorf("%s %s: %w", inv.op, inv.output, waitErr)
}

func (p *Pipeline) tool(name, configured string) (string, error) {
	return deps.Resolve(name, configured)
}

func resultFrom(output string, size int64, res procexec.Result) Result {
	return Result{
		Output:   output,
		Size:     size,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Runtime:  res.Runtime(),
	}
}

func jobName(op, output string) string {
	base := filepath.Base(output)
	return op + "_" + strings.TrimSuffix(base, filepath.Ext(base))
}

func (o JobOptions) name(op, output string) string {
	if strings.TrimSpace(o.JobName) != "" {
		return o.JobName
	}
	return jobName(op, output)
}

// artifactSize reports whether path is a regular file and its size.
func artifactSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func removeIfEmpty(path string) {
	if size, ok := artifactSize(path); ok && size == 0 {
		_ = os.Remove(path)
	}
}

// requireInput rejects a missing, non-regular or zero-byte input.
func requireInput(op, path string) error {
	if strings.TrimSpace(path) == "" {
		return &services.ValidationError{Op: op, Reason: "input path is empty"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &services.ValidationError{Op: op, Path: path, Reason: "input file does not exist"}
		}
		return &services.ValidationError{Op: op, Path: path, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return &services.ValidationError{Op: op, Path: path, Reason: "input is not a regular file"}
	}
	if info.Size() == 0 {
		return &services.ValidationError{Op: op, Path: path, Reason: "input file is empty"}
	}
	return nil
}

// prepareOutput enforces the destructive-operation rules: a non-empty
// existing output needs overwrite, and any existing output is removed before
// the tool runs.
func prepareOutput(op, input, output string, overwrite bool) error {
	if strings.TrimSpace(output) == "" {
		return &services.ValidationError{Op: op, Reason: "output path is empty"}
	}
	if filepath.Clean(input) == filepath.Clean(output) {
		return &services.ValidationError{Op: op, Path: output, Reason: "output would overwrite the input"}
	}
	if size, exists := artifactSize(output); exists {
		if size > 0 && !overwrite {
			return &services.ValidationError{Op: op, Path: output, Reason: "output already exists"}
		}
		// A stale artifact would satisfy the post-run check on its own.
		if err := os.Remove(output); err != nil {
			return fmt.Errorf("%s: remove previous output: %w", op, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("%s: create output dir: %w", op, err)
	}
	return nil
}

// cached reports an existing non-empty derivative that can be reused.
func cached(output string, overwrite bool) (Result, bool) {
	if overwrite {
		return Result{}, false
	}
	size, exists := artifactSize(output)
	if !exists || size == 0 {
		return Result{}, false
	}
	return Result{Output: output, Size: size, Cached: true}, true
}
