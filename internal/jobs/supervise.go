package jobs

import (
	"context"
	"fmt"
	"time"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/procexec"
)

// Starter spawns processes. *procexec.Runner satisfies it.
type Starter interface {
	Start(ctx context.Context, cmd procexec.Command) (*procexec.Handle, error)
}

// SuperviseRequest describes a long-running tool invocation that needs
// external visibility.
type SuperviseRequest struct {
	Name     string
	Command  procexec.Command
	Metadata map[string]any
	// LogName, when set, writes output to <software log dir>/<LogName>_{stdout,stderr}.log.
	LogName string
	// OnLine receives each output line in stream order before Wait resolves.
	OnLine func(*Job, procexec.Line)
	// OnClose runs after the last line and before the job is cleared.
	OnClose func(*Job, procexec.Result, error)
}

// Supervise creates a job, spawns the command, and pumps its output through
// the job until the process closes. The job is cleared once the process has
// closed, whatever the exit code. Spawn failures clear the job and return
// the *services.SpawnError.
func (r *Registry) Supervise(ctx context.Context, starter Starter, req SuperviseRequest) (*Job, error) {
	job, err := r.Create(req.Name)
	if err != nil {
		return nil, err
	}
	job.SetExec(req.Command.Bin, req.Command.Args)
	job.AddMetadata(req.Metadata)
	if req.OnLine != nil {
		job.OnLog(func(line procexec.Line) { req.OnLine(job, line) })
	}
	if req.OnClose != nil {
		job.OnClose(func(res procexec.Result, err error) { req.OnClose(job, res, err) })
	}

	handle, err := starter.Start(ctx, req.Command)
	if err != nil {
		job.mu.Lock()
		job.status = StatusError
		job.mu.Unlock()
		job.finish(procexec.Result{Label: req.Command.Label, Bin: req.Command.Bin, Args: req.Command.Args, ExitCode: -1}, err)
		job.Clear()
		return nil, err
	}
	job.SetProcess(handle)

	if req.LogName != "" {
		header := fmt.Sprintf("## %s started %s: %s", req.Name, time.Now().UTC().Format(time.RFC3339), req.Command.String())
		if err := job.StartLog(req.LogName, header); err != nil {
			logging.WarnWithContext(r.logger, "job log files not opened", "job_log_failed",
				logging.String(logging.FieldJobName, req.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "tool output is kept in memory only"),
			)
		}
	}
	job.Save()

	r.logger.Info("job started",
		logging.String(logging.FieldJobName, req.Name),
		logging.Int(logging.FieldPID, handle.PID()),
		logging.String(logging.FieldLabel, req.Command.Label),
	)

	go r.pump(job, handle)
	return job, nil
}

func (r *Registry) pump(job *Job, handle *procexec.Handle) {
	for line := range handle.Lines() {
		job.handleLine(line)
	}
	res, err := handle.Wait(context.Background())
	job.closeProcess(res, err)

	attrs := []logging.Attr{
		logging.String(logging.FieldJobName, job.name),
		logging.Int(logging.FieldPID, res.PID),
		logging.Int("exit_code", res.ExitCode),
		logging.Bool("stopped", res.Stopped),
		logging.Duration("runtime", res.Runtime()),
	}
	if err != nil && !res.Stopped {
		r.logger.Info("job exited with error", logging.Args(append(attrs, logging.Error(err))...)...)
	} else {
		r.logger.Info("job finished", logging.Args(attrs...)...)
	}

	job.Clear()
	job.finish(res, err)
}
