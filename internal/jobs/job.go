package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/notifications"
	"livestreamdvr/internal/procexec"
)

// Status is the coarse process state of a job.
type Status string

const (
	StatusNone    Status = "none"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Well-known metadata keys.
const (
	MetaVODUUID   = "vod_uuid"
	MetaChannelID = "channel_id"
	MetaKind      = "kind"
)

// ErrNoProcess is returned when stopping a job that has neither a handle nor a PID.
var ErrNoProcess = errors.New("job has no process")

// Job is one supervised external process. All methods are safe for
// concurrent use.
type Job struct {
	registry *Registry
	name     string
	id       uint64
	path     string

	mu        sync.RWMutex
	pid       int
	bin       string
	args      []string
	status    Status
	progress  *float64
	metadata  map[string]any
	stdout    *procexec.LineRing
	stderr    *procexec.LineRing
	startedAt time.Time
	exitCode  *int
	logName   string
	logFiles  map[procexec.Stream]*os.File
	handle    *procexec.Handle
	onLog     []func(procexec.Line)
	onClose   []func(procexec.Result, error)
	result    procexec.Result
	err       error

	updates   *rate.Sometimes
	closed    chan struct{}
	closeOnce sync.Once
	clearOnce sync.Once
}

func newJob(r *Registry, name string, id uint64) *Job {
	j := &Job{
		registry:  r,
		name:      name,
		id:        id,
		path:      recordPath(r.pidsDir, name),
		status:    StatusNone,
		metadata:  map[string]any{},
		stdout:    procexec.NewLineRing(r.maxLogLines),
		stderr:    procexec.NewLineRing(r.maxLogLines),
		startedAt: time.Now(),
		logFiles:  map[procexec.Stream]*os.File{},
		closed:    make(chan struct{}),
	}
	if r.updateInterval > 0 {
		j.updates = &rate.Sometimes{Interval: r.updateInterval}
	}
	return j
}

// Name is the process-unique job name.
func (j *Job) Name() string { return j.name }

// ID is the registry sequence id.
func (j *Job) ID() uint64 { return j.id }

// PID returns the OS process id, or 0 before spawn.
func (j *Job) PID() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.pid
}

// Status returns the current process state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// SetPID records the OS process id.
func (j *Job) SetPID(pid int) {
	j.mu.Lock()
	j.pid = pid
	j.mu.Unlock()
	j.registry.logger.Debug("job pid set",
		logging.String(logging.FieldJobName, j.name),
		logging.Int(logging.FieldPID, pid),
	)
	j.broadcast()
}

// SetExec records the command line for diagnostics and restart checks.
func (j *Job) SetExec(bin string, args []string) {
	j.mu.Lock()
	j.bin = bin
	j.args = append([]string(nil), args...)
	j.mu.Unlock()
	j.broadcast()
}

// SetProcess attaches a live process handle. The job takes the handle's PID
// and command and becomes running.
func (j *Job) SetProcess(h *procexec.Handle) {
	cmd := h.Command()
	j.mu.Lock()
	j.handle = h
	j.pid = h.PID()
	j.bin = cmd.Bin
	j.args = append([]string(nil), cmd.Args...)
	j.startedAt = h.StartedAt()
	j.status = StatusRunning
	j.mu.Unlock()
	j.broadcast()
}

// SetProgress stores a completion fraction, clamped to [0,1]. NaN is ignored.
func (j *Job) SetProgress(fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))
	j.mu.Lock()
	j.progress = &fraction
	j.mu.Unlock()
	j.broadcast()
}

// Progress returns the last reported fraction and whether one was set.
func (j *Job) Progress() (float64, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.progress == nil {
		return 0, false
	}
	return *j.progress, true
}

// AddMetadata merges values into the metadata bag.
func (j *Job) AddMetadata(values map[string]any) {
	if len(values) == 0 {
		return
	}
	j.mu.Lock()
	for k, v := range values {
		j.metadata[k] = v
	}
	j.mu.Unlock()
	j.broadcast()
}

// SetMetadata replaces the metadata bag.
func (j *Job) SetMetadata(values map[string]any) {
	next := make(map[string]any, len(values))
	for k, v := range values {
		next[k] = v
	}
	j.mu.Lock()
	j.metadata = next
	j.mu.Unlock()
	j.broadcast()
}

// Metadata returns a copy of the metadata bag.
func (j *Job) Metadata() map[string]any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]any, len(j.metadata))
	for k, v := range j.metadata {
		out[k] = v
	}
	return out
}

// MetadataString returns a string metadata value.
func (j *Job) MetadataString(key string) string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s, _ := j.metadata[key].(string)
	return s
}

// StartLog opens <software log dir>/<name>_stdout.log and _stderr.log, writes
// the initial text to both, and appends every subsequent output line.
func (j *Job) StartLog(name, initial string) error {
	dir := j.registry.logDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create software log dir: %w", err)
	}
	files := map[procexec.Stream]*os.File{}
	for _, stream := range []procexec.Stream{procexec.Stdout, procexec.Stderr} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, stream))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			return fmt.Errorf("open job log: %w", err)
		}
		if initial != "" {
			_, _ = f.WriteString(initial + "\n")
		}
		files[stream] = f
	}
	j.mu.Lock()
	j.closeLogsLocked()
	j.logName = name
	j.logFiles = files
	j.mu.Unlock()
	return nil
}

// LogName is the base name passed to StartLog.
func (j *Job) LogName() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.logName
}

// OnLog registers fn to receive every output line in stream order.
func (j *Job) OnLog(fn func(procexec.Line)) {
	j.mu.Lock()
	j.onLog = append(j.onLog, fn)
	j.mu.Unlock()
}

// OnClose registers fn to run once the process has closed, before Clear.
func (j *Job) OnClose(fn func(procexec.Result, error)) {
	j.mu.Lock()
	j.onClose = append(j.onClose, fn)
	j.mu.Unlock()
}

// Output returns the retained stdout and stderr lines.
func (j *Job) Output() (stdout, stderr []string) {
	return j.stdout.Lines(), j.stderr.Lines()
}

// ExitCode returns the exit code once the process has closed.
func (j *Job) ExitCode() (int, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.exitCode == nil {
		return 0, false
	}
	return *j.exitCode, true
}

// Done is closed after the process has closed and every line has been
// dispatched to listeners.
func (j *Job) Done() <-chan struct{} { return j.closed }

// Wait blocks until Done and returns the process result. For a supervised
// job every OnLog callback has returned before Wait does.
func (j *Job) Wait(ctx context.Context) (procexec.Result, error) {
	select {
	case <-j.closed:
	case <-ctx.Done():
		return procexec.Result{}, ctx.Err()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.err
}

// Stop terminates the job's process group. For jobs adopted after a restart
// the PID is signalled directly.
func (j *Job) Stop(grace time.Duration) error {
	j.mu.RLock()
	h, pid := j.handle, j.pid
	j.mu.RUnlock()
	if h != nil {
		return h.Stop(grace)
	}
	if pid <= 0 {
		return ErrNoProcess
	}
	j.registry.logger.Info("stopping adopted job",
		logging.String(logging.FieldJobName, j.name),
		logging.Int(logging.FieldPID, pid),
	)
	if err := terminatePID(pid, grace); err != nil {
		return err
	}
	j.mu.Lock()
	j.status = StatusStopped
	j.mu.Unlock()
	j.finish(procexec.Result{Label: j.name, PID: pid, Stopped: true, EndedAt: time.Now()}, fmt.Errorf("%s: %w", j.name, procexec.ErrStopped))
	j.Clear()
	return nil
}

// Save persists the job record. It returns false on failure after logging,
// so supervising loops can continue.
func (j *Job) Save() bool {
	rec := j.Record()
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		j.logSaveFailure(err)
		return false
	}
	if err := writeRecord(j.path, rec); err != nil {
		j.logSaveFailure(err)
		return false
	}
	j.registry.logger.Debug("job saved",
		logging.String(logging.FieldJobName, j.name),
		logging.Int(logging.FieldPID, rec.PID),
		logging.String("path", j.path),
	)
	return true
}

func (j *Job) logSaveFailure(err error) {
	logging.WarnWithContext(j.registry.logger, "job record not saved", "job_save_failed",
		logging.String(logging.FieldJobName, j.name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check permissions on paths.pids_dir"),
		logging.String(logging.FieldImpact, "job will not be recognised after a restart"),
	)
}

// Clear removes the persisted record, drops the job from the registry,
// closes log files and releases the process handle. It is idempotent.
func (j *Job) Clear() {
	j.clearOnce.Do(func() {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.registry.logger.Debug("job record removal failed",
				logging.String(logging.FieldJobName, j.name),
				logging.Error(err),
			)
		}
		j.registry.Remove(j.name)

		j.mu.Lock()
		adopted := j.handle == nil
		j.handle = nil
		j.closeLogsLocked()
		if j.status == StatusRunning {
			j.status = StatusStopped
		}
		j.mu.Unlock()
		if adopted {
			j.finish(procexec.Result{Label: j.name, PID: j.PID()}, nil)
		}

		j.registry.logger.Debug("job cleared", logging.String(logging.FieldJobName, j.name))
		j.publish(notifications.KindJobClear)
	})
}

// Snapshot is a point-in-time copy of a job for display.
type Snapshot struct {
	Name      string
	ID        uint64
	PID       int
	Bin       string
	Args      []string
	Status    Status
	Progress  *float64
	Metadata  map[string]any
	StartedAt time.Time
	ExitCode  *int
	Adopted   bool
}

// Snapshot copies the job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{
		Name:      j.name,
		ID:        j.id,
		PID:       j.pid,
		Bin:       j.bin,
		Args:      append([]string(nil), j.args...),
		Status:    j.status,
		StartedAt: j.startedAt,
		Adopted:   j.handle == nil && j.status == StatusRunning,
		Metadata:  make(map[string]any, len(j.metadata)),
	}
	for k, v := range j.metadata {
		s.Metadata[k] = v
	}
	if j.progress != nil {
		p := *j.progress
		s.Progress = &p
	}
	if j.exitCode != nil {
		c := *j.exitCode
		s.ExitCode = &c
	}
	return s
}

// Record builds the persisted representation.
func (j *Job) Record() Record {
	s := j.Snapshot()
	return Record{
		Name:       s.Name,
		PID:        s.PID,
		Metadata:   s.Metadata,
		StartedAt:  s.StartedAt,
		Bin:        s.Bin,
		Args:       s.Args,
		Progress:   s.Progress,
		Status:     s.Status,
		LogExcerpt: j.stderr.LastN(20),
	}
}

// handleLine is called by the supervising pump for each output line, in order.
func (j *Job) handleLine(line procexec.Line) {
	ring := j.stdout
	if line.Stream == procexec.Stderr {
		ring = j.stderr
	}
	ring.Add(line.Text)

	j.mu.RLock()
	f := j.logFiles[line.Stream]
	listeners := j.onLog
	j.mu.RUnlock()
	if f != nil {
		_, _ = f.WriteString(line.Text + "\n")
	}
	for _, fn := range listeners {
		fn(line)
	}
}

// closeProcess records the outcome of a supervised process.
func (j *Job) closeProcess(res procexec.Result, err error) {
	code := res.ExitCode
	j.mu.Lock()
	j.exitCode = &code
	switch {
	case res.Stopped:
		j.status = StatusStopped
	case code != 0:
		j.status = StatusError
	default:
		j.status = StatusStopped
	}
	listeners := j.onClose
	j.mu.Unlock()

	for _, fn := range listeners {
		fn(res, err)
	}
	j.publish(notifications.KindJobUpdate)
}

func (j *Job) finish(res procexec.Result, err error) {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.result = res
		j.err = err
		j.mu.Unlock()
		close(j.closed)
	})
}

func (j *Job) closeLogsLocked() {
	for stream, f := range j.logFiles {
		_ = f.Close()
		delete(j.logFiles, stream)
	}
}

// broadcast publishes a throttled job_update notification.
func (j *Job) broadcast() {
	if j.updates == nil {
		j.publish(notifications.KindJobUpdate)
		return
	}
	j.updates.Do(func() { j.publish(notifications.KindJobUpdate) })
}

func (j *Job) publish(kind notifications.Kind) {
	s := j.Snapshot()
	ev := notifications.Event{
		Kind:     kind,
		JobName:  s.Name,
		PID:      s.PID,
		Progress: s.Progress,
		Status:   string(s.Status),
		At:       time.Now(),
	}
	if v, ok := s.Metadata[MetaVODUUID].(string); ok {
		ev.VODUUID = v
	}
	if err := j.registry.notifier.Publish(context.Background(), ev); err != nil {
		j.registry.logger.Debug("job notification failed",
			logging.String(logging.FieldJobName, j.name),
			logging.Error(err),
		)
	}
}
