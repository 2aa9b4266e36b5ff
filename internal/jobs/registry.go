package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/notifications"
	"livestreamdvr/internal/services"
)

// ErrJobExists is returned by Create when the name is already registered.
var ErrJobExists = errors.New("job already registered")

// Registry is the table of active jobs. Mutation is serialized by a mutex;
// removal is idempotent.
type Registry struct {
	pidsDir        string
	logDir         string
	maxLogLines    int
	updateInterval time.Duration
	logger         *slog.Logger
	notifier       notifications.Notifier

	mu     sync.RWMutex
	jobs   map[string]*Job
	nextID uint64
}

// NewRegistry constructs an empty registry persisting records under
// cfg.Paths.PidsDir.
func NewRegistry(cfg *config.Config, logger *slog.Logger, notifier notifications.Notifier) *Registry {
	return &Registry{
		pidsDir:        cfg.Paths.PidsDir,
		logDir:         cfg.SoftwareLogDir(),
		maxLogLines:    cfg.Jobs.MaxLogLines,
		updateInterval: cfg.UpdateInterval(),
		logger:         logging.NewComponentLogger(logger, "jobs"),
		notifier:       notifications.OrNoop(notifier),
		jobs:           make(map[string]*Job),
	}
}

// Create registers a new job under name.
func (r *Registry) Create(name string) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &services.ValidationError{Op: "create job", Path: name, Reason: "job name must be non-empty and contain no path separators"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return nil, fmt.Errorf("create job %q: %w", name, ErrJobExists)
	}
	r.nextID++
	job := newJob(r, name, r.nextID)
	r.jobs[name] = job
	metrics.SetActiveJobs(len(r.jobs))
	return job, nil
}

// FindByName returns the job registered under name.
func (r *Registry) FindByName(name string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

// FindByPID returns the job whose process has the given PID.
func (r *Registry) FindByPID(pid int) (*Job, bool) {
	if pid <= 0 {
		return nil, false
	}
	for _, job := range r.List() {
		if job.PID() == pid {
			return job, true
		}
	}
	return nil, false
}

// Find returns the oldest job whose name contains substr.
func (r *Registry) Find(substr string) (*Job, bool) {
	for _, job := range r.List() {
		if strings.Contains(job.name, substr) {
			return job, true
		}
	}
	return nil, false
}

// List returns the registered jobs ordered by creation.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Remove drops name from the table. Removing an absent job is a no-op and
// reports false.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; !ok {
		return false
	}
	delete(r.jobs, name)
	metrics.SetActiveJobs(len(r.jobs))
	return true
}

// adopt registers a job rebuilt from a record whose process is still alive.
func (r *Registry) adopt(rec Record) (*Job, error) {
	job, err := r.Create(rec.Name)
	if err != nil {
		return nil, err
	}
	job.mu.Lock()
	job.pid = rec.PID
	job.bin = rec.Bin
	job.args = append([]string(nil), rec.Args...)
	job.startedAt = rec.StartedAt
	job.status = StatusRunning
	job.progress = rec.Progress
	for k, v := range rec.Metadata {
		job.metadata[k] = v
	}
	job.mu.Unlock()
	return job, nil
}

// Reconcile compares persisted job records against the OS process table. A
// record whose PID is alive and still runs the recorded binary is adopted
// into the registry. Any other record is an orphan: its file is removed and
// it is reported so the owning VOD can be flagged for recovery, never
// resumed.
func (r *Registry) Reconcile(ctx context.Context) ([]*Job, []*services.OrphanedJobError, error) {
	records, errs := ReadRecords(r.pidsDir)
	for _, err := range errs {
		logging.WarnWithContext(r.logger, "unreadable job record skipped", "job_record_invalid",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the job is treated as not running"),
		)
	}

	var (
		adopted []*Job
		orphans []*services.OrphanedJobError
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return adopted, orphans, err
		}
		if _, ok := r.FindByName(rec.Name); ok {
			continue
		}
		if processMatches(rec.PID, rec.Bin) {
			job, err := r.adopt(rec)
			if err != nil {
				return adopted, orphans, err
			}
			r.logger.Info("job still running from previous session",
				logging.String(logging.FieldJobName, rec.Name),
				logging.Int(logging.FieldPID, rec.PID),
				logging.String(logging.FieldEventType, "job_adopted"),
			)
			adopted = append(adopted, job)
			continue
		}

		orphan := &services.OrphanedJobError{Name: rec.Name, PID: rec.PID, Bin: rec.Bin, VODUUID: rec.VODUUID()}
		orphans = append(orphans, orphan)
		metrics.IncOrphanedJob()
		logging.WarnWithContext(r.logger, "stale job found; process is gone", "job_orphaned",
			logging.String(logging.FieldJobName, rec.Name),
			logging.Int(logging.FieldPID, rec.PID),
			logging.String(logging.FieldVODUUID, orphan.VODUUID),
			logging.String(logging.FieldErrorHint, "the daemon stopped while this job was running"),
			logging.String(logging.FieldImpact, "owning VOD needs recapture or reconversion"),
		)
		if err := removeRecord(r.pidsDir, rec.Name); err != nil {
			r.logger.Debug("orphan record removal failed", logging.String(logging.FieldJobName, rec.Name), logging.Error(err))
		}
	}
	return adopted, orphans, nil
}

// Watch polls adopted jobs every interval until ctx is done. When an adopted
// job's process disappears, onGone is called and the job is cleared.
// Supervised jobs are skipped; their pump already observes the exit.
func (r *Registry) Watch(ctx context.Context, interval time.Duration, onGone func(*Job)) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(onGone)
		}
	}
}

func (r *Registry) sweep(onGone func(*Job)) {
	for _, job := range r.List() {
		job.mu.RLock()
		adopted := job.handle == nil && job.status == StatusRunning
		pid, bin := job.pid, job.bin
		job.mu.RUnlock()
		if !adopted || processMatches(pid, bin) {
			continue
		}
		r.logger.Info("adopted job finished",
			logging.String(logging.FieldJobName, job.name),
			logging.Int(logging.FieldPID, pid),
		)
		job.mu.Lock()
		job.status = StatusStopped
		job.mu.Unlock()
		if onGone != nil {
			onGone(job)
		}
		job.Clear()
	}
}
