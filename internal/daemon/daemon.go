package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"livestreamdvr/internal/capture"
	"livestreamdvr/internal/config"
	"livestreamdvr/internal/inbox"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/notifications"
	"livestreamdvr/internal/preflight"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/vod"
)

const closeTimeout = 30 * time.Second

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another livestreamdvr daemon is already running")

// Daemon owns every long-lived component and the single-instance lock.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	sessionID string

	lock     *flock.Flock
	store    *vod.Store
	runner   *procexec.Runner
	registry *jobs.Registry
	bus      *notifications.Bus
	manager  *capture.Manager
	inbox    *inbox.Watcher
	http     *httpServer

	running  atomic.Bool
	recovery capture.RecoveryReport
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	SessionID     string
	LockFilePath  string
	DatabasePath  string
	MetricsAddr   string
	Jobs          int
	Processes     int
	DroppedEvents uint64
	Recovery      capture.RecoveryReport
}

// New constructs a daemon with all components wired. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	sessionID := uuid.NewString()
	logger = logger.With(logging.String("session_id", sessionID))

	store, err := vod.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open vod store: %w", err)
	}
	bus := notifications.NewBus(cfg.Notifications.BusBuffer)
	notifier := notifications.NewService(cfg, bus)
	runner := procexec.New(logger, procexec.WithMaxLines(cfg.Jobs.MaxLogLines), procexec.WithStopGrace(cfg.StopGrace()))
	registry := jobs.NewRegistry(cfg, logger, notifier)
	pipeline := media.New(cfg, runner, registry, logger)
	manager := capture.New(cfg, store, registry, runner, pipeline, notifier, logger)

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		sessionID: sessionID,
		lock:      flock.New(cfg.LockPath()),
		store:     store,
		runner:    runner,
		registry:  registry,
		bus:       bus,
		manager:   manager,
		inbox:     inbox.NewWatcher(cfg.Paths.InboxDir, manager, logger),
	}
	if cfg.Metrics.Enabled {
		d.http = newHTTPServer(cfg.Metrics.Bind, d, logger)
	}
	return d, nil
}

// Start takes the lock, checks the environment and reconciles what the
// previous session left behind.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	results := preflight.RunAll(ctx, d.cfg)
	for _, r := range results {
		if !r.Passed && !r.Required {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_warning",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
	}
	if failed := preflight.FailedRequired(results); len(failed) > 0 {
		_ = d.lock.Unlock()
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Name+": "+r.Detail)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}

	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: d.cfg.SoftwareLogDir(), Pattern: "*.log"},
		logging.RetentionTarget{Dir: d.cfg.Paths.LogDir, Pattern: "*.log", Exclude: []string{logging.DaemonLogName}},
	)

	report, err := d.manager.Recover(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover: %w", err)
	}
	d.recovery = report
	d.running.Store(true)
	d.logger.Info("livestreamdvr daemon started",
		logging.String("lock", d.cfg.LockPath()),
		logging.Int("pid", os.Getpid()),
		logging.Int("adopted", len(report.Adopted)),
		logging.Int("flagged", len(report.Flagged)),
	)
	return nil
}

// Serve runs the trigger inbox, the adopted-job watcher and the optional
// HTTP endpoint until ctx is done or one of them fails.
func (d *Daemon) Serve(ctx context.Context) error {
	if !d.running.Load() {
		return errors.New("daemon not started")
	}
	if d.http != nil {
		if err := d.http.listen(); err != nil {
			return err
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.inbox.Run(gctx) })
	g.Go(func() error { return d.registry.Watch(gctx, d.cfg.LivenessPoll(), d.manager.JobGone) })
	if d.http != nil {
		g.Go(func() error { return d.http.serve(gctx) })
	}
	return g.Wait()
}

// Stop detaches from running work and releases the lock. Captures keep
// running and are adopted by the next session.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := d.manager.Close(ctx); err != nil {
		d.logger.Warn("background work did not finish", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("livestreamdvr daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Manager exposes the capture lifecycle, for callers embedding the daemon.
func (d *Daemon) Manager() *capture.Manager { return d.manager }

// Store exposes the VOD store.
func (d *Daemon) Store() *vod.Store { return d.store }

// Bus exposes the in-process event bus.
func (d *Daemon) Bus() *notifications.Bus { return d.bus }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	s := Status{
		Running:       d.running.Load(),
		SessionID:     d.sessionID,
		LockFilePath:  d.cfg.LockPath(),
		DatabasePath:  d.store.Path(),
		Jobs:          d.registry.Len(),
		Processes:     len(d.runner.Running()),
		DroppedEvents: d.bus.Dropped(),
		Recovery:      d.recovery,
	}
	if d.http != nil {
		s.MetricsAddr = d.http.addr()
	}
	return s
}

// Run is the foreground entry point: it builds, starts and serves the daemon
// until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			d.logger.Warn("store close failed", logging.Error(err))
		}
	}()
	if err := d.Start(ctx); err != nil {
		return err
	}
	err = d.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
