package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/fsm"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/notifications"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/vod"
)

const notifyTimeout = 15 * time.Second

// Manager owns the lifecycle of every VOD.
type Manager struct {
	cfg      *config.Config
	store    *vod.Store
	registry *jobs.Registry
	runner   *procexec.Runner
	pipeline *media.Pipeline
	notifier notifications.Notifier
	logger   *slog.Logger

	// base outlives individual commands; cancelling it detaches background
	// work without killing capture processes.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
}

// actor serialises everything that touches one VOD.
type actor struct {
	mu      sync.Mutex
	v       *vod.VOD
	machine *fsm.Machine[vod.State, Event]

	// job is the running capture job, or an adopted one after a restart.
	job *jobs.Job
	// convertCancel aborts an in-flight conversion.
	convertCancel context.CancelFunc
	// busy is closed when the current background run ends; nil when idle.
	busy   chan struct{}
	stopCh chan struct{}
	stop   bool
}

// New wires a Manager. Background work runs until Close.
func New(cfg *config.Config, store *vod.Store, registry *jobs.Registry, runner *procexec.Runner, pipeline *media.Pipeline, notifier notifications.Notifier, logger *slog.Logger) *Manager {
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		store:    store,
		registry: registry,
		runner:   runner,
		pipeline: pipeline,
		notifier: notifications.OrNoop(notifier),
		logger:   logging.NewComponentLogger(logger, "capture"),
		base:     base,
		cancel:   cancel,
		actors:   make(map[string]*actor),
	}
}

// Close detaches from running captures and waits for background goroutines
// to return. Capture processes keep running and are adopted by Recover on
// the next start; in-flight conversions are stopped and flagged there.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no background work runs for the VOD.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.actors[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	a.mu.Lock()
	busy := a.busy
	a.mu.Unlock()
	if busy == nil {
		return nil
	}
	select {
	case <-busy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a snapshot of the VOD.
func (m *Manager) Get(ctx context.Context, id string) (*vod.VOD, error) {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneVOD(a.v), nil
}

func (m *Manager) actorFor(ctx context.Context, id string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actors[id]; ok {
		return a, nil
	}
	v, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.addActorLocked(v), nil
}

func (m *Manager) addActor(v *vod.VOD) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addActorLocked(v)
}

func (m *Manager) addActorLocked(v *vod.VOD) *actor {
	a := &actor{v: v}
	a.machine = m.newMachine(a)
	m.actors[v.UUID] = a
	return a
}

// goBackground runs fn as the actor's background work. Callers hold a.mu.
func (m *Manager) goBackground(a *actor, fn func()) {
	busy := make(chan struct{})
	a.busy = busy
	a.stop = false
	a.stopCh = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			a.mu.Lock()
			if a.busy == busy {
				a.busy = nil
			}
			a.mu.Unlock()
			close(busy)
		}()
		fn()
	}()
}

func (a *actor) running() bool {
	return a.busy != nil
}

// refreshSegments re-reads segment sizes from disk. The next commit persists
// the result.
func (m *Manager) refreshSegments(v *vod.VOD) {
	if _, err := v.RefreshSegments(); err != nil {
		m.logger.Warn("segment refresh failed",
			logging.String(logging.FieldVODUUID, v.UUID),
			logging.Error(err),
		)
	}
}

// commit applies mutate to a copy of the VOD and saves it. The actor keeps
// the old value when the save fails. Callers hold a.mu.
func (m *Manager) commit(ctx context.Context, a *actor, mutate func(*vod.VOD)) error {
	next := cloneVOD(a.v)
	mutate(next)
	if err := m.store.Save(ctx, next); err != nil {
		logging.ErrorWithContext(m.logger, "vod save failed", "vod_save_failed",
			logging.String(logging.FieldVODUUID, next.UUID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "state change not persisted"),
		)
		return err
	}
	a.v = next
	return nil
}

// fire applies event and publishes the transition. Callers hold a.mu.
func (m *Manager) fire(ctx context.Context, a *actor, event Event) error {
	from := a.machine.State()
	to, err := a.machine.Fire(ctx, event)
	if err != nil {
		if errors.Is(err, fsm.ErrInvalidTransition) {
			return &services.ValidationError{Op: string(event), Path: a.v.UUID, Reason: err.Error()}
		}
		return err
	}
	metrics.IncVODTransition(string(from), string(to))
	m.logger.Info("vod transition",
		logging.String(logging.FieldVODUUID, a.v.UUID),
		logging.String(logging.FieldChannelID, a.v.ChannelID),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.String(logging.FieldEventType, "vod_transition"),
	)
	m.publish(notifications.Event{
		Kind:     notifications.KindVODTransition,
		VODUUID:  a.v.UUID,
		Basename: a.v.Basename,
		From:     string(from),
		To:       string(to),
	})
	return nil
}

// fail sets the sticky failed flag. Callers hold a.mu.
func (m *Manager) fail(ctx context.Context, a *actor, cause error) {
	msg := failureMessage(cause)
	err := m.commit(ctx, a, func(v *vod.VOD) {
		v.Failed = true
		v.LastError = msg
	})
	logging.ErrorWithContext(m.logger, "vod failed", "vod_failed",
		logging.String(logging.FieldVODUUID, a.v.UUID),
		logging.String(logging.FieldChannelID, a.v.ChannelID),
		logging.String("state", string(a.v.State())),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "run `livestreamdvr vod retry` once the cause is fixed"),
	)
	if err != nil {
		m.logger.Error("vod failure not persisted",
			logging.String(logging.FieldVODUUID, a.v.UUID),
			logging.Alert("store_write_failed"),
			logging.Error(err),
		)
		return
	}
	m.publish(notifications.Event{
		Kind:     notifications.KindVODFailed,
		VODUUID:  a.v.UUID,
		Basename: a.v.Basename,
		To:       string(a.v.State()),
		Message:  msg,
	})
}

// markStopped records an administrative stop. Callers hold a.mu.
func (m *Manager) markStopped(ctx context.Context, a *actor) {
	if err := m.commit(ctx, a, func(v *vod.VOD) { v.Stopped = true }); err != nil {
		return
	}
	m.logger.Info("vod stopped",
		logging.String(logging.FieldVODUUID, a.v.UUID),
		logging.String("state", string(a.v.State())),
		logging.String(logging.FieldEventType, "vod_stopped"),
	)
	m.publish(notifications.Event{
		Kind:     notifications.KindVODTransition,
		VODUUID:  a.v.UUID,
		Basename: a.v.Basename,
		From:     string(a.v.State()),
		To:       string(a.v.State()),
		Status:   "stopped",
	})
}

// publish delivers event without holding up the caller.
func (m *Manager) publish(event notifications.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.Publish(ctx, event); err != nil {
			m.logger.Debug("notification failed",
				logging.String("kind", string(event.Kind)),
				logging.String(logging.FieldVODUUID, event.VODUUID),
				logging.Error(err),
			)
		}
	}()
}

// failureMessage is the user-facing text for a failure: the tool's own error
// line when one was extracted, otherwise the error chain.
func failureMessage(err error) string {
	var tf *services.ToolFailure
	if errors.As(err, &tf) && tf.Message != "" {
		return tf.Message
	}
	var se *services.SpawnError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s could not be started: %v", se.Label, se.Err)
	}
	return err.Error()
}

func cloneVOD(v *vod.VOD) *vod.VOD {
	c := *v
	c.Segments = slices.Clone(v.Segments)
	c.Chapters = slices.Clone(v.Chapters)
	return &c
}
