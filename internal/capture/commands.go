package capture

import (
	"context"
	"errors"
	"time"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// ErrNotRunning is returned by Stop when nothing runs for the VOD.
var ErrNotRunning = errors.New("no capture or conversion running")

// Ended records the upstream "broadcast ended" signal and closes the last
// chapter at it. It never changes state: the capture process exit does that.
func (m *Manager) Ended(ctx context.Context, id string, at time.Time) error {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.v.IsFinalized {
		return &services.ValidationError{Op: "end hint", Path: id, Reason: "vod is finalized"}
	}
	tl := a.v.Timeline(m.logger)
	tl.Recalculate(a.v.StartedAt, &at)
	if err := m.commit(ctx, a, func(v *vod.VOD) {
		v.EndHintAt = &at
		v.Chapters = tl.Chapters()
	}); err != nil {
		return err
	}
	m.logger.Info("broadcast reported ended",
		logging.String(logging.FieldVODUUID, id),
		logging.String("state", string(a.v.State())),
		logging.String(logging.FieldEventType, "vod_end_hint"),
	)
	return nil
}

// Chapter appends a raw chapter event to the VOD's timeline. Out-of-order
// events return *services.TimelineAnomaly and leave the VOD unchanged.
func (m *Manager) Chapter(ctx context.Context, id string, raw timeline.Raw) (timeline.Chapter, error) {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return timeline.Chapter{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.v.IsFinalized {
		return timeline.Chapter{}, &services.ValidationError{Op: "append chapter", Path: id, Reason: "vod is finalized"}
	}
	if raw.At.IsZero() {
		raw.At = time.Now().UTC()
	}

	tl := a.v.Timeline(m.logger)
	ch, err := tl.Append(raw)
	if err != nil {
		return timeline.Chapter{}, err
	}
	if err := m.commit(ctx, a, func(v *vod.VOD) { v.Chapters = tl.Chapters() }); err != nil {
		return timeline.Chapter{}, err
	}
	m.logger.Debug("chapter appended",
		logging.String(logging.FieldVODUUID, id),
		logging.String("title", ch.Title),
		logging.String("category", ch.CategoryName),
	)
	return ch, nil
}

// Stop terminates the VOD's running capture or conversion. The VOD is
// flagged stopped, not failed, and is not retried.
func (m *Manager) Stop(ctx context.Context, id string) error {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if !a.running() {
		job := a.job
		if job == nil {
			a.mu.Unlock()
			return ErrNotRunning
		}
		// Adopted after a restart: nothing in this process waits on it.
		a.job = nil
		a.mu.Unlock()
		if err := job.Stop(m.cfg.StopGrace()); err != nil {
			return err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		m.markStopped(ctx, a)
		return nil
	}

	if !a.stop {
		a.stop = true
		close(a.stopCh)
	}
	job, cancel := a.job, a.convertCancel
	a.mu.Unlock()

	m.logger.Info("stop requested",
		logging.String(logging.FieldVODUUID, id),
		logging.String(logging.FieldEventType, "vod_stop_requested"),
	)
	if cancel != nil {
		cancel()
	}
	if job != nil {
		return job.Stop(m.cfg.StopGrace())
	}
	return nil
}

// Retry is the explicit re-run of a failed, stopped or recovered VOD. It
// clears the failure flags and converts whatever was captured; a capture
// cannot be resumed once its process is gone. A VOD that failed before its
// capture began starts capturing again.
func (m *Manager) Retry(ctx context.Context, id string) error {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running() || a.job != nil {
		return &services.ValidationError{Op: "retry", Path: id, Reason: "work is still running"}
	}

	var event Event
	switch a.v.State() {
	case vod.StateIdle:
		if !a.v.Failed {
			return &services.ValidationError{Op: "retry", Path: id, Reason: "capture has not started"}
		}
	case vod.StateCapturing:
		event = EventCaptured
	case vod.StateConverting:
		event = EventReconvert
	default:
		return &services.ValidationError{Op: "retry", Path: id, Reason: "nothing to retry in state " + string(a.v.State())}
	}

	if err := m.commit(ctx, a, func(v *vod.VOD) {
		v.Failed = false
		v.Stopped = false
		v.LastError = ""
		v.NeedsRecovery = vod.RecoveryNone
	}); err != nil {
		return err
	}
	m.logger.Info("vod retry requested",
		logging.String(logging.FieldVODUUID, id),
		logging.String("state", string(a.v.State())),
		logging.String(logging.FieldEventType, "vod_retry"),
	)
	if event == "" {
		return m.beginCapture(ctx, a)
	}
	if err := m.fire(ctx, a, event); err != nil {
		return err
	}
	m.goBackground(a, func() { m.convert(a) })
	return nil
}
