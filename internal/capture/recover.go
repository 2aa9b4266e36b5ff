package capture

import (
	"context"
	"errors"

	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/vod"
)

// RecoveryReport summarises a startup reconciliation.
type RecoveryReport struct {
	// Adopted lists VODs whose capture process survived the restart.
	Adopted []string
	// Flagged lists VODs marked for recapture or reconversion.
	Flagged []string
	Orphans []*services.OrphanedJobError
}

// Recover reconciles persisted jobs with the OS and VODs with their jobs.
// Orphaned jobs and VODs left capturing or converting without a live job are
// flagged, never resumed. Surviving capture jobs are adopted; JobGone
// handles their eventual exit.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	adopted, orphans, err := m.registry.Reconcile(ctx)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans

	owned := make(map[string]bool)
	for _, job := range adopted {
		id := job.MetadataString(jobs.MetaVODUUID)
		if id == "" {
			continue
		}
		a, err := m.actorFor(ctx, id)
		if err != nil {
			m.logger.Warn("adopted job has no vod", logging.String(logging.FieldJobName, job.Name()), logging.Error(err))
			continue
		}
		a.mu.Lock()
		if job.MetadataString(jobs.MetaKind) == "capture" {
			a.job = job
		}
		a.mu.Unlock()
		owned[id] = true
		report.Adopted = append(report.Adopted, id)
	}

	for _, orphan := range orphans {
		if orphan.VODUUID == "" || owned[orphan.VODUUID] {
			continue
		}
		flagged, err := m.flagForRecovery(ctx, orphan.VODUUID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return report, err
		}
		if flagged {
			owned[orphan.VODUUID] = true
			report.Flagged = append(report.Flagged, orphan.VODUUID)
		}
	}

	active, err := m.store.ListActive(ctx)
	if err != nil {
		return report, err
	}
	for _, v := range active {
		if owned[v.UUID] {
			continue
		}
		flagged, err := m.flagForRecovery(ctx, v.UUID)
		if err != nil {
			return report, err
		}
		if flagged {
			report.Flagged = append(report.Flagged, v.UUID)
		}
	}

	m.logger.Info("recovery finished",
		logging.Int("adopted", len(report.Adopted)),
		logging.Int("flagged", len(report.Flagged)),
		logging.Int("orphans", len(report.Orphans)),
	)
	return report, nil
}

// flagForRecovery marks a capturing or converting VOD as needing work. Failed
// and stopped VODs already carry their outcome and are left alone.
func (m *Manager) flagForRecovery(ctx context.Context, id string) (bool, error) {
	a, err := m.actorFor(ctx, id)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running() || a.v.Failed || a.v.Stopped {
		return false, nil
	}
	var need vod.Recovery
	switch a.v.State() {
	case vod.StateCapturing:
		need = vod.RecoveryRecapture
	case vod.StateConverting:
		need = vod.RecoveryReconvert
	default:
		return false, nil
	}
	if a.v.NeedsRecovery == need {
		return true, nil
	}
	if err := m.commit(ctx, a, func(v *vod.VOD) {
		v.NeedsRecovery = need
		m.refreshSegments(v)
	}); err != nil {
		return false, err
	}
	logging.WarnWithContext(m.logger, "vod needs recovery", "vod_needs_recovery",
		logging.String(logging.FieldVODUUID, id),
		logging.String("state", string(a.v.State())),
		logging.String("recovery", string(need)),
		logging.String(logging.FieldErrorHint, "run `livestreamdvr vod retry` to convert what was captured"),
		logging.String(logging.FieldImpact, "vod stays unfinished until retried"),
	)
	return true, nil
}

// JobGone is the liveness watcher callback for adopted jobs. A capture that
// ended while nobody supervised it leaves its segments for reconversion.
func (m *Manager) JobGone(job *jobs.Job) {
	id := job.MetadataString(jobs.MetaVODUUID)
	if id == "" {
		return
	}
	ctx := m.base
	a, err := m.actorFor(ctx, id)
	if err != nil {
		m.logger.Warn("finished job has no vod", logging.String(logging.FieldJobName, job.Name()), logging.Error(err))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.job == job {
		a.job = nil
	}
	if a.v.State() != vod.StateCapturing || a.v.Failed || a.v.Stopped {
		return
	}
	if err := m.commit(ctx, a, func(v *vod.VOD) {
		v.NeedsRecovery = vod.RecoveryReconvert
		m.refreshSegments(v)
	}); err != nil {
		return
	}
	m.logger.Info("adopted capture finished",
		logging.String(logging.FieldVODUUID, id),
		logging.Int64("bytes", a.v.TotalSize()),
		logging.String(logging.FieldEventType, "adopted_capture_finished"),
	)
}
