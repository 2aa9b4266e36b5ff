package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"livestreamdvr/internal/deps"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/vod"
)

const captureExt = ".ts"

// LiveEvent is the upstream "broadcast went live" command.
type LiveEvent struct {
	ChannelID string
	Provider  vod.ProviderData
	StartedAt *time.Time
	// Basename overrides the generated file name root.
	Basename string
}

// WentLive creates a VOD for the broadcast and starts capturing it. A missing
// capture tool still records the VOD, flagged failed.
func (m *Manager) WentLive(ctx context.Context, ev LiveEvent) (*vod.VOD, error) {
	v, err := m.store.Create(ctx, vod.CreateParams{
		ChannelID: ev.ChannelID,
		Basename:  ev.Basename,
		Provider:  ev.Provider,
		StartedAt: ev.StartedAt,
	})
	if err != nil {
		return nil, err
	}
	a := m.addActor(v)

	a.mu.Lock()
	defer a.mu.Unlock()
	err = m.beginCapture(ctx, a)
	return cloneVOD(a.v), err
}

// beginCapture moves an idle VOD to capturing and starts its capture loop.
// A missing tool or unusable directory fails the VOD and leaves it idle.
// Callers hold a.mu.
func (m *Manager) beginCapture(ctx context.Context, a *actor) error {
	v := a.v
	bin, err := deps.Resolve("streamlink", m.cfg.Binaries.Streamlink)
	if err != nil {
		m.fail(ctx, a, err)
		return err
	}
	if err := os.MkdirAll(v.Directory, 0o755); err != nil {
		err = services.Wrap(services.ErrConfiguration, "capture", "create vod directory", v.Directory, err)
		m.fail(ctx, a, err)
		return err
	}
	if err := m.fire(ctx, a, EventLive); err != nil {
		return err
	}
	m.logger.Info("broadcast went live",
		logging.String(logging.FieldVODUUID, v.UUID),
		logging.String(logging.FieldChannelID, v.ChannelID),
		logging.String("provider", string(v.Provider())),
		logging.String("url", v.Data.StreamURL()),
		logging.String(logging.FieldEventType, "vod_live"),
	)

	m.goBackground(a, func() { m.captureLoop(a, bin) })
	return nil
}

// captureLoop supervises capture parts until the stream ends cleanly, the
// retry budget is spent, or an operator stops it.
func (m *Manager) captureLoop(a *actor, bin string) {
	ctx := m.base
	for {
		a.mu.Lock()
		if a.stop {
			m.markStopped(ctx, a)
			a.mu.Unlock()
			return
		}
		part := a.v.Retries
		segment := segmentName(a.v.Basename, part)
		job, err := m.startCapture(ctx, a, bin, segment)
		if err != nil {
			// Spawn failures are never retried.
			m.fail(ctx, a, err)
			a.mu.Unlock()
			return
		}
		a.job = job
		stopCh := a.stopCh
		a.mu.Unlock()

		select {
		case <-job.Done():
		case <-ctx.Done():
			// Detached on shutdown; the process is adopted on next start.
			return
		}
		res, waitErr := job.Wait(context.Background())

		a.mu.Lock()
		a.job = nil
		m.refreshSegments(a.v)
		switch {
		case a.stop || errors.Is(waitErr, procexec.ErrStopped):
			m.markStopped(ctx, a)
			a.mu.Unlock()
			return

		case waitErr == nil:
			if a.v.TotalSize() == 0 {
				m.fail(ctx, a, &services.ToolFailure{
					Label: "capture", Bin: res.Bin, Args: res.Args, ExitCode: res.ExitCode,
					Stdout: res.Stdout, Stderr: res.Stderr, Message: "capture produced no data",
				})
				a.mu.Unlock()
				return
			}
			m.logger.Info("capture finished",
				logging.String(logging.FieldVODUUID, a.v.UUID),
				logging.Int("segments", len(a.v.LiveSegments())),
				logging.Int64("bytes", a.v.TotalSize()),
			)
			if err := m.fire(ctx, a, EventCaptured); err != nil {
				m.fail(ctx, a, err)
				a.mu.Unlock()
				return
			}
			a.mu.Unlock()
			m.convert(a)
			return

		case services.Retryable(waitErr) && a.v.Retries < m.cfg.Capture.MaxRetries:
			retry := a.v.Retries + 1
			if err := m.commit(ctx, a, func(v *vod.VOD) { v.Retries = retry }); err != nil {
				m.fail(ctx, a, err)
				a.mu.Unlock()
				return
			}
			metrics.IncCaptureRetry()
			logging.WarnWithContext(m.logger, "capture exited; retrying", "capture_retry",
				logging.String(logging.FieldVODUUID, a.v.UUID),
				logging.Int("attempt", retry),
				logging.Int("max_retries", m.cfg.Capture.MaxRetries),
				logging.Duration("delay", m.cfg.RetryDelay()),
				logging.Error(waitErr),
				logging.String(logging.FieldImpact, "the next part starts in a new segment file"),
			)
			a.mu.Unlock()

			select {
			case <-time.After(m.cfg.RetryDelay()):
			case <-stopCh:
				a.mu.Lock()
				m.markStopped(ctx, a)
				a.mu.Unlock()
				return
			case <-ctx.Done():
				return
			}

		default:
			m.fail(ctx, a, fmt.Errorf("capture exited after %d retries: %w", a.v.Retries, waitErr))
			a.mu.Unlock()
			return
		}
	}
}

// startCapture registers the segment and spawns streamlink for it. Callers
// hold a.mu.
func (m *Manager) startCapture(ctx context.Context, a *actor, bin, segment string) (*jobs.Job, error) {
	if err := m.commit(ctx, a, func(v *vod.VOD) { v.AddSegment(segment) }); err != nil {
		return nil, err
	}
	v := a.v
	output := filepath.Join(v.Directory, segment)
	cmd := procexec.Command{
		Label: "capture",
		Bin:   bin,
		Args:  streamlinkArgs(v.Data, output, m.cfg.Capture.Quality),
		Dir:   v.Directory,
	}
	return m.registry.Supervise(ctx, m.runner, jobs.SuperviseRequest{
		Name:    captureJobName(v.UUID),
		Command: cmd,
		Metadata: map[string]any{
			jobs.MetaVODUUID:   v.UUID,
			jobs.MetaChannelID: v.ChannelID,
			jobs.MetaKind:      "capture",
			"segment":          segment,
		},
		LogName: captureJobName(v.UUID),
		OnLine: func(j *jobs.Job, line procexec.Line) {
			text := strings.TrimSpace(line.Text)
			switch {
			case strings.Contains(text, "Opening stream"):
				m.logger.Info("capture stream opened",
					logging.String(logging.FieldVODUUID, v.UUID),
					logging.String("detail", text),
				)
			case strings.HasPrefix(text, "error:"), strings.Contains(text, "[error]"):
				j.AddMetadata(map[string]any{"last_error": text})
			}
		},
	})
}

// streamlinkArgs builds the capture argv. Arguments never pass through a
// shell.
func streamlinkArgs(data vod.ProviderData, output, quality string) []string {
	if quality == "" {
		quality = "best"
	}
	args := []string{
		"--loglevel", "info",
		"--force",
		"--hls-live-restart",
		"--stream-segment-threads", "2",
	}
	args = append(args, vod.Switch[[]string](data, vod.Cases[[]string]{
		OnTwitch:  func(vod.TwitchData) []string { return []string{"--twitch-disable-ads"} },
		OnYouTube: func(vod.YouTubeData) []string { return []string{"--hls-live-edge", "3"} },
		OnKick:    func(vod.KickData) []string { return nil },
	})...)
	return append(args, "--output", output, data.StreamURL(), quality)
}

// segmentName is <basename>.ts for the first part and <basename>_partN.ts
// after each retry.
func segmentName(basename string, part int) string {
	if part == 0 {
		return basename + captureExt
	}
	return fmt.Sprintf("%s_part%d%s", basename, part, captureExt)
}

func captureJobName(id string) string { return "capture_" + id }
