package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// convert remuxes every captured segment into the configured container and
// finalizes the VOD. It runs in the actor's background slot.
func (m *Manager) convert(a *actor) {
	a.mu.Lock()
	ctx, cancel := context.WithCancel(m.base)
	ctx = services.WithStage(services.WithVOD(ctx, a.v.UUID), string(vod.StateConverting))
	a.convertCancel = cancel
	if a.stop {
		cancel()
	}
	m.refreshSegments(a.v)
	snapshot := cloneVOD(a.v)
	a.mu.Unlock()
	defer cancel()

	outputs, err := m.remuxSegments(ctx, snapshot)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.convertCancel = nil
	switch {
	case err == nil:
	case a.stop:
		m.markStopped(m.base, a)
		return
	case m.base.Err() != nil:
		// Shutdown: left converting and flagged by Recover next start.
		return
	default:
		m.fail(m.base, a, err)
		return
	}

	if err := m.commit(m.base, a, func(v *vod.VOD) { v.Segments = outputs }); err != nil {
		m.fail(m.base, a, err)
		return
	}
	m.removeSources(snapshot, outputs)
	if err := m.fire(m.base, a, EventConverted); err != nil {
		m.fail(m.base, a, err)
	}
}

// remuxSegments converts every live segment with a bounded number of
// concurrent ffmpeg jobs. The returned list keeps segment order.
func (m *Manager) remuxSegments(ctx context.Context, v *vod.VOD) ([]vod.Segment, error) {
	segments := v.LiveSegments()
	if len(segments) == 0 {
		return nil, &services.ValidationError{Op: "convert", Path: v.UUID, Reason: "no captured segments on disk"}
	}

	metaFile := ""
	if len(segments) == 1 && len(v.Chapters) > 0 {
		path, err := m.writeChapterMetadata(v)
		if err != nil {
			logging.WarnWithContext(m.logger, "chapter metadata not written", "chapter_metadata_failed",
				logging.String(logging.FieldVODUUID, v.UUID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "converted file has no chapter markers"),
			)
		} else {
			metaFile = path
			defer os.Remove(path)
		}
	}

	outputs := make([]vod.Segment, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, m.cfg.Capture.RemuxConcurrency))
	for i, seg := range segments {
		input := v.SegmentPath(seg)
		target := convertedName(seg.Basename, m.cfg.Capture.Container)
		if target == seg.Basename {
			outputs[i] = seg
			continue
		}
		g.Go(func() error {
			res, err := m.pipeline.Remux(gctx, media.RemuxRequest{
				Input:        input,
				Output:       filepath.Join(v.Directory, target),
				MetadataFile: metaFile,
				Overwrite:    true,
				JobOptions: media.JobOptions{
					JobName: fmt.Sprintf("remux_%s_%d", v.UUID, i),
					Metadata: map[string]any{
						jobs.MetaVODUUID:   v.UUID,
						jobs.MetaChannelID: v.ChannelID,
					},
				},
			})
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.Basename, err)
			}
			size := res.Size
			outputs[i] = vod.Segment{Basename: target, Size: &size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// writeChapterMetadata renders the chapters, closed at the best known end,
// into an ffmetadata file next to the segments.
func (m *Manager) writeChapterMetadata(v *vod.VOD) (string, error) {
	end := v.EndHintAt
	if end == nil {
		now := time.Now().UTC()
		end = &now
	}
	tl := timeline.Load(v.StartedAt, end, v.Chapters, m.logger)
	path := filepath.Join(v.Directory, v.Basename+".ffmetadata")

	var b strings.Builder
	if err := timeline.WriteFFMetadata(&b, v.Basename, tl.Chapters()); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// removeSources deletes captured files that now have a converted copy.
func (m *Manager) removeSources(before *vod.VOD, after []vod.Segment) {
	kept := make(map[string]bool, len(after))
	for _, seg := range after {
		kept[seg.Basename] = true
	}
	for _, seg := range before.LiveSegments() {
		if kept[seg.Basename] {
			continue
		}
		path := before.SegmentPath(seg)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("captured segment not removed",
				logging.String(logging.FieldVODUUID, before.UUID),
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
}

// finalizeFields fills the end time, sizes, duration and chapter durations.
// It runs inside the converted transition.
func (m *Manager) finalizeFields(ctx context.Context, v *vod.VOD) {
	end := time.Now().UTC()
	if v.EndHintAt != nil {
		end = v.EndHintAt.UTC()
	}
	v.EndedAt = &end

	m.refreshSegments(v)

	if v.Duration == nil {
		var total float64
		probed := true
		for _, seg := range v.LiveSegments() {
			info, err := m.pipeline.Probe(ctx, v.SegmentPath(seg))
			if err != nil {
				logging.WarnWithContext(m.logger, "duration probe failed", "probe_failed",
					logging.String(logging.FieldVODUUID, v.UUID),
					logging.String("segment", seg.Basename),
					logging.Error(err),
					logging.String(logging.FieldImpact, "duration stays unknown"),
				)
				probed = false
				break
			}
			d, ok := info.DurationSeconds()
			if !ok {
				logging.WarnWithContext(m.logger, "segment reports no duration", "probe_failed",
					logging.String(logging.FieldVODUUID, v.UUID),
					logging.String("segment", seg.Basename),
					logging.String(logging.FieldImpact, "duration stays unknown"),
				)
				probed = false
				break
			}
			if len(info.StreamsOf("video")) == 0 && len(info.StreamsOf("audio")) == 0 && len(info.Streams) > 0 {
				logging.WarnWithContext(m.logger, "converted segment has no audio or video", "segment_empty_streams",
					logging.String(logging.FieldVODUUID, v.UUID),
					logging.String("segment", seg.Basename),
				)
			}
			m.logger.Debug("segment probed",
				logging.String(logging.FieldVODUUID, v.UUID),
				logging.Group("probe",
					logging.String("segment", seg.Basename),
					logging.Float64("duration", d),
					logging.Int("streams", len(info.Streams)),
					logging.Int("chapters", len(info.Chapters)),
				),
			)
			total += d
		}
		if probed {
			v.SetDuration(total, false)
		}
	}

	tl := v.Timeline(m.logger)
	tl.Finalize(v.EndedAt)
	v.Chapters = tl.Chapters()
}

// convertedName swaps the capture extension for container.
func convertedName(basename, container string) string {
	container = strings.TrimPrefix(strings.TrimSpace(container), ".")
	if container == "" {
		container = "mp4"
	}
	ext := filepath.Ext(basename)
	if strings.EqualFold(ext, "."+container) {
		return basename
	}
	return strings.TrimSuffix(basename, ext) + "." + container
}
